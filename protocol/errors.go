// Copyright 2015-2018 trivago N.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"fmt"
)

// ErrorCode is a broker-reported status code attached to per-partition
// results.
type ErrorCode int16

// The error codes used for control flow by the client.
const (
	ErrUnknown                      ErrorCode = -1
	ErrNoError                      ErrorCode = 0
	ErrOffsetOutOfRange             ErrorCode = 1
	ErrInvalidMessage               ErrorCode = 2
	ErrUnknownTopicOrPartition      ErrorCode = 3
	ErrInvalidMessageSize           ErrorCode = 4
	ErrLeaderNotAvailable           ErrorCode = 5
	ErrNotPartitionLeader           ErrorCode = 6
	ErrRequestTimedOut              ErrorCode = 7
	ErrBrokerNotAvailable           ErrorCode = 8
	ErrReplicaNotAvailable          ErrorCode = 9
	ErrMessageSizeTooLarge          ErrorCode = 10
	ErrStaleControllerEpoch         ErrorCode = 11
	ErrOffsetMetadataTooLarge       ErrorCode = 12
	ErrOffsetsLoadInProgress        ErrorCode = 14
	ErrCoordinatorNotAvailable      ErrorCode = 15
	ErrNotCoordinator               ErrorCode = 16
	ErrNotEnoughReplicas            ErrorCode = 19
	ErrNotEnoughReplicasAfterAppend ErrorCode = 20
)

var errorNames = map[ErrorCode]string{
	ErrUnknown:                      "unknown",
	ErrNoError:                      "no_error",
	ErrOffsetOutOfRange:             "offset_out_of_range",
	ErrInvalidMessage:               "invalid_message",
	ErrUnknownTopicOrPartition:      "unknown_topic_or_partition",
	ErrInvalidMessageSize:           "invalid_message_size",
	ErrLeaderNotAvailable:           "leader_not_available",
	ErrNotPartitionLeader:           "not_partition_leader",
	ErrRequestTimedOut:              "request_timed_out",
	ErrBrokerNotAvailable:           "broker_not_available",
	ErrReplicaNotAvailable:          "replica_not_available",
	ErrMessageSizeTooLarge:          "message_size_too_large",
	ErrStaleControllerEpoch:         "stale_controller_epoch",
	ErrOffsetMetadataTooLarge:       "offset_metadata_too_large",
	ErrOffsetsLoadInProgress:        "offsets_load_in_progress",
	ErrCoordinatorNotAvailable:      "coordinator_not_available",
	ErrNotCoordinator:               "not_coordinator",
	ErrNotEnoughReplicas:            "not_enough_replicas",
	ErrNotEnoughReplicasAfterAppend: "not_enough_replicas_after_append",
}

// retriableCodes is the set of codes marked "retriable" by the Kafka docs.
// Operations hitting one of these may succeed on a later attempt without
// operator intervention.
var retriableCodes = map[ErrorCode]bool{
	ErrInvalidMessage:               true,
	ErrUnknownTopicOrPartition:      true,
	ErrLeaderNotAvailable:           true,
	ErrNotPartitionLeader:           true,
	ErrRequestTimedOut:              true,
	ErrOffsetsLoadInProgress:        true,
	ErrCoordinatorNotAvailable:      true,
	ErrNotCoordinator:               true,
	ErrNotEnoughReplicas:            true,
	ErrNotEnoughReplicasAfterAppend: true,
}

// String returns the symbolic name of the error code.
func (c ErrorCode) String() string {
	if name, known := errorNames[c]; known {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int16(c))
}

// Retriable reports whether the code indicates a condition that may clear up
// on its own.
func (c ErrorCode) Retriable() bool {
	return retriableCodes[c]
}
