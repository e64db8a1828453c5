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

package clients

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/protocol"
)

// StartPosition describes where consumption of a topic should begin. The
// zero value starts at the latest offset.
type StartPosition struct {
	kind  startKind
	time  int64
	delta time.Duration
}

type startKind int

const (
	startLatest startKind = iota
	startBeginning
	startAtTime
	startSince
)

// StartLatest begins consuming at the newest offset.
var StartLatest = StartPosition{kind: startLatest}

// StartBeginning begins consuming at the oldest available offset.
var StartBeginning = StartPosition{kind: startBeginning}

// StartAtTime begins consuming at the offsets in effect at the given wall
// clock instant.
func StartAtTime(instant time.Time) StartPosition {
	return StartPosition{kind: startAtTime, time: instant.Unix()}
}

// StartSince begins consuming at the offsets in effect the given duration
// ago.
func StartSince(delta time.Duration) StartPosition {
	return StartPosition{kind: startSince, delta: delta}
}

// offsetTime resolves the position to the offset api's time value: the
// special latest/beginning markers or epoch seconds.
func (s StartPosition) offsetTime() int64 {
	switch s.kind {
	case startBeginning:
		return protocol.TimeBeginning
	case startAtTime:
		return s.time
	case startSince:
		return time.Now().Add(-s.delta).Unix()
	default:
		return protocol.TimeLatest
	}
}

// SingleConsumer consumes topics in isolation, without coordinating with
// other consumers. It reads all partitions of every topic and determines
// offsets via the stateless offset api.
type SingleConsumer struct {
	*Consumer
}

// NewSingleConsumer creates a SingleConsumer for the given bootstrap
// brokers. A nil config uses the defaults.
func NewSingleConsumer(brokers []string, config *ConsumerConfig) (*SingleConsumer, error) {
	s := &SingleConsumer{
		Consumer: newConsumer(brokers, config),
	}
	s.strategy = s
	s.handlers = s

	return s, nil
}

// Close winds the consumer down. The single consumer keeps no external
// state, so this only stops the cluster.
func (s *SingleConsumer) Close() error {
	return s.close(func() error { return nil })
}

// Consume fetches from the topic starting at the given position, returning
// deserialized values. The start position only matters for the first fetch
// of a topic; afterwards the tracked offsets are used.
func (s *SingleConsumer) Consume(topic string, start StartPosition) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consume(topic, start)
}

// allocation for a single consumer is every partition of every known topic.
func (s *SingleConsumer) allocation() map[string][]int32 {
	return s.cluster.Topics()
}

// determineOffsets queries the offset api of each partition leader for the
// offsets in effect at the start position.
func (s *SingleConsumer) determineOffsets(topic string, start StartPosition) error {
	logrus.WithFields(logrus.Fields{
		"topic": topic,
		"start": start.offsetTime(),
	}).Info("Getting offsets for topic")

	offsetTime := start.offsetTime()

	// leader -> partition requests
	ordered := make(map[int32][]*protocol.OffsetPartitionRequest)
	for _, partitionID := range s.allocation()[topic] {
		leader, known := s.cluster.GetLeader(topic, partitionID)
		if !known {
			s.healNeeded = true
			continue
		}
		ordered[leader] = append(ordered[leader], &protocol.OffsetPartitionRequest{
			PartitionID: partitionID,
			Time:        offsetTime,
			MaxOffsets:  1,
		})
	}

	requests := make(map[int32]protocol.Request, len(ordered))
	for leader, partitions := range ordered {
		requests[leader] = &protocol.OffsetRequest{
			ReplicaID: protocol.ConsumerReplicaID,
			Topics: []*protocol.OffsetTopicRequest{
				{Name: topic, Partitions: partitions},
			},
		}
	}

	logrus.WithField("leaders", len(requests)).Debug("Sending offset requests")

	_, err := s.send(requests, s.handlers)
	return err
}

// handleOffsetResponse records returned offsets. Retriable codes mark the
// cluster for healing and desync the topic; a fatal code still finishes the
// partition loop before reporting NoOffsetsError, so partitions that did
// succeed keep their offsets.
func (s *SingleConsumer) handleOffsetResponse(response *protocol.OffsetResponse) handlerResult {
	if len(response.Topics) == 0 {
		return handlerResult{}
	}

	var fatal error

	topic := response.Topics[0].Name
	for _, partition := range response.Topics[0].Partitions {
		code := partition.ErrorCode
		switch {
		case code == protocol.ErrNoError:
			if len(partition.Offsets) == 0 {
				continue
			}
			if s.offsets[topic] == nil {
				s.offsets[topic] = make(map[int32]int64)
			}
			s.offsets[topic][partition.PartitionID] = partition.Offsets[0]

		case code.Retriable():
			s.healNeeded = true
			delete(s.synced, topic)

		default:
			logrus.WithFields(logrus.Fields{
				"error":     code.String(),
				"topic":     topic,
				"partition": partition.PartitionID,
			}).Error("Error determining offsets")
			fatal = kiel.NewNoOffsetsError(topic)
		}
	}

	return handlerResult{err: fatal}
}
