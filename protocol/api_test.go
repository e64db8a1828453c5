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
	"reflect"
	"testing"

	"github.com/trivago/tgo/ttesting"
)

func TestRequestPreamble(t *testing.T) {
	expect := ttesting.NewExpect(t)

	payload := EncodeRequest(&GroupCoordinatorRequest{Group: "worker"}, 1337, "kiel")

	d := NewDecoder(payload)
	size := d.Int32()
	expect.Equal(len(payload)-4, int(size))
	expect.Equal(int16(APIGroupCoordinator), d.Int16())
	expect.Equal(int16(0), d.Int16())
	expect.Equal(int32(1337), d.Int32())
	expect.Equal("kiel", d.String())
	expect.Equal("worker", d.String())
	expect.NoError(d.Err())
	expect.Equal(0, d.Remaining())
}

func roundTripRequest(expect ttesting.Expect, request Request) {
	payload := EncodeRequest(request, 42, ClientID)

	envelope, err := DecodeRequest(payload[4:])
	expect.NoError(err)
	expect.Equal(request.APIKey(), envelope.API)
	expect.Equal(int32(42), envelope.CorrelationID)
	expect.Equal(ClientID, envelope.ClientID)
	expect.True(reflect.DeepEqual(request, envelope.Body))
}

func roundTripResponse(expect ttesting.Expect, response Response) {
	payload := EncodeResponse(response, 42)

	d := NewDecoder(payload)
	d.Int32() // size
	expect.Equal(int32(42), d.Int32())

	parsed, err := DecodeResponse(response.APIKey(), payload[8:])
	expect.NoError(err)
	expect.True(reflect.DeepEqual(response, parsed))
}

func TestRequestRoundTrips(t *testing.T) {
	expect := ttesting.NewExpect(t)

	messageSet, err := NewMessageSet(CompressionNone, []*Message{{Value: []byte("foo")}})
	expect.NoError(err)

	roundTripRequest(expect, &MetadataRequest{Topics: []string{"test.topic"}})
	roundTripRequest(expect, &MetadataRequest{Topics: []string{}})
	roundTripRequest(expect, &ProduceRequest{
		RequiredAcks: -1,
		Timeout:      500,
		Topics: []*ProduceTopicRequest{
			{Name: "test.topic", Partitions: []*ProducePartitionRequest{
				{PartitionID: 1, MessageSet: messageSet},
			}},
		},
	})
	roundTripRequest(expect, &FetchRequest{
		ReplicaID:   ConsumerReplicaID,
		MaxWaitTime: 1000,
		MinBytes:    1,
		Topics: []*FetchTopicRequest{
			{Name: "test.topic", Partitions: []*FetchPartitionRequest{
				{PartitionID: 0, Offset: 80, MaxBytes: 65536},
			}},
		},
	})
	roundTripRequest(expect, &OffsetRequest{
		ReplicaID: ConsumerReplicaID,
		Topics: []*OffsetTopicRequest{
			{Name: "test.topic", Partitions: []*OffsetPartitionRequest{
				{PartitionID: 0, Time: TimeLatest, MaxOffsets: 1},
			}},
		},
	})
	roundTripRequest(expect, &OffsetCommitV0Request{
		Group: "worker",
		Topics: []*OffsetCommitTopicRequest{
			{Name: "test.topic", Partitions: []*OffsetCommitPartitionRequest{
				{PartitionID: 0, Offset: 12, Metadata: "committed by tester"},
			}},
		},
	})
	roundTripRequest(expect, &OffsetFetchRequest{
		Group: "worker",
		Topics: []*OffsetFetchTopicRequest{
			{Name: "test.topic", Partitions: []int32{0, 1}},
		},
	})
	roundTripRequest(expect, &GroupCoordinatorRequest{Group: "worker"})
}

func TestResponseRoundTrips(t *testing.T) {
	expect := ttesting.NewExpect(t)

	roundTripResponse(expect, &MetadataResponse{
		Brokers: []*Broker{
			{BrokerID: 1, Host: "kafka01", Port: 9092},
			{BrokerID: 3, Host: "kafka03", Port: 9000},
		},
		Topics: []*TopicMetadata{
			{Name: "test.topic", Partitions: []*PartitionMetadata{
				{PartitionID: 0, Leader: 1, Replicas: []int32{1, 3}, ISRs: []int32{1}},
			}},
		},
	})
	roundTripResponse(expect, &ProduceResponse{
		Topics: []*ProduceTopicResponse{
			{Name: "test.topic", Partitions: []*ProducePartitionResponse{
				{PartitionID: 0, ErrorCode: ErrNoError, Offset: 9},
			}},
		},
	})
	roundTripResponse(expect, &FetchResponse{
		Topics: []*FetchTopicResponse{
			{Name: "test.topic", Partitions: []*FetchPartitionResponse{
				{
					PartitionID:   0,
					ErrorCode:     ErrNoError,
					HighwaterMark: 2,
					MessageSet: &MessageSet{Messages: []*Message{
						{Offset: 0, Value: []byte(`{"foo":"bar"}`)},
						{Offset: 1, Value: []byte(`{"bwee":"bwoo"}`)},
					}},
				},
			}},
		},
	})
	roundTripResponse(expect, &OffsetResponse{
		Topics: []*OffsetTopicResponse{
			{Name: "test.topic", Partitions: []*OffsetPartitionResponse{
				{PartitionID: 0, ErrorCode: ErrNoError, Offsets: []int64{80}},
			}},
		},
	})
	roundTripResponse(expect, &OffsetCommitResponse{
		Topics: []*OffsetCommitTopicResponse{
			{Name: "test.topic", Partitions: []*OffsetCommitPartitionResponse{
				{PartitionID: 0, ErrorCode: ErrNoError},
			}},
		},
	})
	roundTripResponse(expect, &OffsetFetchResponse{
		Topics: []*OffsetFetchTopicResponse{
			{Name: "test.topic", Partitions: []*OffsetFetchPartitionResponse{
				{PartitionID: 0, Offset: 12, Metadata: "committed by tester", ErrorCode: ErrNoError},
			}},
		},
	})
	roundTripResponse(expect, &GroupCoordinatorResponse{
		ErrorCode:       ErrNoError,
		CoordinatorID:   8,
		CoordinatorHost: "kafka08",
		CoordinatorPort: 9092,
	})
}

func TestErrorCodeNames(t *testing.T) {
	expect := ttesting.NewExpect(t)

	expect.Equal("no_error", ErrNoError.String())
	expect.Equal("offset_metadata_too_large", ErrOffsetMetadataTooLarge.String())

	expect.True(ErrNotPartitionLeader.Retriable())
	expect.True(ErrOffsetsLoadInProgress.Retriable())
	expect.True(ErrNotEnoughReplicas.Retriable())
	expect.False(ErrOffsetOutOfRange.Retriable())
	expect.False(ErrMessageSizeTooLarge.Retriable())
	expect.False(ErrNoError.Retriable())
}
