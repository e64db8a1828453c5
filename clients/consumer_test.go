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
	"sync"
	"testing"
	"time"

	"github.com/trivago/tgo/ttesting"

	"github.com/wglass/kiel/kafkatest"
	"github.com/wglass/kiel/protocol"
)

// offsetsAt answers offset requests with the given offset for every
// requested partition.
func offsetsAt(offset int64) kafkatest.RequestHandler {
	return func(request protocol.Request) protocol.Response {
		offsetRequest := request.(*protocol.OffsetRequest)

		response := &protocol.OffsetResponse{}
		for _, topic := range offsetRequest.Topics {
			topicResponse := &protocol.OffsetTopicResponse{Name: topic.Name}
			for _, partition := range topic.Partitions {
				topicResponse.Partitions = append(topicResponse.Partitions, &protocol.OffsetPartitionResponse{
					PartitionID: partition.PartitionID,
					ErrorCode:   protocol.ErrNoError,
					Offsets:     []int64{offset},
				})
			}
			response.Topics = append(response.Topics, topicResponse)
		}
		return response
	}
}

// fetchRecorder answers fetch requests from a per-partition message script,
// recording the offsets that were asked for. Scripted messages are only
// delivered when the requested offset is at or below their offset.
type fetchRecorder struct {
	mu       sync.Mutex
	messages map[int32][]*protocol.Message
	offsets  map[int32][]int64
	failWith protocol.ErrorCode
	failOnce bool
}

func newFetchRecorder() *fetchRecorder {
	return &fetchRecorder{
		messages: make(map[int32][]*protocol.Message),
		offsets:  make(map[int32][]int64),
	}
}

func (f *fetchRecorder) script(partitionID int32, offset int64, value string) {
	f.messages[partitionID] = append(f.messages[partitionID], &protocol.Message{
		Offset: offset,
		Value:  []byte(value),
	})
}

func (f *fetchRecorder) requestedOffsets(partitionID int32) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.offsets[partitionID]...)
}

func (f *fetchRecorder) handle(request protocol.Request) protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	fetch := request.(*protocol.FetchRequest)

	response := &protocol.FetchResponse{}
	for _, topic := range fetch.Topics {
		topicResponse := &protocol.FetchTopicResponse{Name: topic.Name}
		for _, partition := range topic.Partitions {
			f.offsets[partition.PartitionID] = append(f.offsets[partition.PartitionID], partition.Offset)

			partitionResponse := &protocol.FetchPartitionResponse{
				PartitionID: partition.PartitionID,
				MessageSet:  &protocol.MessageSet{},
			}
			if f.failWith != protocol.ErrNoError {
				partitionResponse.ErrorCode = f.failWith
				if f.failOnce {
					f.failWith = protocol.ErrNoError
				}
			} else {
				for _, message := range f.messages[partition.PartitionID] {
					if message.Offset >= partition.Offset {
						partitionResponse.MessageSet.Messages = append(
							partitionResponse.MessageSet.Messages, message,
						)
					}
				}
			}
			topicResponse.Partitions = append(topicResponse.Partitions, partitionResponse)
		}
		response.Topics = append(response.Topics, topicResponse)
	}
	return response
}

func TestSingleConsumerAdvancesOffsets(t *testing.T) {
	expect := ttesting.NewExpect(t)

	servers := startServers(expect, 2)
	for _, server := range servers {
		defer server.Close()
	}

	host3, port3 := servers[0].HostPort()
	host8, port8 := servers[1].HostPort()

	metadata := &protocol.MetadataResponse{
		Brokers: []*protocol.Broker{
			{BrokerID: 3, Host: host3, Port: int32(port3)},
			{BrokerID: 8, Host: host8, Port: int32(port8)},
		},
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 0, Leader: 3},
				{PartitionID: 1, Leader: 8},
			}},
		},
	}

	fetches := newFetchRecorder()
	fetches.script(0, 0, `{"foo":"bar"}`)
	fetches.script(0, 1, `{"bwee":"bwoo"}`)
	fetches.script(1, 0, `{"meow":"bark"}`)

	for _, server := range servers {
		server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
			return metadata
		})
		server.Handle(protocol.APIOffset, offsetsAt(0))
		server.Handle(protocol.APIFetch, fetches.handle)
	}

	consumer, err := NewSingleConsumer([]string{servers[0].Addr()}, nil)
	expect.NoError(err)
	expect.NoError(consumer.Connect())
	defer consumer.Close()

	messages, err := consumer.Consume("test.topic", StartBeginning)
	expect.NoError(err)
	expect.Equal(3, len(messages))

	values := map[string]bool{}
	for _, message := range messages {
		for key := range message.(map[string]interface{}) {
			values[key] = true
		}
	}
	expect.True(values["foo"])
	expect.True(values["bwee"])
	expect.True(values["meow"])

	expect.Equal(map[int32]int64{0: 2, 1: 1}, consumer.Offsets("test.topic"))

	// the next consume picks up where the offsets left off
	_, err = consumer.Consume("test.topic", StartBeginning)
	expect.NoError(err)

	expect.Equal([]int64{0, 2}, fetches.requestedOffsets(0))
	expect.Equal([]int64{0, 1}, fetches.requestedOffsets(1))
}

func TestSingleConsumerResyncsOnOffsetOutOfRange(t *testing.T) {
	expect := ttesting.NewExpect(t)

	server := kafkatest.NewServer()
	expect.NoError(server.Start())
	defer server.Close()

	host, port := server.HostPort()
	metadata := &protocol.MetadataResponse{
		Brokers: []*protocol.Broker{{BrokerID: 3, Host: host, Port: int32(port)}},
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 0, Leader: 3},
			}},
		},
	}

	fetches := newFetchRecorder()
	fetches.failWith = protocol.ErrOffsetOutOfRange
	fetches.failOnce = true
	fetches.script(0, 5, `{"foo":"bar"}`)

	var offsetCalls int
	var offsetMu sync.Mutex
	server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
		return metadata
	})
	server.Handle(protocol.APIOffset, func(request protocol.Request) protocol.Response {
		offsetMu.Lock()
		offsetCalls++
		offsetMu.Unlock()
		return offsetsAt(5)(request)
	})
	server.Handle(protocol.APIFetch, fetches.handle)

	consumer, err := NewSingleConsumer([]string{server.Addr()}, nil)
	expect.NoError(err)
	expect.NoError(consumer.Connect())
	defer consumer.Close()

	// the out-of-range fetch yields nothing and desyncs the topic
	messages, err := consumer.Consume("test.topic", StartLatest)
	expect.NoError(err)
	expect.Equal(0, len(messages))

	// offsets are re-determined and the returned offset is used
	messages, err = consumer.Consume("test.topic", StartLatest)
	expect.NoError(err)
	expect.Equal(1, len(messages))

	offsetMu.Lock()
	expect.Equal(2, offsetCalls)
	offsetMu.Unlock()

	expect.Equal([]int64{5, 5}, fetches.requestedOffsets(0))
}

func TestSingleConsumerSkipsUndeserializableMessages(t *testing.T) {
	expect := ttesting.NewExpect(t)

	server := kafkatest.NewServer()
	expect.NoError(server.Start())
	defer server.Close()

	host, port := server.HostPort()
	metadata := &protocol.MetadataResponse{
		Brokers: []*protocol.Broker{{BrokerID: 3, Host: host, Port: int32(port)}},
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 0, Leader: 3},
			}},
		},
	}

	fetches := newFetchRecorder()
	fetches.script(0, 0, `{"foo":"bar"}`)
	fetches.script(0, 1, `not json at all`)
	fetches.script(0, 2, `{"bwee":"bwoo"}`)

	server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
		return metadata
	})
	server.Handle(protocol.APIOffset, offsetsAt(0))
	server.Handle(protocol.APIFetch, fetches.handle)

	consumer, err := NewSingleConsumer([]string{server.Addr()}, nil)
	expect.NoError(err)
	expect.NoError(consumer.Connect())
	defer consumer.Close()

	messages, err := consumer.Consume("test.topic", StartBeginning)
	expect.NoError(err)

	// the bad message is skipped, the rest still advance the offset
	expect.Equal(2, len(messages))
	expect.Equal(map[int32]int64{0: 3}, consumer.Offsets("test.topic"))
}

func TestStartPositionOffsetTimes(t *testing.T) {
	expect := ttesting.NewExpect(t)

	expect.Equal(int64(protocol.TimeLatest), StartLatest.offsetTime())
	expect.Equal(int64(protocol.TimeLatest), StartPosition{}.offsetTime())
	expect.Equal(int64(protocol.TimeBeginning), StartBeginning.offsetTime())

	instant := time.Date(2016, time.March, 3, 12, 0, 0, 0, time.UTC)
	expect.Equal(instant.Unix(), StartAtTime(instant).offsetTime())

	since := StartSince(time.Hour).offsetTime()
	now := time.Now().Unix()
	expect.True(since >= now-3601 && since <= now-3599)
}
