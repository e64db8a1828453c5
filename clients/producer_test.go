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
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/trivago/tgo/ttesting"

	"github.com/wglass/kiel/kafkatest"
	"github.com/wglass/kiel/protocol"
)

// ackProduce answers a produce request with no_error for every partition.
func ackProduce(request protocol.Request) protocol.Response {
	produce := request.(*protocol.ProduceRequest)

	response := &protocol.ProduceResponse{}
	for _, topic := range produce.Topics {
		topicResponse := &protocol.ProduceTopicResponse{Name: topic.Name}
		for _, partition := range topic.Partitions {
			topicResponse.Partitions = append(topicResponse.Partitions, &protocol.ProducePartitionResponse{
				PartitionID: partition.PartitionID,
				ErrorCode:   protocol.ErrNoError,
			})
		}
		response.Topics = append(response.Topics, topicResponse)
	}
	return response
}

// failProduceWith answers a produce request with the given code for every
// partition.
func failProduceWith(code protocol.ErrorCode) kafkatest.RequestHandler {
	return func(request protocol.Request) protocol.Response {
		produce := request.(*protocol.ProduceRequest)

		response := &protocol.ProduceResponse{}
		for _, topic := range produce.Topics {
			topicResponse := &protocol.ProduceTopicResponse{Name: topic.Name}
			for _, partition := range topic.Partitions {
				topicResponse.Partitions = append(topicResponse.Partitions, &protocol.ProducePartitionResponse{
					PartitionID: partition.PartitionID,
					ErrorCode:   code,
				})
			}
			response.Topics = append(response.Topics, topicResponse)
		}
		return response
	}
}

func startServers(expect ttesting.Expect, count int) []*kafkatest.Server {
	servers := make([]*kafkatest.Server, count)
	for i := range servers {
		servers[i] = kafkatest.NewServer()
		expect.NoError(servers[i].Start())
	}
	return servers
}

func TestProducerRejectsUnknownCompression(t *testing.T) {
	expect := ttesting.NewExpect(t)

	config := NewProducerConfig()
	config.Compression = protocol.Compression(7)

	_, err := NewProducer([]string{"localhost"}, config)
	expect.NotNil(err)
}

func TestProducerRoutesByKey(t *testing.T) {
	expect := ttesting.NewExpect(t)

	servers := startServers(expect, 3)
	for _, server := range servers {
		defer server.Close()
		server.Handle(protocol.APIProduce, ackProduce)
	}

	brokers := []*protocol.Broker{}
	for i, brokerID := range []int32{1, 8, 3} {
		host, port := servers[i].HostPort()
		brokers = append(brokers, &protocol.Broker{BrokerID: brokerID, Host: host, Port: int32(port)})
	}

	// leaders (1, 1, 8, 3) for partitions 0..3
	metadata := &protocol.MetadataResponse{
		Brokers: brokers,
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 0, Leader: 1},
				{PartitionID: 1, Leader: 1},
				{PartitionID: 2, Leader: 8},
				{PartitionID: 3, Leader: 3},
			}},
		},
	}
	for _, server := range servers {
		server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
			return metadata
		})
	}

	config := NewProducerConfig()
	config.KeyMaker = func(message interface{}) ([]byte, error) {
		key := message.(map[string]interface{})["key"].(int)
		return []byte(strconv.Itoa(key)), nil
	}
	config.Partitioner = func(key []byte, partitions []int32) int32 {
		idx, _ := strconv.Atoi(string(key))
		return partitions[idx]
	}

	producer, err := NewProducer([]string{servers[0].Addr()}, config)
	expect.NoError(err)
	expect.NoError(producer.Connect())
	defer producer.Close()

	for _, message := range []map[string]interface{}{
		{"key": 0, "msg": "foo"},
		{"key": 1, "msg": "bar"},
		{"key": 3, "msg": "bwee"},
		{"key": 0, "msg": "bwoo"},
	} {
		expect.NoError(producer.Produce("test.topic", message))
	}

	producedPartitions := func(server *kafkatest.Server) []int32 {
		partitions := []int32{}
		for _, request := range server.ReceivedByAPI(protocol.APIProduce) {
			produce := request.(*protocol.ProduceRequest)
			expect.Equal(1, len(produce.Topics))
			expect.Equal("test.topic", produce.Topics[0].Name)
			for _, partition := range produce.Topics[0].Partitions {
				expect.Equal(1, len(partition.MessageSet.Messages))
				partitions = append(partitions, partition.PartitionID)
			}
		}
		return partitions
	}

	expect.Equal([]int32{0, 1, 0}, producedPartitions(servers[0]))
	expect.Equal([]int32{}, producedPartitions(servers[1]))
	expect.Equal([]int32{3}, producedPartitions(servers[2]))
}

func TestProducerRetriesRetriableErrors(t *testing.T) {
	expect := ttesting.NewExpect(t)

	server := kafkatest.NewServer()
	expect.NoError(server.Start())
	defer server.Close()

	host, port := server.HostPort()
	server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
		return &protocol.MetadataResponse{
			Brokers: []*protocol.Broker{{BrokerID: 1, Host: host, Port: int32(port)}},
			Topics: []*protocol.TopicMetadata{
				{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
					{PartitionID: 0, Leader: 1},
				}},
			},
		}
	})

	var produceCalls int32
	server.Handle(protocol.APIProduce, func(request protocol.Request) protocol.Response {
		if atomic.AddInt32(&produceCalls, 1) == 1 {
			return failProduceWith(protocol.ErrNotPartitionLeader)(request)
		}
		return ackProduce(request)
	})

	producer, err := NewProducer([]string{server.Addr()}, nil)
	expect.NoError(err)
	expect.NoError(producer.Connect())
	defer producer.Close()

	expect.NoError(producer.Produce("test.topic", map[string]interface{}{"msg": "foo"}))

	// the first produce hit a retriable error and went back into the
	// unsent buffer
	expect.Equal(1, producer.UnsentCount())

	expect.NoError(producer.Produce("test.topic", map[string]interface{}{"msg": "bar"}))
	expect.Equal(0, producer.UnsentCount())

	requests := server.ReceivedByAPI(protocol.APIProduce)
	expect.Equal(2, len(requests))

	second := requests[1].(*protocol.ProduceRequest)
	expect.Equal(2, len(second.Topics[0].Partitions[0].MessageSet.Messages))
}

func TestProducerAbandonsFatalErrors(t *testing.T) {
	expect := ttesting.NewExpect(t)

	server := kafkatest.NewServer()
	expect.NoError(server.Start())
	defer server.Close()

	host, port := server.HostPort()
	server.Handle(protocol.APIMetadata, func(protocol.Request) protocol.Response {
		return &protocol.MetadataResponse{
			Brokers: []*protocol.Broker{{BrokerID: 1, Host: host, Port: int32(port)}},
			Topics: []*protocol.TopicMetadata{
				{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
					{PartitionID: 0, Leader: 1},
				}},
			},
		}
	})
	server.Handle(protocol.APIProduce, failProduceWith(protocol.ErrMessageSizeTooLarge))

	producer, err := NewProducer([]string{server.Addr()}, nil)
	expect.NoError(err)
	expect.NoError(producer.Connect())
	defer producer.Close()

	expect.NoError(producer.Produce("test.topic", map[string]interface{}{"msg": "foo"}))

	// fatal codes drop the messages instead of retrying them
	expect.Equal(0, producer.UnsentCount())
	expect.Equal(1, len(server.ReceivedByAPI(protocol.APIProduce)))
}

func TestProducerQueuesRetryForUnknownLeader(t *testing.T) {
	expect := ttesting.NewExpect(t)

	servers := startServers(expect, 2)
	for _, server := range servers {
		defer server.Close()
		server.Handle(protocol.APIProduce, ackProduce)
	}

	host1, port1 := servers[0].HostPort()
	host3, port3 := servers[1].HostPort()

	broker3 := &protocol.Broker{BrokerID: 3, Host: host3, Port: int32(port3)}
	broker1 := &protocol.Broker{BrokerID: 1, Host: host1, Port: int32(port1)}

	// partition 0's leader only shows up in later metadata
	before := &protocol.MetadataResponse{
		Brokers: []*protocol.Broker{broker3},
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 3, Leader: 3},
			}},
		},
	}
	after := &protocol.MetadataResponse{
		Brokers: []*protocol.Broker{broker1, broker3},
		Topics: []*protocol.TopicMetadata{
			{Name: "test.topic", Partitions: []*protocol.PartitionMetadata{
				{PartitionID: 0, Leader: 1},
				{PartitionID: 3, Leader: 3},
			}},
		},
	}

	var metadataCalls int32
	handler := func(protocol.Request) protocol.Response {
		if atomic.AddInt32(&metadataCalls, 1) == 1 {
			return before
		}
		return after
	}
	for _, server := range servers {
		server.Handle(protocol.APIMetadata, handler)
	}

	config := NewProducerConfig()
	config.Partitioner = func([]byte, []int32) int32 { return 0 }

	producer, err := NewProducer([]string{servers[1].Addr()}, config)
	expect.NoError(err)
	expect.NoError(producer.Connect())
	defer producer.Close()

	// leader for partition 0 is unknown: queued for retry, heal performed
	expect.NoError(producer.Produce("test.topic", map[string]interface{}{"msg": "foo"}))
	expect.Equal(1, producer.UnsentCount())

	// after the heal installed broker 1, both messages go out together
	expect.NoError(producer.Produce("test.topic", map[string]interface{}{"msg": "bar"}))
	expect.Equal(0, producer.UnsentCount())

	requests := servers[0].ReceivedByAPI(protocol.APIProduce)
	expect.Equal(1, len(requests))

	produce := requests[0].(*protocol.ProduceRequest)
	expect.Equal(int32(0), produce.Topics[0].Partitions[0].PartitionID)
	expect.Equal(2, len(produce.Topics[0].Partitions[0].MessageSet.Messages))
}
