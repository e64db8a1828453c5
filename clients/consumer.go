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
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trivago/tgo"
	"github.com/trivago/tgo/tmath"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/protocol"
)

// Deserializer turns fetched message bytes back into application values.
type Deserializer func(value []byte) (interface{}, error)

// JSONDeserializer is the default deserializer and parses JSON payloads.
func JSONDeserializer(value []byte) (interface{}, error) {
	var parsed interface{}
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// ConsumerConfig collects the tunables shared by all consumer types. Use
// NewConsumerConfig for the defaults.
type ConsumerConfig struct {
	// Deserializer parses message payloads, JSONDeserializer by default.
	Deserializer Deserializer
	// MaxWaitTime bounds how long a broker may hold a fetch open.
	MaxWaitTime time.Duration
	// MinBytes is the minimum amount of data a broker should answer with.
	MinBytes int32
	// MaxBytes is the byte budget of a single fetch, divided evenly among
	// the partitions of each request.
	MaxBytes int32
}

// NewConsumerConfig returns a ConsumerConfig with the default values set.
func NewConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Deserializer: JSONDeserializer,
		MaxWaitTime:  1000 * time.Millisecond,
		MinBytes:     1,
		MaxBytes:     1024 * 1024,
	}
}

// offsetStrategy is the part of consuming that differs between the single
// and grouped consumers: which partitions a consumer is responsible for and
// how their starting offsets are determined.
type offsetStrategy interface {
	allocation() map[string][]int32
	determineOffsets(topic string, start StartPosition) error
}

// consumerCounter distinguishes consumer instances within one process.
var consumerCounter int64

// Consumer provides consuming and offset bookkeeping on top of an
// offsetStrategy. It is embedded by the usable consumer types and not used
// directly.
type Consumer struct {
	*Client

	// Name identifies this consumer instance: the hostname plus a suffix
	// unique within the process.
	Name string

	strategy     offsetStrategy
	handlers     interface{}
	deserializer Deserializer
	maxWaitTime  time.Duration
	minBytes     int32
	maxBytes     int32

	mu      sync.Mutex
	offsets map[string]map[int32]int64
	synced  map[string]bool
}

func newConsumer(brokers []string, config *ConsumerConfig) *Consumer {
	if config == nil {
		config = NewConsumerConfig()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	c := &Consumer{
		Client:       newClient(brokers),
		Name:         fmt.Sprintf("%s:%d-%d", hostname, os.Getpid(), atomic.AddInt64(&consumerCounter, 1)),
		deserializer: config.Deserializer,
		maxWaitTime:  config.MaxWaitTime,
		minBytes:     config.MinBytes,
		maxBytes:     config.MaxBytes,
		offsets:      make(map[string]map[int32]int64),
		synced:       make(map[string]bool),
	}

	if c.deserializer == nil {
		c.deserializer = JSONDeserializer
	}

	return c
}

// consume fetches from a topic and returns the deserialized values, in
// response arrival order. Callers hold the consumer mutex.
//
// Topics without synced offsets have them determined first via the strategy;
// topics missing from the strategy's allocation trigger one metadata heal
// before giving up.
func (c *Consumer) consume(topic string, start StartPosition) ([]interface{}, error) {
	if c.closing {
		return nil, nil
	}

	if !c.synced[topic] {
		if err := c.strategy.determineOffsets(topic, start); err != nil {
			if _, fatal := err.(kiel.NoOffsetsError); fatal {
				logrus.WithField("topic", topic).Error("Unable to determine offsets for topic")
				return nil, nil
			}
			return nil, err
		}
		c.synced[topic] = true
	}

	if len(c.strategy.allocation()[topic]) == 0 {
		logrus.WithField("topic", topic).Debug("Consuming unknown topic, reloading metadata")
		if err := c.cluster.Heal(nil); err != nil {
			return nil, err
		}
	}
	allocated := c.strategy.allocation()[topic]
	if len(allocated) == 0 {
		logrus.WithField("topic", topic).Error("Consuming unknown topic and not auto-created")
		return nil, nil
	}

	// leader -> partitions
	ordered := make(map[int32][]int32)
	for _, partitionID := range allocated {
		leader, known := c.cluster.GetLeader(topic, partitionID)
		if !known {
			c.healNeeded = true
			continue
		}
		ordered[leader] = append(ordered[leader], partitionID)
	}

	requests := make(map[int32]protocol.Request, len(ordered))
	for leader, partitions := range ordered {
		maxPartitionBytes := tmath.MaxI(1, int(c.maxBytes)/len(partitions))

		topicRequest := &protocol.FetchTopicRequest{Name: topic}
		for _, partitionID := range partitions {
			topicRequest.Partitions = append(topicRequest.Partitions, &protocol.FetchPartitionRequest{
				PartitionID: partitionID,
				Offset:      c.offsets[topic][partitionID],
				MaxBytes:    int32(maxPartitionBytes),
			})
		}

		requests[leader] = &protocol.FetchRequest{
			ReplicaID:   protocol.ConsumerReplicaID,
			MaxWaitTime: int32(c.maxWaitTime / time.Millisecond),
			MinBytes:    c.minBytes,
			Topics:      []*protocol.FetchTopicRequest{topicRequest},
		}
	}

	outcomes, err := c.send(requests, c.handlers)
	if err != nil {
		return nil, err
	}

	messages := []interface{}{}
	for _, outcome := range outcomes {
		messages = append(messages, outcome.Messages...)
	}

	tgo.Metric.Add(metricMessagesConsumed, int64(len(messages)))
	return messages, nil
}

// handleFetchResponse deserializes fetched messages and advances offsets.
// Retriable error codes mark the cluster for healing; an out-of-range offset
// desyncs the topic so offsets are re-determined on the next consume.
//
// Consumers never fetch more than one topic per request, so only the first
// returned topic is considered.
func (c *Consumer) handleFetchResponse(response *protocol.FetchResponse) handlerResult {
	if len(response.Topics) == 0 {
		return handlerResult{}
	}

	messages := []interface{}{}

	topic := response.Topics[0].Name
	for _, partition := range response.Topics[0].Partitions {
		code := partition.ErrorCode
		switch {
		case code == protocol.ErrNoError:
			messages = append(messages, c.deserializeMessages(topic, partition)...)

		case code == protocol.ErrOffsetOutOfRange:
			logrus.WithField("topic", topic).Warn("Offset out of range for topic")
			delete(c.synced, topic)

		case code.Retriable():
			c.healNeeded = true

		default:
			logrus.WithFields(logrus.Fields{
				"error":     code.String(),
				"topic":     topic,
				"partition": partition.PartitionID,
			}).Error("Error fetching messages")
		}
	}

	return handlerResult{Messages: messages}
}

// deserializeMessages runs the deserializer over a partition's messages in
// order. Failing messages are logged and skipped without advancing the
// offset; each success moves the partition offset just past the message.
func (c *Consumer) deserializeMessages(topic string, partition *protocol.FetchPartitionResponse) []interface{} {
	messages := []interface{}{}

	for _, message := range partition.MessageSet.Messages {
		value, err := c.deserializer(message.Value)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"topic":     topic,
				"partition": partition.PartitionID,
			}).Error("Error deserializing message")
			continue
		}

		messages = append(messages, value)

		if c.offsets[topic] == nil {
			c.offsets[topic] = make(map[int32]int64)
		}
		c.offsets[topic][partition.PartitionID] = message.Offset + 1
	}

	return messages
}

// Offsets returns a copy of the consumer's current offsets for a topic.
func (c *Consumer) Offsets(topic string) map[int32]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	offsets := make(map[int32]int64, len(c.offsets[topic]))
	for partitionID, offset := range c.offsets[topic] {
		offsets[partitionID] = offset
	}
	return offsets
}
