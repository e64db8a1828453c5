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
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trivago/tgo"

	"github.com/wglass/kiel/protocol"
)

// Serializer turns an application message into its wire bytes.
type Serializer func(message interface{}) ([]byte, error)

// KeyMaker extracts the routing key bytes from an application message. A
// nil key is allowed.
type KeyMaker func(message interface{}) ([]byte, error)

// Partitioner picks a partition for a key out of a topic's partition list.
type Partitioner func(key []byte, partitions []int32) int32

// JSONSerializer is the default serializer: canonical JSON with object keys
// sorted.
func JSONSerializer(message interface{}) ([]byte, error) {
	return json.Marshal(message)
}

// NullKeyMaker is the default key maker and produces no key at all.
func NullKeyMaker(_ interface{}) ([]byte, error) {
	return nil, nil
}

// RandomPartitioner is the default partitioner, choosing uniformly at
// random.
func RandomPartitioner(_ []byte, partitions []int32) int32 {
	return partitions[rand.Intn(len(partitions))]
}

// ProducerConfig collects the tunables of a Producer. Use NewProducerConfig
// for the defaults.
type ProducerConfig struct {
	// Serializer renders message payloads, JSONSerializer by default.
	Serializer Serializer
	// KeyMaker extracts routing keys, NullKeyMaker by default.
	KeyMaker KeyMaker
	// Partitioner routes keys to partitions, RandomPartitioner by default.
	Partitioner Partitioner
	// BatchSize is the number of unsent messages that triggers a flush. A
	// value of 0 flushes on every Produce call.
	BatchSize int
	// Compression is the codec applied to produced message sets.
	Compression protocol.Compression
	// RequiredAcks is the acknowledgement level required from the broker,
	// -1 meaning all replicas.
	RequiredAcks int16
	// AckTimeout is how long the broker may wait for the required acks.
	AckTimeout time.Duration
}

// NewProducerConfig returns a ProducerConfig with the default values set.
func NewProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Serializer:   JSONSerializer,
		KeyMaker:     NullKeyMaker,
		Partitioner:  RandomPartitioner,
		BatchSize:    1,
		Compression:  protocol.CompressionNone,
		RequiredAcks: -1,
		AckTimeout:   500 * time.Millisecond,
	}
}

// Producer is the client type used to produce messages to Kafka topics.
//
// Messages queue up in a per-topic unsent buffer until a flush groups them
// by partition leader and dispatches one produce request per broker.
// Messages failing with a retriable error code go back into the buffer.
type Producer struct {
	*Client

	serializer   Serializer
	keyMaker     KeyMaker
	partitioner  Partitioner
	batchSize    int
	compression  protocol.Compression
	requiredAcks int16
	ackTimeout   time.Duration

	mu       sync.Mutex
	unsent   map[string][]*protocol.Message
	inFlight map[int32]map[string]map[int32][]*protocol.Message
}

// NewProducer creates a Producer for the given bootstrap brokers. A nil
// config uses the defaults; an unknown compression codec fails construction.
func NewProducer(brokers []string, config *ProducerConfig) (*Producer, error) {
	if config == nil {
		config = NewProducerConfig()
	}

	switch config.Compression {
	case protocol.CompressionNone, protocol.CompressionGzip, protocol.CompressionSnappy:
	default:
		return nil, fmt.Errorf("invalid compression value %d", config.Compression)
	}

	p := &Producer{
		Client:       newClient(brokers),
		serializer:   config.Serializer,
		keyMaker:     config.KeyMaker,
		partitioner:  config.Partitioner,
		batchSize:    config.BatchSize,
		compression:  config.Compression,
		requiredAcks: config.RequiredAcks,
		ackTimeout:   config.AckTimeout,
		unsent:       make(map[string][]*protocol.Message),
		inFlight:     make(map[int32]map[string]map[int32][]*protocol.Message),
	}

	if p.serializer == nil {
		p.serializer = JSONSerializer
	}
	if p.keyMaker == nil {
		p.keyMaker = NullKeyMaker
	}
	if p.partitioner == nil {
		p.partitioner = RandomPartitioner
	}

	return p, nil
}

// Close flushes any unsent messages and winds the producer down.
func (p *Producer) Close() error {
	return p.close(func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.flush()
	})
}

// UnsentCount returns the total number of messages waiting to be flushed.
func (p *Producer) UnsentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsentCount()
}

func (p *Producer) unsentCount() int {
	count := 0
	for _, messages := range p.unsent {
		count += len(messages)
	}
	return count
}

// Produce queues a message for the given topic, flushing if the batch size
// is reached. Unknown topics trigger a single metadata heal; a topic still
// unknown afterwards is logged and the message dropped.
func (p *Producer) Produce(topic string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		logrus.WithField("topic", topic).Warn("Producing to topic while closing")
		return nil
	}

	if !p.cluster.HasTopic(topic) {
		logrus.WithField("topic", topic).Debug("Producing to unknown topic, loading metadata")
		if err := p.cluster.Heal(nil); err != nil {
			return err
		}
	}
	if !p.cluster.HasTopic(topic) {
		logrus.WithField("topic", topic).Error("Unknown topic and not auto-created")
		return nil
	}

	key, err := p.keyMaker(message)
	if err != nil {
		return err
	}
	value, err := p.serializer(message)
	if err != nil {
		return err
	}

	p.unsent[topic] = append(p.unsent[topic], &protocol.Message{
		Magic:      0,
		Attributes: 0,
		Key:        key,
		Value:      value,
	})

	if p.batchSize == 0 || p.unsentCount() >= p.batchSize {
		return p.flush()
	}
	return nil
}

// Flush drains the unsent buffer and dispatches produce requests to the
// partition leaders.
func (p *Producer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flush()
}

// flush transforms the unsent buffer into one produce request per leader.
// Messages whose partition leader is not currently connected are queued for
// retry and the cluster is marked for healing. Flush works on a snapshot:
// messages produced while a flush is in progress belong to the next batch.
func (p *Producer) flush() error {
	if len(p.unsent) == 0 {
		return nil
	}

	drained := p.unsent
	p.unsent = make(map[string][]*protocol.Message)

	// leader -> topic -> partition -> messages
	ordered := make(map[int32]map[string]map[int32][]*protocol.Message)
	toRetry := make(map[string][]*protocol.Message)

	for topic, messages := range drained {
		for _, message := range messages {
			partitionID := p.partitioner(message.Key, p.cluster.Partitions(topic))

			leader, known := p.cluster.GetLeader(topic, partitionID)
			if !known || !p.cluster.HasBroker(leader) {
				toRetry[topic] = append(toRetry[topic], message)
				continue
			}

			if ordered[leader] == nil {
				ordered[leader] = make(map[string]map[int32][]*protocol.Message)
			}
			if ordered[leader][topic] == nil {
				ordered[leader][topic] = make(map[int32][]*protocol.Message)
			}
			ordered[leader][topic][partitionID] = append(ordered[leader][topic][partitionID], message)
		}
	}

	requests := make(map[int32]preparedRequest, len(ordered))
	for leader, topics := range ordered {
		conn := p.cluster.Conn(leader)
		if conn == nil {
			for topic, partitions := range topics {
				for _, messages := range partitions {
					toRetry[topic] = append(toRetry[topic], messages...)
				}
			}
			continue
		}

		correlationID := conn.NextCorrelationID()

		request := &protocol.ProduceRequest{
			RequiredAcks: p.requiredAcks,
			Timeout:      int32(p.ackTimeout / time.Millisecond),
		}

		for topic, partitions := range topics {
			topicRequest := &protocol.ProduceTopicRequest{Name: topic}

			for partitionID, messages := range partitions {
				messageSet, err := protocol.NewMessageSet(p.compression, messages)
				if err != nil {
					return err
				}
				topicRequest.Partitions = append(topicRequest.Partitions, &protocol.ProducePartitionRequest{
					PartitionID: partitionID,
					MessageSet:  messageSet,
				})

				if p.inFlight[correlationID] == nil {
					p.inFlight[correlationID] = make(map[string]map[int32][]*protocol.Message)
				}
				if p.inFlight[correlationID][topic] == nil {
					p.inFlight[correlationID][topic] = make(map[int32][]*protocol.Message)
				}
				p.inFlight[correlationID][topic][partitionID] = messages
				tgo.Metric.Add(metricMessagesProduced, int64(len(messages)))
			}

			request.Topics = append(request.Topics, topicRequest)
		}

		requests[leader] = preparedRequest{correlationID, request}
	}

	for topic, messages := range toRetry {
		p.queueRetries(topic, messages)
	}

	_, err := p.sendPrepared(requests, p)
	return err
}

// queueRetries re-inserts messages into the unsent buffer and marks the
// cluster for healing.
func (p *Producer) queueRetries(topic string, messages []*protocol.Message) {
	logrus.WithFields(logrus.Fields{
		"topic": topic,
		"count": len(messages),
	}).Debug("Queueing messages for retry")

	p.unsent[topic] = append(p.unsent[topic], messages...)
	p.healNeeded = true

	tgo.Metric.Add(metricMessagesRetried, int64(len(messages)))
}

// handleProduceResponse discards acknowledged in-flight messages, queues
// retriable failures back into the unsent buffer, and abandons messages hit
// by fatal error codes.
func (p *Producer) handleProduceResponse(response *protocol.ProduceResponse, correlationID int32) handlerResult {
	for _, topic := range response.Topics {
		for _, partition := range topic.Partitions {
			code := partition.ErrorCode
			switch {
			case code == protocol.ErrNoError:
				// acknowledged, dropped with the in-flight entry below

			case code.Retriable():
				messages := p.inFlight[correlationID][topic.Name][partition.PartitionID]
				delete(p.inFlight[correlationID][topic.Name], partition.PartitionID)
				p.queueRetries(topic.Name, messages)

			default:
				logrus.WithFields(logrus.Fields{
					"error":     code.String(),
					"topic":     topic.Name,
					"partition": partition.PartitionID,
				}).Error("Fatal error producing messages")
			}
		}
	}

	delete(p.inFlight, correlationID)

	return handlerResult{}
}
