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

// MetadataRequest asks for broker and topic/partition metadata. An empty
// topic list requests metadata for all topics.
//
//	MetadataRequest =>
//	  topics => [String]
type MetadataRequest struct {
	Topics []string
}

// APIKey returns the api this request belongs to.
func (r *MetadataRequest) APIKey() APIKey { return APIMetadata }

// Encode renders the request body.
func (r *MetadataRequest) Encode(e *Encoder) {
	e.PutStringArray(r.Topics)
}

// Decode parses the request body.
func (r *MetadataRequest) Decode(d *Decoder) error {
	r.Topics = d.StringArray()
	return d.Err()
}

// Broker describes a single broker; identity is the broker id.
//
//	Broker =>
//	  broker_id => Int32
//	  host => String
//	  port => Int32
type Broker struct {
	BrokerID int32
	Host     string
	Port     int32
}

func (b *Broker) encode(e *Encoder) {
	e.PutInt32(b.BrokerID)
	e.PutString(b.Host)
	e.PutInt32(b.Port)
}

func (b *Broker) decode(d *Decoder) {
	b.BrokerID = d.Int32()
	b.Host = d.String()
	b.Port = d.Int32()
}

// PartitionMetadata describes one partition's replication state.
//
//	PartitionMetadata =>
//	  error_code => Int16
//	  partition_id => Int32
//	  leader => Int32
//	  replicas => [Int32]
//	  isrs => [Int32]
type PartitionMetadata struct {
	ErrorCode   ErrorCode
	PartitionID int32
	Leader      int32
	Replicas    []int32
	ISRs        []int32
}

func (p *PartitionMetadata) encode(e *Encoder) {
	e.PutInt16(int16(p.ErrorCode))
	e.PutInt32(p.PartitionID)
	e.PutInt32(p.Leader)
	e.PutInt32Array(p.Replicas)
	e.PutInt32Array(p.ISRs)
}

func (p *PartitionMetadata) decode(d *Decoder) {
	p.ErrorCode = ErrorCode(d.Int16())
	p.PartitionID = d.Int32()
	p.Leader = d.Int32()
	p.Replicas = d.Int32Array()
	p.ISRs = d.Int32Array()
}

// TopicMetadata describes one topic and its partitions.
//
//	TopicMetadata =>
//	  error_code => Int16
//	  name => String
//	  partitions => [PartitionMetadata]
type TopicMetadata struct {
	ErrorCode  ErrorCode
	Name       string
	Partitions []*PartitionMetadata
}

func (t *TopicMetadata) encode(e *Encoder) {
	e.PutInt16(int16(t.ErrorCode))
	e.PutString(t.Name)
	e.PutArrayLength(len(t.Partitions))
	for _, partition := range t.Partitions {
		partition.encode(e)
	}
}

func (t *TopicMetadata) decode(d *Decoder) {
	t.ErrorCode = ErrorCode(d.Int16())
	t.Name = d.String()
	count := d.ArrayLength()
	t.Partitions = make([]*PartitionMetadata, 0, count)
	for i := 0; i < count; i++ {
		partition := &PartitionMetadata{}
		partition.decode(d)
		t.Partitions = append(t.Partitions, partition)
	}
}

// MetadataResponse carries the cluster's brokers and topic metadata.
//
//	MetadataResponse =>
//	  brokers => [Broker]
//	  topics => [TopicMetadata]
type MetadataResponse struct {
	Brokers []*Broker
	Topics  []*TopicMetadata
}

// APIKey returns the api this response belongs to.
func (r *MetadataResponse) APIKey() APIKey { return APIMetadata }

// Encode renders the response body.
func (r *MetadataResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Brokers))
	for _, broker := range r.Brokers {
		broker.encode(e)
	}
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		topic.encode(e)
	}
}

// Decode parses the response body.
func (r *MetadataResponse) Decode(d *Decoder) error {
	brokerCount := d.ArrayLength()
	r.Brokers = make([]*Broker, 0, brokerCount)
	for i := 0; i < brokerCount; i++ {
		broker := &Broker{}
		broker.decode(d)
		r.Brokers = append(r.Brokers, broker)
	}

	topicCount := d.ArrayLength()
	r.Topics = make([]*TopicMetadata, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &TopicMetadata{}
		topic.decode(d)
		r.Topics = append(r.Topics, topic)
	}

	return d.Err()
}
