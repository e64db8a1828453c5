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

// ProducePartitionRequest carries the message set for one partition.
//
//	PartitionRequest =>
//	  partition_id => Int32
//	  message_set => MessageSet
type ProducePartitionRequest struct {
	PartitionID int32
	MessageSet  *MessageSet
}

// ProduceTopicRequest groups partition requests under one topic.
//
//	TopicRequest =>
//	  name => String
//	  partitions => [PartitionRequest]
type ProduceTopicRequest struct {
	Name       string
	Partitions []*ProducePartitionRequest
}

// ProduceRequest writes message sets to the partitions led by one broker.
//
//	ProduceRequest =>
//	  required_acks => Int16
//	  timeout => Int32
//	  topics => [TopicRequest]
type ProduceRequest struct {
	RequiredAcks int16
	Timeout      int32
	Topics       []*ProduceTopicRequest
}

// APIKey returns the api this request belongs to.
func (r *ProduceRequest) APIKey() APIKey { return APIProduce }

// Encode renders the request body.
func (r *ProduceRequest) Encode(e *Encoder) {
	e.PutInt16(r.RequiredAcks)
	e.PutInt32(r.Timeout)
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			partition.MessageSet.Encode(e)
		}
	}
}

// Decode parses the request body.
func (r *ProduceRequest) Decode(d *Decoder) error {
	r.RequiredAcks = d.Int16()
	r.Timeout = d.Int32()

	topicCount := d.ArrayLength()
	r.Topics = make([]*ProduceTopicRequest, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &ProduceTopicRequest{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			partition := &ProducePartitionRequest{
				PartitionID: d.Int32(),
				MessageSet:  &MessageSet{},
			}
			if err := partition.MessageSet.Decode(d); err != nil {
				return err
			}
			topic.Partitions = append(topic.Partitions, partition)
		}
		r.Topics = append(r.Topics, topic)
	}

	return d.Err()
}

// ProducePartitionResponse reports the outcome for one partition.
//
//	PartitionResponse =>
//	  partition_id => Int32
//	  error_code => Int16
//	  offset => Int64
type ProducePartitionResponse struct {
	PartitionID int32
	ErrorCode   ErrorCode
	Offset      int64
}

// ProduceTopicResponse groups partition responses under one topic.
//
//	TopicResponse =>
//	  name => String
//	  partitions => [PartitionResponse]
type ProduceTopicResponse struct {
	Name       string
	Partitions []*ProducePartitionResponse
}

// ProduceResponse reports per-partition produce outcomes.
//
//	ProduceResponse =>
//	  topics => [TopicResponse]
type ProduceResponse struct {
	Topics []*ProduceTopicResponse
}

// APIKey returns the api this response belongs to.
func (r *ProduceResponse) APIKey() APIKey { return APIProduce }

// Encode renders the response body.
func (r *ProduceResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt16(int16(partition.ErrorCode))
			e.PutInt64(partition.Offset)
		}
	}
}

// Decode parses the response body.
func (r *ProduceResponse) Decode(d *Decoder) error {
	topicCount := d.ArrayLength()
	r.Topics = make([]*ProduceTopicResponse, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &ProduceTopicResponse{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &ProducePartitionResponse{
				PartitionID: d.Int32(),
				ErrorCode:   ErrorCode(d.Int16()),
				Offset:      d.Int64(),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}
