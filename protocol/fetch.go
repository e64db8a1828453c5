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

// ConsumerReplicaID is the replica id sent by consumers; other values are
// reserved for inter-broker replication.
const ConsumerReplicaID = -1

// FetchPartitionRequest names one partition to read from.
//
//	PartitionRequest =>
//	  partition_id => Int32
//	  offset => Int64
//	  max_bytes => Int32
type FetchPartitionRequest struct {
	PartitionID int32
	Offset      int64
	MaxBytes    int32
}

// FetchTopicRequest groups partition requests under one topic.
//
//	TopicRequest =>
//	  name => String
//	  partitions => [PartitionRequest]
type FetchTopicRequest struct {
	Name       string
	Partitions []*FetchPartitionRequest
}

// FetchRequest reads messages from the partitions led by one broker.
//
//	FetchRequest =>
//	  replica_id => Int32
//	  max_wait_time => Int32
//	  min_bytes => Int32
//	  topics => [TopicRequest]
type FetchRequest struct {
	ReplicaID   int32
	MaxWaitTime int32
	MinBytes    int32
	Topics      []*FetchTopicRequest
}

// APIKey returns the api this request belongs to.
func (r *FetchRequest) APIKey() APIKey { return APIFetch }

// Encode renders the request body.
func (r *FetchRequest) Encode(e *Encoder) {
	e.PutInt32(r.ReplicaID)
	e.PutInt32(r.MaxWaitTime)
	e.PutInt32(r.MinBytes)
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt64(partition.Offset)
			e.PutInt32(partition.MaxBytes)
		}
	}
}

// Decode parses the request body.
func (r *FetchRequest) Decode(d *Decoder) error {
	r.ReplicaID = d.Int32()
	r.MaxWaitTime = d.Int32()
	r.MinBytes = d.Int32()

	topicCount := d.ArrayLength()
	r.Topics = make([]*FetchTopicRequest, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &FetchTopicRequest{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &FetchPartitionRequest{
				PartitionID: d.Int32(),
				Offset:      d.Int64(),
				MaxBytes:    d.Int32(),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}

// FetchPartitionResponse carries one partition's fetched messages.
//
//	PartitionResponse =>
//	  partition_id => Int32
//	  error_code => Int16
//	  highwater_mark => Int64
//	  message_set => MessageSet
type FetchPartitionResponse struct {
	PartitionID   int32
	ErrorCode     ErrorCode
	HighwaterMark int64
	MessageSet    *MessageSet
}

// FetchTopicResponse groups partition responses under one topic.
//
//	TopicResponse =>
//	  name => String
//	  partitions => [PartitionResponse]
type FetchTopicResponse struct {
	Name       string
	Partitions []*FetchPartitionResponse
}

// FetchResponse carries fetched message sets per partition.
//
//	FetchResponse =>
//	  topics => [TopicResponse]
type FetchResponse struct {
	Topics []*FetchTopicResponse
}

// APIKey returns the api this response belongs to.
func (r *FetchResponse) APIKey() APIKey { return APIFetch }

// Encode renders the response body.
func (r *FetchResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt16(int16(partition.ErrorCode))
			e.PutInt64(partition.HighwaterMark)
			partition.MessageSet.Encode(e)
		}
	}
}

// Decode parses the response body.
func (r *FetchResponse) Decode(d *Decoder) error {
	topicCount := d.ArrayLength()
	r.Topics = make([]*FetchTopicResponse, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &FetchTopicResponse{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			partition := &FetchPartitionResponse{
				PartitionID:   d.Int32(),
				ErrorCode:     ErrorCode(d.Int16()),
				HighwaterMark: d.Int64(),
				MessageSet:    &MessageSet{},
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
