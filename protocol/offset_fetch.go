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

// OffsetFetchTopicRequest names the partitions to fetch committed offsets
// for.
//
//	TopicRequest =>
//	  name => String
//	  partitions => [Int32]
type OffsetFetchTopicRequest struct {
	Name       string
	Partitions []int32
}

// OffsetFetchRequest reads a group's committed offsets via the coordinator.
//
//	OffsetFetchRequest =>
//	  group => String
//	  topics => [TopicRequest]
type OffsetFetchRequest struct {
	Group  string
	Topics []*OffsetFetchTopicRequest
}

// APIKey returns the api this request belongs to.
func (r *OffsetFetchRequest) APIKey() APIKey { return APIOffsetFetch }

// Encode renders the request body.
func (r *OffsetFetchRequest) Encode(e *Encoder) {
	e.PutString(r.Group)
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutInt32Array(topic.Partitions)
	}
}

// Decode parses the request body.
func (r *OffsetFetchRequest) Decode(d *Decoder) error {
	r.Group = d.String()

	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetFetchTopicRequest, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		r.Topics = append(r.Topics, &OffsetFetchTopicRequest{
			Name:       d.String(),
			Partitions: d.Int32Array(),
		})
	}
	return d.Err()
}

// OffsetFetchPartitionResponse carries one partition's committed offset.
//
//	PartitionResponse =>
//	  partition_id => Int32
//	  offset => Int64
//	  metadata => String
//	  error_code => Int16
type OffsetFetchPartitionResponse struct {
	PartitionID int32
	Offset      int64
	Metadata    string
	ErrorCode   ErrorCode
}

// OffsetFetchTopicResponse groups partition responses under one topic.
//
//	TopicResponse =>
//	  name => String
//	  partitions => [PartitionResponse]
type OffsetFetchTopicResponse struct {
	Name       string
	Partitions []*OffsetFetchPartitionResponse
}

// OffsetFetchResponse carries a group's committed offsets.
//
//	OffsetFetchResponse =>
//	  topics => [TopicResponse]
type OffsetFetchResponse struct {
	Topics []*OffsetFetchTopicResponse
}

// APIKey returns the api this response belongs to.
func (r *OffsetFetchResponse) APIKey() APIKey { return APIOffsetFetch }

// Encode renders the response body.
func (r *OffsetFetchResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt64(partition.Offset)
			e.PutString(partition.Metadata)
			e.PutInt16(int16(partition.ErrorCode))
		}
	}
}

// Decode parses the response body.
func (r *OffsetFetchResponse) Decode(d *Decoder) error {
	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetFetchTopicResponse, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &OffsetFetchTopicResponse{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &OffsetFetchPartitionResponse{
				PartitionID: d.Int32(),
				Offset:      d.Int64(),
				Metadata:    d.String(),
				ErrorCode:   ErrorCode(d.Int16()),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}
