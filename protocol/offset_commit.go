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

// OffsetCommitPartitionRequest commits one partition's offset with optional
// metadata.
//
//	PartitionRequest =>
//	  partition_id => Int32
//	  offset => Int64
//	  metadata => String
type OffsetCommitPartitionRequest struct {
	PartitionID int32
	Offset      int64
	Metadata    string
}

// OffsetCommitTopicRequest groups partition commits under one topic.
//
//	TopicRequest =>
//	  name => String
//	  partitions => [PartitionRequest]
type OffsetCommitTopicRequest struct {
	Name       string
	Partitions []*OffsetCommitPartitionRequest
}

// OffsetCommitV0Request persists group offsets via the coordinator. The v0
// form keeps compatibility with clusters running 0.8.1.
//
//	OffsetCommitV0Request =>
//	  group => String
//	  topics => [TopicRequest]
type OffsetCommitV0Request struct {
	Group  string
	Topics []*OffsetCommitTopicRequest
}

// APIKey returns the api this request belongs to.
func (r *OffsetCommitV0Request) APIKey() APIKey { return APIOffsetCommit }

// Encode renders the request body.
func (r *OffsetCommitV0Request) Encode(e *Encoder) {
	e.PutString(r.Group)
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt64(partition.Offset)
			e.PutString(partition.Metadata)
		}
	}
}

// Decode parses the request body.
func (r *OffsetCommitV0Request) Decode(d *Decoder) error {
	r.Group = d.String()

	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetCommitTopicRequest, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &OffsetCommitTopicRequest{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &OffsetCommitPartitionRequest{
				PartitionID: d.Int32(),
				Offset:      d.Int64(),
				Metadata:    d.String(),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}

// OffsetCommitPartitionResponse reports the outcome for one partition.
//
//	PartitionResponse =>
//	  partition_id => Int32
//	  error_code => Int16
type OffsetCommitPartitionResponse struct {
	PartitionID int32
	ErrorCode   ErrorCode
}

// OffsetCommitTopicResponse groups partition responses under one topic.
//
//	TopicResponse =>
//	  name => String
//	  partitions => [PartitionResponse]
type OffsetCommitTopicResponse struct {
	Name       string
	Partitions []*OffsetCommitPartitionResponse
}

// OffsetCommitResponse reports per-partition commit outcomes.
//
//	OffsetCommitResponse =>
//	  topics => [TopicResponse]
type OffsetCommitResponse struct {
	Topics []*OffsetCommitTopicResponse
}

// APIKey returns the api this response belongs to.
func (r *OffsetCommitResponse) APIKey() APIKey { return APIOffsetCommit }

// Encode renders the response body.
func (r *OffsetCommitResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt16(int16(partition.ErrorCode))
		}
	}
}

// Decode parses the response body.
func (r *OffsetCommitResponse) Decode(d *Decoder) error {
	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetCommitTopicResponse, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &OffsetCommitTopicResponse{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &OffsetCommitPartitionResponse{
				PartitionID: d.Int32(),
				ErrorCode:   ErrorCode(d.Int16()),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}
