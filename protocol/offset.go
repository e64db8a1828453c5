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

// Special values for the offset api's time field; any other non-negative
// value is an epoch-seconds timestamp.
const (
	TimeLatest    = -1
	TimeBeginning = -2
)

// OffsetPartitionRequest asks for the offsets in effect at a point in time.
//
//	PartitionRequest =>
//	  partition_id => Int32
//	  time => Int64
//	  max_offsets => Int32
type OffsetPartitionRequest struct {
	PartitionID int32
	Time        int64
	MaxOffsets  int32
}

// OffsetTopicRequest groups partition requests under one topic.
//
//	TopicRequest =>
//	  name => String
//	  partitions => [PartitionRequest]
type OffsetTopicRequest struct {
	Name       string
	Partitions []*OffsetPartitionRequest
}

// OffsetRequest queries the stateless offset api.
//
//	OffsetRequest =>
//	  replica_id => Int32
//	  topics => [TopicRequest]
type OffsetRequest struct {
	ReplicaID int32
	Topics    []*OffsetTopicRequest
}

// APIKey returns the api this request belongs to.
func (r *OffsetRequest) APIKey() APIKey { return APIOffset }

// Encode renders the request body.
func (r *OffsetRequest) Encode(e *Encoder) {
	e.PutInt32(r.ReplicaID)
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt64(partition.Time)
			e.PutInt32(partition.MaxOffsets)
		}
	}
}

// Decode parses the request body.
func (r *OffsetRequest) Decode(d *Decoder) error {
	r.ReplicaID = d.Int32()

	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetTopicRequest, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &OffsetTopicRequest{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			topic.Partitions = append(topic.Partitions, &OffsetPartitionRequest{
				PartitionID: d.Int32(),
				Time:        d.Int64(),
				MaxOffsets:  d.Int32(),
			})
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}

// OffsetPartitionResponse lists the offsets found for one partition.
//
//	PartitionResponse =>
//	  partition_id => Int32
//	  error_code => Int16
//	  offsets => [Int64]
type OffsetPartitionResponse struct {
	PartitionID int32
	ErrorCode   ErrorCode
	Offsets     []int64
}

// OffsetTopicResponse groups partition responses under one topic.
//
//	TopicResponse =>
//	  name => String
//	  partitions => [PartitionResponse]
type OffsetTopicResponse struct {
	Name       string
	Partitions []*OffsetPartitionResponse
}

// OffsetResponse carries per-partition offset listings.
//
//	OffsetResponse =>
//	  topics => [TopicResponse]
type OffsetResponse struct {
	Topics []*OffsetTopicResponse
}

// APIKey returns the api this response belongs to.
func (r *OffsetResponse) APIKey() APIKey { return APIOffset }

// Encode renders the response body.
func (r *OffsetResponse) Encode(e *Encoder) {
	e.PutArrayLength(len(r.Topics))
	for _, topic := range r.Topics {
		e.PutString(topic.Name)
		e.PutArrayLength(len(topic.Partitions))
		for _, partition := range topic.Partitions {
			e.PutInt32(partition.PartitionID)
			e.PutInt16(int16(partition.ErrorCode))
			e.PutArrayLength(len(partition.Offsets))
			for _, offset := range partition.Offsets {
				e.PutInt64(offset)
			}
		}
	}
}

// Decode parses the response body.
func (r *OffsetResponse) Decode(d *Decoder) error {
	topicCount := d.ArrayLength()
	r.Topics = make([]*OffsetTopicResponse, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := &OffsetTopicResponse{Name: d.String()}
		partitionCount := d.ArrayLength()
		for j := 0; j < partitionCount; j++ {
			partition := &OffsetPartitionResponse{
				PartitionID: d.Int32(),
				ErrorCode:   ErrorCode(d.Int16()),
			}
			offsetCount := d.ArrayLength()
			for k := 0; k < offsetCount; k++ {
				partition.Offsets = append(partition.Offsets, d.Int64())
			}
			topic.Partitions = append(topic.Partitions, partition)
		}
		r.Topics = append(r.Topics, topic)
	}
	return d.Err()
}
