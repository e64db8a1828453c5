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

// GroupCoordinatorRequest asks which broker coordinates a consumer group.
//
//	GroupCoordinatorRequest =>
//	  group => String
type GroupCoordinatorRequest struct {
	Group string
}

// APIKey returns the api this request belongs to.
func (r *GroupCoordinatorRequest) APIKey() APIKey { return APIGroupCoordinator }

// Encode renders the request body.
func (r *GroupCoordinatorRequest) Encode(e *Encoder) {
	e.PutString(r.Group)
}

// Decode parses the request body.
func (r *GroupCoordinatorRequest) Decode(d *Decoder) error {
	r.Group = d.String()
	return d.Err()
}

// GroupCoordinatorResponse names the coordinating broker for a group.
//
//	GroupCoordinatorResponse =>
//	  error_code => Int16
//	  coordinator_id => Int32
//	  coordinator_host => String
//	  coordinator_port => Int32
type GroupCoordinatorResponse struct {
	ErrorCode       ErrorCode
	CoordinatorID   int32
	CoordinatorHost string
	CoordinatorPort int32
}

// APIKey returns the api this response belongs to.
func (r *GroupCoordinatorResponse) APIKey() APIKey { return APIGroupCoordinator }

// Encode renders the response body.
func (r *GroupCoordinatorResponse) Encode(e *Encoder) {
	e.PutInt16(int16(r.ErrorCode))
	e.PutInt32(r.CoordinatorID)
	e.PutString(r.CoordinatorHost)
	e.PutInt32(r.CoordinatorPort)
}

// Decode parses the response body.
func (r *GroupCoordinatorResponse) Decode(d *Decoder) error {
	r.ErrorCode = ErrorCode(d.Int16())
	r.CoordinatorID = d.Int32()
	r.CoordinatorHost = d.String()
	r.CoordinatorPort = d.Int32()
	return d.Err()
}
