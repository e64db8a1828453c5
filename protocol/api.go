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

// Package protocol implements version 0 of the Kafka wire protocol: the
// codec primitives, CRC-wrapped message sets and the request/response
// schemas of the seven apis the client uses.
package protocol

import (
	"fmt"
)

// ClientID is the client identification string sent in every request
// preamble.
const ClientID = "kiel"

// apiVersion is the api_version value sent over the wire, always 0.
const apiVersion = 0

// APIKey identifies a protocol api on the wire.
type APIKey int16

// The apis spoken by this client.
const (
	APIProduce          APIKey = 0
	APIFetch            APIKey = 1
	APIOffset           APIKey = 2
	APIMetadata         APIKey = 3
	APIOffsetCommit     APIKey = 8
	APIOffsetFetch      APIKey = 9
	APIGroupCoordinator APIKey = 10
)

var apiNames = map[APIKey]string{
	APIProduce:          "produce",
	APIFetch:            "fetch",
	APIOffset:           "offset",
	APIMetadata:         "metadata",
	APIOffsetCommit:     "offset_commit",
	APIOffsetFetch:      "offset_fetch",
	APIGroupCoordinator: "group_coordinator",
}

// String returns the protocol name of the api.
func (k APIKey) String() string {
	if name, known := apiNames[k]; known {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int16(k))
}

// Request is implemented by all request schemas.
type Request interface {
	APIKey() APIKey
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// Response is implemented by all response schemas.
type Response interface {
	APIKey() APIKey
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// EncodeRequest renders a complete size-prefixed request payload:
//
//	size => Int32
//	api_key => Int16
//	api_version => Int16
//	correlation_id => Int32
//	client_id => String
//	<body>
func EncodeRequest(req Request, correlationID int32, clientID string) []byte {
	e := NewEncoder()

	e.PushLength()
	e.PutInt16(int16(req.APIKey()))
	e.PutInt16(apiVersion)
	e.PutInt32(correlationID)
	e.PutString(clientID)
	req.Encode(e)
	e.PopLength()

	return e.Bytes()
}

// EncodeResponse renders a complete size-prefixed response payload:
//
//	size => Int32
//	correlation_id => Int32
//	<body>
func EncodeResponse(resp Response, correlationID int32) []byte {
	e := NewEncoder()

	e.PushLength()
	e.PutInt32(correlationID)
	resp.Encode(e)
	e.PopLength()

	return e.Bytes()
}

// DecodeResponse parses a response body (the bytes following the correlation
// id) into the response type registered for the given api.
func DecodeResponse(api APIKey, payload []byte) (Response, error) {
	var resp Response

	switch api {
	case APIProduce:
		resp = &ProduceResponse{}
	case APIFetch:
		resp = &FetchResponse{}
	case APIOffset:
		resp = &OffsetResponse{}
	case APIMetadata:
		resp = &MetadataResponse{}
	case APIOffsetCommit:
		resp = &OffsetCommitResponse{}
	case APIOffsetFetch:
		resp = &OffsetFetchResponse{}
	case APIGroupCoordinator:
		resp = &GroupCoordinatorResponse{}
	default:
		return nil, fmt.Errorf("no response type for api %s", api)
	}

	if err := resp.Decode(NewDecoder(payload)); err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestEnvelope holds a decoded request preamble and body.
type RequestEnvelope struct {
	API           APIKey
	CorrelationID int32
	ClientID      string
	Body          Request
}

// DecodeRequest parses a full request payload (without the leading size
// field) into its preamble and typed body.
func DecodeRequest(payload []byte) (*RequestEnvelope, error) {
	d := NewDecoder(payload)

	envelope := &RequestEnvelope{
		API: APIKey(d.Int16()),
	}
	if version := d.Int16(); version != apiVersion {
		return nil, fmt.Errorf("unsupported api version %d", version)
	}
	envelope.CorrelationID = d.Int32()
	envelope.ClientID = d.String()

	switch envelope.API {
	case APIProduce:
		envelope.Body = &ProduceRequest{}
	case APIFetch:
		envelope.Body = &FetchRequest{}
	case APIOffset:
		envelope.Body = &OffsetRequest{}
	case APIMetadata:
		envelope.Body = &MetadataRequest{}
	case APIOffsetCommit:
		envelope.Body = &OffsetCommitV0Request{}
	case APIOffsetFetch:
		envelope.Body = &OffsetFetchRequest{}
	case APIGroupCoordinator:
		envelope.Body = &GroupCoordinatorRequest{}
	default:
		return nil, fmt.Errorf("no request type for api %s", envelope.API)
	}

	if err := envelope.Body.Decode(d); err != nil {
		return nil, err
	}
	return envelope, nil
}
