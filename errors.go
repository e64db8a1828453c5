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

package kiel

import (
	"fmt"
)

// NoBrokersError is returned when no broker in a cluster can be reached.
type NoBrokersError struct {
}

// NewNoBrokersError creates a new NoBrokersError
func NewNoBrokersError() NoBrokersError {
	return NoBrokersError{}
}

// Error fullfills the golang error interface
func (err NoBrokersError) Error() string {
	return "no reachable brokers in cluster"
}

// NoOffsetsError is returned when a request fetching offsets fails fatally.
type NoOffsetsError struct {
	topic string
}

// NewNoOffsetsError creates a new NoOffsetsError for the given topic
func NewNoOffsetsError(topic string) NoOffsetsError {
	return NoOffsetsError{topic: topic}
}

// Error fullfills the golang error interface
func (err NoOffsetsError) Error() string {
	return fmt.Sprintf("unable to determine offsets for topic '%s'", err.topic)
}

// ConnectionError is returned when a single broker connection goes bad.
type ConnectionError struct {
	Host string
	Port int
}

// NewConnectionError creates a new ConnectionError for the given broker
// address.
func NewConnectionError(host string, port int) ConnectionError {
	return ConnectionError{Host: host, Port: port}
}

// Error fullfills the golang error interface
func (err ConnectionError) Error() string {
	return fmt.Sprintf("error connecting to %s:%d", err.Host, err.Port)
}

// UnhandledResponseError is returned when a client receives a response but
// implements no handler for the response's api. Any client that sends a
// request for an api is expected to implement the matching handler interface.
type UnhandledResponseError struct {
	API string
}

// NewUnhandledResponseError creates a new UnhandledResponseError for the
// named api.
func NewUnhandledResponseError(api string) UnhandledResponseError {
	return UnhandledResponseError{API: api}
}

// Error fullfills the golang error interface
func (err UnhandledResponseError) Error() string {
	return fmt.Sprintf("no handler for '%s' api responses", err.API)
}
