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

// Package kafkatest provides a scriptable in-process broker speaking
// version 0 of the Kafka wire protocol, for exercising clients in tests
// without a real cluster.
package kafkatest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/wglass/kiel/protocol"
)

// RequestHandler produces the response for one incoming request. Returning
// nil leaves the request unanswered.
type RequestHandler func(request protocol.Request) protocol.Response

// Server is a fake broker bound to an ephemeral localhost port. Handlers are
// registered per api; received requests are recorded for assertions.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	handlers map[protocol.APIKey]RequestHandler
	received []protocol.Request
}

// NewServer creates an unstarted fake broker.
func NewServer() *Server {
	return &Server{
		handlers: make(map[protocol.APIKey]RequestHandler),
	}
}

// Handle registers the handler for an api.
func (srv *Server) Handle(api protocol.APIKey, handler RequestHandler) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.handlers[api] = handler
}

// Received returns every request body the server has decoded so far, in
// arrival order.
func (srv *Server) Received() []protocol.Request {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]protocol.Request{}, srv.received...)
}

// ReceivedByAPI filters Received down to one api.
func (srv *Server) ReceivedByAPI(api protocol.APIKey) []protocol.Request {
	requests := []protocol.Request{}
	for _, request := range srv.Received() {
		if request.APIKey() == api {
			requests = append(requests, request)
		}
	}
	return requests
}

// Start begins listening and serving connections.
func (srv *Server) Start() error {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return err
	}

	srv.mu.Lock()
	srv.listener = listener
	srv.mu.Unlock()

	go func() {
		for {
			client, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handleClient(client)
		}
	}()

	return nil
}

// Close shuts the listener down. Connections already accepted are not closed
// and keep being served until the client closes them.
func (srv *Server) Close() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener != nil {
		srv.listener.Close()
	}
}

// HostPort returns the address the server is bound to.
func (srv *Server) HostPort() (string, int) {
	host, portText, err := net.SplitHostPort(srv.listener.Addr().String())
	if err != nil {
		panic(fmt.Sprintf("cannot split server address: %s", err))
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		panic(fmt.Sprintf("port '%s' is not a number: %s", portText, err))
	}
	return host, port
}

// Addr returns the server address as a "host:port" bootstrap string.
func (srv *Server) Addr() string {
	host, port := srv.HostPort()
	return fmt.Sprintf("%s:%d", host, port)
}

func (srv *Server) handleClient(client net.Conn) {
	defer client.Close()

	for {
		var sizeField [4]byte
		if _, err := io.ReadFull(client, sizeField[:]); err != nil {
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(sizeField[:]))
		if _, err := io.ReadFull(client, payload); err != nil {
			return
		}

		envelope, err := protocol.DecodeRequest(payload)
		if err != nil {
			panic(fmt.Sprintf("could not decode request: %s", err))
		}

		srv.mu.Lock()
		srv.received = append(srv.received, envelope.Body)
		handler := srv.handlers[envelope.API]
		srv.mu.Unlock()

		if handler == nil {
			panic(fmt.Sprintf("no handler for %s requests", envelope.API))
		}

		response := handler(envelope.Body)
		if response == nil {
			continue
		}

		if _, err := client.Write(protocol.EncodeResponse(response, envelope.CorrelationID)); err != nil {
			return
		}
	}
}
