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

package cluster

import (
	"crypto/md5"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/protocol"
)

// correlationSeed is derived once per process from md5(hostname)[0:4] plus
// the pid, reducing collision likelihood across restarts that share a
// connection view. Each Connection owns its own counter starting here.
var correlationSeed = func() int32 {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	digest := md5.Sum([]byte(hostname))
	seed := binary.BigEndian.Uint32(digest[:4])

	return int32((seed + uint32(os.Getpid())) & 0xffffff)
}()

// Result is the outcome of a single request sent over a Connection. Exactly
// one of Response and Err is set.
type Result struct {
	CorrelationID int32
	Response      protocol.Response
	Err           error
}

// Connection represents a single connection to a single broker host.
//
// Requests are sent with Send(), which hands back a channel delivering the
// correlated response. Writes on a connection are serialized; responses may
// arrive in any order and are matched by correlation id.
//
// Correlation ids are meaningless outside the connection that assigned them.
type Connection struct {
	Host string
	Port int

	stream net.Conn

	mu      sync.Mutex
	writeMu sync.Mutex
	closing bool
	lastID  int32
	pending map[int32]chan Result
	apiOf   map[int32]protocol.APIKey
}

// NewConnection creates an unconnected Connection for the given broker
// address.
func NewConnection(host string, port int) *Connection {
	return &Connection{
		Host:    host,
		Port:    port,
		lastID:  correlationSeed,
		pending: make(map[int32]chan Result),
		apiOf:   make(map[int32]protocol.APIKey),
	}
}

// Connect dials the broker and starts the read loop.
func (c *Connection) Connect() error {
	logrus.WithField("broker", c.addr()).Info("Connecting to broker")

	stream, err := net.Dial("tcp", c.addr())
	if err != nil {
		return errors.Wrapf(err, "connecting to broker %s", c.addr())
	}
	c.stream = stream

	go c.readLoop()
	return nil
}

func (c *Connection) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Closing returns true once the connection is shutting down.
func (c *Connection) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Close marks the connection as closing and closes the underlying stream.
// Pending requests are failed by the read loop's subsequent abort.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closing = true
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// NextCorrelationID hands out the next request id for this connection. The
// wire field is a signed 32-bit integer, wrap-around is acceptable.
func (c *Connection) NextCorrelationID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID++
	return c.lastID
}

// Send assigns a correlation id to the request and transmits it, returning a
// channel that delivers the correlated response. Multiple concurrent sends
// are allowed.
func (c *Connection) Send(req protocol.Request) <-chan Result {
	return c.SendPrepared(c.NextCorrelationID(), req)
}

// SendPrepared transmits a request under a correlation id previously handed
// out by NextCorrelationID. If the connection is closing before or during
// the write the result carries a ConnectionError and the connection is
// aborted.
func (c *Connection) SendPrepared(correlationID int32, req protocol.Request) <-chan Result {
	result := make(chan Result, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		result <- Result{
			CorrelationID: correlationID,
			Err:           kiel.NewConnectionError(c.Host, c.Port),
		}
		c.Abort(nil)
		return result
	}
	c.pending[correlationID] = result
	c.apiOf[correlationID] = req.APIKey()
	c.mu.Unlock()

	payload := protocol.EncodeRequest(req, correlationID, protocol.ClientID)

	c.writeMu.Lock()
	_, err := c.stream.Write(payload)
	c.writeMu.Unlock()

	if err != nil {
		logrus.WithError(err).WithField("broker", c.addr()).Warn("Error writing to broker")
		c.Abort(nil)
	}

	return result
}

// Abort tears the connection down and fails every pending request with the
// given error, falling back to a ConnectionError when none is given. Abort
// is idempotent; repeated calls still drain any requests registered in the
// meantime.
func (c *Connection) Abort(err error) {
	c.mu.Lock()
	alreadyClosing := c.closing
	c.closing = true

	pending := c.pending
	c.pending = make(map[int32]chan Result)
	c.apiOf = make(map[int32]protocol.APIKey)

	stream := c.stream
	c.mu.Unlock()

	if !alreadyClosing {
		logrus.WithField("broker", c.addr()).Warn("Aborting connection")
		if stream != nil {
			stream.Close()
		}
	}

	if err == nil {
		err = kiel.NewConnectionError(c.Host, c.Port)
	}
	for correlationID, result := range pending {
		result <- Result{CorrelationID: correlationID, Err: err}
	}
}

// readLoop reads responses off the stream until the connection closes. Each
// response is matched to its pending request via the correlation id and
// decoded with the response type registered for the request's api.
func (c *Connection) readLoop() {
	for {
		var header [8]byte
		if _, err := io.ReadFull(c.stream, header[:]); err != nil {
			c.handleReadError(err)
			return
		}

		size := int32(binary.BigEndian.Uint32(header[:4]))
		correlationID := int32(binary.BigEndian.Uint32(header[4:]))

		payload := make([]byte, size-4)
		if _, err := io.ReadFull(c.stream, payload); err != nil {
			c.handleReadError(err)
			return
		}

		c.mu.Lock()
		api, known := c.apiOf[correlationID]
		result := c.pending[correlationID]
		delete(c.apiOf, correlationID)
		delete(c.pending, correlationID)
		c.mu.Unlock()

		if !known {
			logrus.WithFields(logrus.Fields{
				"broker":         c.addr(),
				"correlation_id": correlationID,
			}).Warn("Response with unknown correlation id")
			continue
		}

		response, err := protocol.DecodeResponse(api, payload)
		if err != nil {
			result <- Result{CorrelationID: correlationID, Err: err}
			c.Abort(err)
			return
		}

		result <- Result{CorrelationID: correlationID, Response: response}
	}
}

func (c *Connection) handleReadError(err error) {
	if !c.Closing() && !isStreamClosed(err) {
		logrus.WithError(err).WithField("broker", c.addr()).Warn("Error reading from broker")
	}
	c.Abort(err)
}

// isStreamClosed reports whether an error merely indicates that the stream
// went away, as opposed to an unexpected failure.
func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsStreamClosed reports whether a request failed only because its
// connection's stream was closed, which callers treat as less severe than
// other transport failures.
func IsStreamClosed(err error) bool {
	return isStreamClosed(err)
}
