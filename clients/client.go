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

// Package clients provides the usable Kafka client types: the Producer and
// the single and grouped consumers, all built on a shared request
// dispatcher.
package clients

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/cluster"
	"github.com/wglass/kiel/protocol"
)

// Client is the base of all client types. It handles cluster management and
// multi-broker request fan-out.
type Client struct {
	cluster *cluster.Cluster

	closing    bool
	healNeeded bool
}

func newClient(brokers []string) *Client {
	return &Client{
		cluster: cluster.New(brokers),
	}
}

// Connect starts the underlying cluster, connecting and gathering metadata.
func (c *Client) Connect() error {
	return c.cluster.Start()
}

// close marks the client as closing, runs the client-specific wind down and
// stops the cluster.
func (c *Client) close(windDown func() error) error {
	c.closing = true

	err := windDown()

	c.cluster.Stop()
	return err
}

// handlerResult is the uniform output of response handlers. Which fields
// matter depends on the api: fetch handlers fill Messages, the offset fetch
// and commit handlers drive their retry loops via Retry and AdjustMetadata,
// and coordinator discovery reports Determined.
type handlerResult struct {
	Messages       []interface{}
	Retry          bool
	AdjustMetadata bool
	Determined     bool

	err error
}

// sendOutcome pairs a handler result with the broker that produced the
// response, in arrival order.
type sendOutcome struct {
	brokerID int32
	handlerResult
}

// Handler interfaces implemented by client types for the apis they use. The
// dispatcher routes responses by their concrete type; a response arriving
// for an unimplemented interface fails the dispatch with
// UnhandledResponseError.
type (
	produceHandler interface {
		handleProduceResponse(response *protocol.ProduceResponse, correlationID int32) handlerResult
	}
	fetchHandler interface {
		handleFetchResponse(response *protocol.FetchResponse) handlerResult
	}
	offsetHandler interface {
		handleOffsetResponse(response *protocol.OffsetResponse) handlerResult
	}
	offsetFetchHandler interface {
		handleOffsetFetchResponse(response *protocol.OffsetFetchResponse) handlerResult
	}
	offsetCommitHandler interface {
		handleOffsetCommitResponse(response *protocol.OffsetCommitResponse) handlerResult
	}
	groupCoordinatorHandler interface {
		handleGroupCoordinatorResponse(response *protocol.GroupCoordinatorResponse) handlerResult
	}
)

// preparedRequest is a request with its correlation id already assigned, so
// callers can index bookkeeping by id before dispatching.
type preparedRequest struct {
	correlationID int32
	request       protocol.Request
}

// send fans a request per broker out to the cluster concurrently and handles
// each response as it arrives. Handlers run one at a time on the dispatching
// goroutine, so they mutate client state without locking.
//
// Connection losses and unexpected errors mark the cluster for healing;
// plain stream closures are only logged. Once every in-flight response has
// resolved, a pending heal is performed before returning. An unhandled
// response or a handler error ends the dispatch at once: the remaining
// responses are not awaited and no heal is performed.
func (c *Client) send(requests map[int32]protocol.Request, handlers interface{}) ([]sendOutcome, error) {
	prepared := make(map[int32]preparedRequest, len(requests))
	for brokerID, request := range requests {
		conn := c.cluster.Conn(brokerID)
		if conn == nil {
			logrus.WithField("broker", brokerID).Info("Broker not in cluster, skipping request")
			c.healNeeded = true
			continue
		}
		prepared[brokerID] = preparedRequest{conn.NextCorrelationID(), request}
	}

	return c.sendPrepared(prepared, handlers)
}

// sendPrepared dispatches requests whose correlation ids were already
// assigned via the target connections' NextCorrelationID.
func (c *Client) sendPrepared(requests map[int32]preparedRequest, handlers interface{}) ([]sendOutcome, error) {
	type brokerResult struct {
		brokerID int32
		result   cluster.Result
	}

	arrivals := make(chan brokerResult, len(requests))

	inFlight := 0
	for brokerID, prep := range requests {
		conn := c.cluster.Conn(brokerID)
		if conn == nil {
			logrus.WithField("broker", brokerID).Info("Broker not in cluster, skipping request")
			c.healNeeded = true
			continue
		}

		inFlight++
		go func(brokerID int32, results <-chan cluster.Result) {
			arrivals <- brokerResult{brokerID, <-results}
		}(brokerID, conn.SendPrepared(prep.correlationID, prep.request))
	}

	outcomes := make([]sendOutcome, 0, inFlight)
	for ; inFlight > 0; inFlight-- {
		arrival := <-arrivals

		if err := arrival.result.Err; err != nil {
			var connErr kiel.ConnectionError
			switch {
			case stderrors.As(err, &connErr):
				logrus.WithFields(logrus.Fields{
					"host": connErr.Host,
					"port": connErr.Port,
				}).Info("Connection to broker lost")
				c.healNeeded = true
			case cluster.IsStreamClosed(err):
				logrus.Info("Connection to broker lost")
			default:
				logrus.WithError(err).Error("Error sending request")
				c.healNeeded = true
			}
			continue
		}

		result, err := c.dispatch(handlers, arrival.result)
		if err != nil {
			return nil, err
		}

		outcomes = append(outcomes, sendOutcome{arrival.brokerID, result})
		if result.err != nil {
			return outcomes, result.err
		}
	}

	if c.healNeeded {
		if err := c.cluster.Heal(nil); err != nil {
			return outcomes, err
		}
		c.healNeeded = false
	}

	return outcomes, nil
}

// dispatch routes a response to the matching handler interface on the client
// type.
func (c *Client) dispatch(handlers interface{}, result cluster.Result) (handlerResult, error) {
	switch response := result.Response.(type) {
	case *protocol.ProduceResponse:
		if h, ok := handlers.(produceHandler); ok {
			return h.handleProduceResponse(response, result.CorrelationID), nil
		}
	case *protocol.FetchResponse:
		if h, ok := handlers.(fetchHandler); ok {
			return h.handleFetchResponse(response), nil
		}
	case *protocol.OffsetResponse:
		if h, ok := handlers.(offsetHandler); ok {
			return h.handleOffsetResponse(response), nil
		}
	case *protocol.OffsetFetchResponse:
		if h, ok := handlers.(offsetFetchHandler); ok {
			return h.handleOffsetFetchResponse(response), nil
		}
	case *protocol.OffsetCommitResponse:
		if h, ok := handlers.(offsetCommitHandler); ok {
			return h.handleOffsetCommitResponse(response), nil
		}
	case *protocol.GroupCoordinatorResponse:
		if h, ok := handlers.(groupCoordinatorHandler); ok {
			return h.handleGroupCoordinatorResponse(response), nil
		}
	}

	return handlerResult{}, kiel.NewUnhandledResponseError(result.Response.APIKey().String())
}
