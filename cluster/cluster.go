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

// Package cluster maintains the client's picture of a Kafka cluster: one
// connection per broker plus the topic/partition/leader metadata, healed
// from fresh metadata whenever it drifts.
package cluster

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/trivago/tgo"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/protocol"
)

// DefaultPort is used for bootstrap hosts given without a port.
const DefaultPort = 9092

const (
	metricHeals       = "Cluster:Heals"
	metricConnections = "Cluster:Connections"
)

func init() {
	tgo.EnableGlobalMetrics()
	tgo.Metric.New(metricHeals)
	tgo.Metric.New(metricConnections)
}

// Cluster handles a map of Connections, one per known broker and keyed off
// of the broker id, along with topic/partition metadata and the partition
// leader brokers.
//
// A Cluster is owned by exactly one client; its maps are only mutated from
// that client's dispatch flow.
type Cluster struct {
	bootstrapHosts []string

	conns   map[int32]*Connection
	topics  map[string][]int32
	leaders map[string]map[int32]int32
}

// New creates a Cluster that will bootstrap from the given hosts, each given
// as "host" or "host:port".
func New(bootstrapHosts []string) *Cluster {
	return &Cluster{
		bootstrapHosts: bootstrapHosts,
		conns:          make(map[int32]*Connection),
		topics:         make(map[string][]int32),
		leaders:        make(map[string]map[int32]int32),
	}
}

// Start walks the bootstrap hosts in order until one answers a metadata
// request, then heals the cluster from that response. Fails with
// NoBrokersError if no bootstrap host works.
func (c *Cluster) Start() error {
	var response *protocol.MetadataResponse

	for _, bootstrapHost := range c.bootstrapHosts {
		host, port := splitHostPort(bootstrapHost)

		conn := NewConnection(host, port)

		logrus.WithField("host", bootstrapHost).Info("Using bootstrap host")

		if err := conn.Connect(); err != nil {
			logrus.WithError(err).WithField("host", bootstrapHost).Warn("Could not connect to bootstrap host")
			continue
		}

		result := <-conn.Send(&protocol.MetadataRequest{Topics: []string{}})
		conn.Close()

		if result.Err != nil {
			logrus.WithError(result.Err).WithField("host", bootstrapHost).Warn("Error bootstrapping metadata")
			continue
		}

		response = result.Response.(*protocol.MetadataResponse)
		break
	}

	if response == nil {
		return kiel.NewNoBrokersError()
	}

	logrus.Info("Metadata gathered, setting up connections")
	return c.Heal(response)
}

// Stop closes every connection in the cluster.
func (c *Cluster) Stop() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

// Heal syncs the state of the cluster with metadata retrieved from a broker.
// If no seed response is given a fresh one is fetched.
//
// Closing or aborted connections are culled first, then brokers and topics
// are reconciled repeatedly, re-fetching metadata restricted to whatever
// came up missing, until nothing is.
func (c *Cluster) Heal(response *protocol.MetadataResponse) error {
	tgo.Metric.Inc(metricHeals)

	if response == nil {
		var err error
		if response, err = c.getMetadata(nil); err != nil {
			return err
		}
	}

	for brokerID, conn := range c.conns {
		if conn.Closing() {
			logrus.WithField("broker", conn.addr()).Debug("Removing broker from cluster")
			delete(c.conns, brokerID)
		}
	}

	missingConns := c.processBrokers(response.Brokers)
	missingTopics := c.processTopics(response.Topics)

	for len(missingConns) > 0 || len(missingTopics) > 0 {
		topics := make([]string, 0, len(missingTopics))
		for topic := range missingTopics {
			topics = append(topics, topic)
		}
		sort.Strings(topics)

		var err error
		if response, err = c.getMetadata(topics); err != nil {
			return err
		}

		missingConns = c.processBrokers(response.Brokers)
		missingTopics = c.processTopics(response.Topics)
	}

	return nil
}

// getMetadata retrieves metadata from any live connection in the cluster,
// optionally limited to a set of topics. Fails with NoBrokersError when no
// connection responds.
func (c *Cluster) getMetadata(topics []string) (*protocol.MetadataResponse, error) {
	logrus.WithField("topics", topics).Debug("Gathering metadata")

	if topics == nil {
		topics = []string{}
	}

	for _, conn := range c.conns {
		result := <-conn.Send(&protocol.MetadataRequest{Topics: topics})
		if result.Err != nil {
			continue
		}
		return result.Response.(*protocol.MetadataResponse), nil
	}

	return nil, kiel.NewNoBrokersError()
}

// processBrokers syncs the connection map with the given broker metadata,
// returning the ids of brokers that could not be connected. Known
// connections absent from the metadata are aborted; they stay in the map
// until the next heal culls them.
func (c *Cluster) processBrokers(brokers []*protocol.Broker) map[int32]bool {
	current := make(map[int32]bool, len(brokers))
	missing := make(map[int32]bool)

	for _, broker := range brokers {
		current[broker.BrokerID] = true

		if _, connected := c.conns[broker.BrokerID]; connected {
			continue
		}

		conn := NewConnection(broker.Host, int(broker.Port))
		if err := conn.Connect(); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"broker": broker.BrokerID,
				"host":   broker.Host,
				"port":   broker.Port,
			}).Warn("Could not add broker")
			missing[broker.BrokerID] = true
			continue
		}

		c.conns[broker.BrokerID] = conn
		tgo.Metric.Inc(metricConnections)
	}

	for brokerID, conn := range c.conns {
		if !current[brokerID] {
			conn.Abort(nil)
		}
	}

	return missing
}

// processTopics rebuilds the topic and leader maps from the given topic
// metadata, returning the names of topics that were missing data or whose
// leaders aren't connected. The maps are replaced wholesale once assembled.
func (c *Cluster) processTopics(responseTopics []*protocol.TopicMetadata) map[string]bool {
	topics := make(map[string][]int32)
	leaders := make(map[string]map[int32]int32)

	missing := make(map[string]bool)

	for _, topic := range responseTopics {
		if topic.ErrorCode == protocol.ErrUnknownTopicOrPartition {
			logrus.WithField("topic", topic.Name).Error("Unknown topic")
			continue
		}
		if topic.ErrorCode == protocol.ErrReplicaNotAvailable {
			missing[topic.Name] = true
			continue
		}

		for _, partition := range topic.Partitions {
			if partition.ErrorCode == protocol.ErrLeaderNotAvailable ||
				partition.ErrorCode == protocol.ErrReplicaNotAvailable {
				logrus.WithFields(logrus.Fields{
					"topic":     topic.Name,
					"partition": partition.PartitionID,
				}).Warn("Leader not available, election in progress")
				missing[topic.Name] = true
				continue
			}
			if _, connected := c.conns[partition.Leader]; !connected {
				logrus.WithFields(logrus.Fields{
					"topic":     topic.Name,
					"partition": partition.PartitionID,
				}).Warn("Leader not in current connections")
				missing[topic.Name] = true
				continue
			}

			topics[topic.Name] = append(topics[topic.Name], partition.PartitionID)
			if leaders[topic.Name] == nil {
				leaders[topic.Name] = make(map[int32]int32)
			}
			leaders[topic.Name][partition.PartitionID] = partition.Leader
		}
	}

	c.topics = topics
	c.leaders = leaders

	return missing
}

// GetLeader returns the leader broker id for a topic/partition combo.
func (c *Cluster) GetLeader(topic string, partitionID int32) (int32, bool) {
	partitions, known := c.leaders[topic]
	if !known {
		return 0, false
	}
	leader, known := partitions[partitionID]
	return leader, known
}

// Conn returns the connection for a broker id, or nil if not connected.
func (c *Cluster) Conn(brokerID int32) *Connection {
	return c.conns[brokerID]
}

// HasBroker reports whether the given broker id has a connection in the
// cluster. An aborted connection still counts until the next heal culls it.
func (c *Cluster) HasBroker(brokerID int32) bool {
	_, connected := c.conns[brokerID]
	return connected
}

// BrokerIDs returns the ids of all connected brokers in ascending order.
func (c *Cluster) BrokerIDs() []int32 {
	brokerIDs := make([]int32, 0, len(c.conns))
	for brokerID := range c.conns {
		brokerIDs = append(brokerIDs, brokerID)
	}
	sort.Slice(brokerIDs, func(i, j int) bool { return brokerIDs[i] < brokerIDs[j] })
	return brokerIDs
}

// HasTopic reports whether the topic is present in the current metadata.
func (c *Cluster) HasTopic(topic string) bool {
	_, known := c.topics[topic]
	return known
}

// Partitions returns the partition ids known for a topic.
func (c *Cluster) Partitions(topic string) []int32 {
	return c.topics[topic]
}

// Topics returns a copy of the full topic/partition map.
func (c *Cluster) Topics() map[string][]int32 {
	topics := make(map[string][]int32, len(c.topics))
	for topic, partitions := range c.topics {
		topics[topic] = append([]int32{}, partitions...)
	}
	return topics
}

// splitHostPort parses "host" or "host:port" bootstrap entries, falling back
// to the default Kafka port.
func splitHostPort(hostport string) (string, int) {
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		if port, err := strconv.Atoi(hostport[idx+1:]); err == nil {
			return hostport[:idx], port
		}
	}
	return hostport, DefaultPort
}
