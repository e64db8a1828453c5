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

package clients

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/trivago/tgo"

	"github.com/wglass/kiel"
	"github.com/wglass/kiel/protocol"
	"github.com/wglass/kiel/zookeeper"
)

// PartitionAllocator apportions topic partitions among the members of a
// consumer group. The zookeeper package provides the standard
// implementation.
type PartitionAllocator interface {
	// Start joins the group and blocks until membership and the partition
	// set have been collected, seeded with the given topic partitions.
	Start(seedPartitions map[string][]int32) error
	// Stop announces departure from the group and releases resources.
	Stop() error
	// Allocation returns the partitions currently owned by this member.
	Allocation() map[string][]int32
}

// GroupedConsumerConfig collects the tunables of a GroupedConsumer. Use
// NewGroupedConsumerConfig for the defaults.
type GroupedConsumerConfig struct {
	ConsumerConfig

	// ZKHosts are the zookeeper servers coordinating the group.
	ZKHosts []string
	// AllocatorFn maps sorted members and partitions to an allocation,
	// zookeeper.RoundRobinAllocator by default. It MUST be stable: every
	// member has to agree on who owns what.
	AllocatorFn zookeeper.AllocatorFn
	// Autocommit commits offsets after every successful consume.
	Autocommit bool

	// Allocator overrides the zookeeper-backed partition allocator
	// entirely; ZKHosts and AllocatorFn are ignored when set.
	Allocator PartitionAllocator
}

// NewGroupedConsumerConfig returns a GroupedConsumerConfig with the default
// values set.
func NewGroupedConsumerConfig() *GroupedConsumerConfig {
	return &GroupedConsumerConfig{
		ConsumerConfig: *NewConsumerConfig(),
		AllocatorFn:    zookeeper.RoundRobinAllocator,
		Autocommit:     true,
	}
}

// GroupedConsumer coordinates consumption with other members of a named
// group. Partition ownership is driven by a shared allocator; consumed
// offsets are committed to and fetched from the group's coordinator broker.
type GroupedConsumer struct {
	*Consumer

	groupName string
	allocator PartitionAllocator

	autocommit       bool
	coordinatorID    int32
	coordinatorKnown bool
	topicsToCommit   map[string]bool
}

// NewGroupedConsumer creates a consumer that joins the given group,
// coordinating membership through zookeeper. A nil config uses the defaults.
func NewGroupedConsumer(brokers []string, group string, config *GroupedConsumerConfig) (*GroupedConsumer, error) {
	if config == nil {
		config = NewGroupedConsumerConfig()
	}

	g := &GroupedConsumer{
		Consumer:       newConsumer(brokers, &config.ConsumerConfig),
		groupName:      group,
		autocommit:     config.Autocommit,
		topicsToCommit: make(map[string]bool),
	}
	g.strategy = g
	g.handlers = g

	g.allocator = config.Allocator
	if g.allocator == nil {
		allocatorFn := config.AllocatorFn
		if allocatorFn == nil {
			allocatorFn = zookeeper.RoundRobinAllocator
		}
		g.allocator = zookeeper.NewPartitionAllocator(
			config.ZKHosts, group, g.Name, allocatorFn, g.desyncAll,
		)
	}

	return g, nil
}

// desyncAll clears every synced topic so that offsets are re-fetched after
// the group rebalances.
func (g *GroupedConsumer) desyncAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synced = make(map[string]bool)
}

// Connect starts the cluster, joins the group via the allocator seeded with
// the known topics, and determines the group's coordinator broker.
func (g *GroupedConsumer) Connect() error {
	if err := g.Client.Connect(); err != nil {
		return err
	}
	if err := g.allocator.Start(g.cluster.Topics()); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.determineCoordinator()
}

// Close winds the consumer down, announcing group departure.
func (g *GroupedConsumer) Close() error {
	return g.close(func() error {
		return g.allocator.Stop()
	})
}

// Consume fetches from the topic's allocated partitions and, when
// autocommitting, commits the advanced offsets before returning.
func (g *GroupedConsumer) Consume(topic string) ([]interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	messages, err := g.consume(topic, StartLatest)
	if err != nil {
		return nil, err
	}

	if !g.synced[topic] {
		return []interface{}{}, nil
	}

	g.topicsToCommit[topic] = true

	if g.autocommit {
		if err := g.commitOffsets(g.defaultMetadata()); err != nil {
			return messages, err
		}
	}

	return messages, nil
}

// allocation is whatever the group's allocator assigned to this member.
func (g *GroupedConsumer) allocation() map[string][]int32 {
	return g.allocator.Allocation()
}

// determineCoordinator finds the broker coordinating the group. Every broker
// carries coordinator metadata, so each one is tried until an answer
// arrives; retriable errors heal the cluster and retry.
func (g *GroupedConsumer) determineCoordinator() error {
	request := &protocol.GroupCoordinatorRequest{Group: g.groupName}

	determined := false
	for !determined {
		brokerIDs := g.cluster.BrokerIDs()
		if len(brokerIDs) == 0 {
			return kiel.NewNoBrokersError()
		}

		for _, brokerID := range brokerIDs {
			outcomes, err := g.send(map[int32]protocol.Request{brokerID: request}, g.handlers)
			if err != nil {
				return err
			}
			if len(outcomes) > 0 && outcomes[0].Determined {
				determined = true
				break
			}
		}
	}

	return nil
}

// handleGroupCoordinatorResponse records the coordinator on success. A
// retriable code leaves discovery undetermined and marks the cluster for
// healing; a fatal code is logged but still counts as determined so that
// Connect does not block forever.
func (g *GroupedConsumer) handleGroupCoordinatorResponse(response *protocol.GroupCoordinatorResponse) handlerResult {
	switch {
	case response.ErrorCode == protocol.ErrNoError:
		logrus.WithField("broker", response.CoordinatorID).Info("Found coordinator")
		g.coordinatorID = response.CoordinatorID
		g.coordinatorKnown = true
		return handlerResult{Determined: true}

	case response.ErrorCode.Retriable():
		g.healNeeded = true
		return handlerResult{}

	default:
		logrus.WithField("error", response.ErrorCode.String()).Error("Error determining coordinator")
		return handlerResult{Determined: true}
	}
}

// determineOffsets fetches the group's committed offsets for a topic from
// the coordinator, retrying while the coordinator is still loading them.
func (g *GroupedConsumer) determineOffsets(topic string, _ StartPosition) error {
	logrus.WithField("group", g.groupName).Info("Fetching offsets for consumer group")

	if !g.coordinatorKnown {
		return kiel.NewNoOffsetsError(topic)
	}

	request := &protocol.OffsetFetchRequest{
		Group: g.groupName,
		Topics: []*protocol.OffsetFetchTopicRequest{
			{Name: topic, Partitions: g.allocation()[topic]},
		},
	}

	retry := true
	for retry {
		outcomes, err := g.send(map[int32]protocol.Request{g.coordinatorID: request}, g.handlers)
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			return kiel.NewNoOffsetsError(topic)
		}
		retry = outcomes[0].Retry
	}

	return nil
}

// handleOffsetFetchResponse records fetched offsets. An in-progress offsets
// load means simply try again; other retriable codes also heal the cluster.
// Fatal codes finish the loop, then report NoOffsetsError.
func (g *GroupedConsumer) handleOffsetFetchResponse(response *protocol.OffsetFetchResponse) handlerResult {
	if len(response.Topics) == 0 {
		return handlerResult{}
	}

	result := handlerResult{}

	topic := response.Topics[0].Name
	for _, partition := range response.Topics[0].Partitions {
		code := partition.ErrorCode
		switch {
		case code == protocol.ErrNoError:
			logrus.WithFields(logrus.Fields{
				"group":     g.groupName,
				"topic":     topic,
				"partition": partition.PartitionID,
				"offset":    partition.Offset,
			}).Debug("Got offset for group")
			if g.offsets[topic] == nil {
				g.offsets[topic] = make(map[int32]int64)
			}
			g.offsets[topic][partition.PartitionID] = partition.Offset

		case code == protocol.ErrOffsetsLoadInProgress:
			logrus.WithFields(logrus.Fields{
				"topic":     topic,
				"partition": partition.PartitionID,
			}).Info("Offsets load in progress, retrying offset fetch")
			result.Retry = true

		case code.Retriable():
			g.healNeeded = true
			result.Retry = true

		default:
			logrus.WithFields(logrus.Fields{
				"error":     code.String(),
				"topic":     topic,
				"partition": partition.PartitionID,
			}).Error("Error fetching group offsets")
			result.err = kiel.NewNoOffsetsError(topic)
		}
	}

	return result
}

// CommitOffsets notifies Kafka that the consumed messages have been
// processed, using the v0 offset commit api for compatibility with clusters
// running 0.8.1.
func (g *GroupedConsumer) CommitOffsets() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitOffsets(g.defaultMetadata())
}

func (g *GroupedConsumer) defaultMetadata() string {
	return fmt.Sprintf("committed by %s", g.Name)
}

// commitOffsets sends one commit covering every allocated partition of the
// topics awaiting a commit. A metadata-too-large error retries once with
// blank metadata; retriable errors retry with the same metadata after a
// heal.
func (g *GroupedConsumer) commitOffsets(metadata string) error {
	logrus.WithField("group", g.groupName).Debug("Committing offsets for consumer group")

	request := &protocol.OffsetCommitV0Request{Group: g.groupName}
	for topic, partitionIDs := range g.allocation() {
		if !g.topicsToCommit[topic] {
			continue
		}

		topicRequest := &protocol.OffsetCommitTopicRequest{Name: topic}
		for _, partitionID := range partitionIDs {
			topicRequest.Partitions = append(topicRequest.Partitions, &protocol.OffsetCommitPartitionRequest{
				PartitionID: partitionID,
				Offset:      g.offsets[topic][partitionID],
				Metadata:    metadata,
			})
		}
		request.Topics = append(request.Topics, topicRequest)
	}

	if len(request.Topics) == 0 {
		return nil
	}

	outcomes, err := g.send(map[int32]protocol.Request{g.coordinatorID: request}, g.handlers)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return nil
	}

	tgo.Metric.Inc(metricOffsetCommits)

	retry, adjustMetadata := outcomes[0].Retry, outcomes[0].AdjustMetadata
	if adjustMetadata {
		logrus.WithField("metadata", metadata).Warn("Offset commit metadata was too long")
		metadata = ""
	}
	if retry {
		return g.commitOffsets(metadata)
	}
	return nil
}

// handleOffsetCommitResponse clears committed topics from the pending set.
// Metadata-too-large asks for a retry with blank metadata; other retriable
// codes retry as-is after a heal.
func (g *GroupedConsumer) handleOffsetCommitResponse(response *protocol.OffsetCommitResponse) handlerResult {
	result := handlerResult{}

	for _, topic := range response.Topics {
		for _, partition := range topic.Partitions {
			code := partition.ErrorCode
			switch {
			case code == protocol.ErrNoError:
				delete(g.topicsToCommit, topic.Name)

			case code == protocol.ErrOffsetMetadataTooLarge:
				result.Retry = true
				result.AdjustMetadata = true

			case code.Retriable():
				result.Retry = true
				g.healNeeded = true

			default:
				logrus.WithFields(logrus.Fields{
					"error":     code.String(),
					"topic":     topic.Name,
					"partition": partition.PartitionID,
				}).Error("Error committing offsets")
			}
		}
	}

	return result
}
