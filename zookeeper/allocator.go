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

package zookeeper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// sessionTimeout is the zookeeper session timeout used by the allocator.
const sessionTimeout = 10 * time.Second

// AllocatorFn maps the sorted member list and the sorted "topic:partition"
// list of a group to a member -> topic -> partitions allocation.
//
// An AllocatorFn MUST be stable: every member of the group runs it
// independently and all of them have to agree on what goes where.
type AllocatorFn func(members []string, partitions []string) map[string]map[string][]int32

// RoundRobinAllocator is the default AllocatorFn. Members are cycled over
// and handed one partition each until none are left, aiming for an even
// spread of partition counts. Incidental clustering of partitions within the
// same topic is not considered.
//
// Partitions are split on their last colon, so topic names containing ':'
// allocate correctly.
func RoundRobinAllocator(members []string, partitions []string) map[string]map[string][]int32 {
	mapping := make(map[string]map[string][]int32)
	if len(members) == 0 {
		return mapping
	}

	for i, partition := range partitions {
		member := members[i%len(members)]

		idx := strings.LastIndex(partition, ":")
		if idx < 0 {
			continue
		}
		partitionID, err := strconv.Atoi(partition[idx+1:])
		if err != nil {
			continue
		}
		topic := partition[:idx]

		if mapping[member] == nil {
			mapping[member] = make(map[string][]int32)
		}
		mapping[member][topic] = append(mapping[member][topic], int32(partitionID))
	}

	return mapping
}

// PartitionAllocator apportions partitions among the members of a consumer
// group via zookeeper: a Party tracks membership, a SharedSet holds the
// partitions to divvy up, and every change to either reruns the allocator
// function on all members.
type PartitionAllocator struct {
	zkHosts      []string
	groupName    string
	consumerName string

	allocatorFn AllocatorFn
	onRebalance func()

	client *zk.Conn

	party     *Party
	sharedSet *SharedSet

	connected           *signal
	membersCollected    *signal
	partitionsCollected *signal
	stopped             chan struct{}
	stop                sync.Once

	mu         sync.Mutex
	members    map[string]bool
	partitions map[string]bool
	mapping    map[string]map[string][]int32
}

// NewPartitionAllocator creates an allocator for a member of the given
// group. The optional onRebalance callback fires after every recomputed
// allocation.
func NewPartitionAllocator(
	zkHosts []string,
	groupName string,
	consumerName string,
	allocatorFn AllocatorFn,
	onRebalance func(),
) *PartitionAllocator {
	return &PartitionAllocator{
		zkHosts:             zkHosts,
		groupName:           groupName,
		consumerName:        consumerName,
		allocatorFn:         allocatorFn,
		onRebalance:         onRebalance,
		connected:           newSignal(),
		membersCollected:    newSignal(),
		partitionsCollected: newSignal(),
		stopped:             make(chan struct{}),
		members:             make(map[string]bool),
		partitions:          make(map[string]bool),
		mapping:             make(map[string]map[string][]int32),
	}
}

// MembersPath returns the znode path of the group's member party.
func (p *PartitionAllocator) MembersPath() string {
	return fmt.Sprintf("/kiel/groups/%s/members", p.groupName)
}

// PartitionPath returns the znode path of the group's shared partition set.
func (p *PartitionAllocator) PartitionPath() string {
	return fmt.Sprintf("/kiel/groups/%s/partitions", p.groupName)
}

// Start connects to zookeeper, joins the group and seeds the shared
// partition set with the given topic partitions. Blocks until the session
// is live and both membership and partition data have been collected.
func (p *PartitionAllocator) Start(seedPartitions map[string][]int32) error {
	logrus.WithField("group", p.groupName).Info("Starting partition allocator")

	client, events, err := zk.Connect(p.zkHosts, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return errors.Wrap(err, "connecting to zookeeper")
	}
	p.client = client

	go p.watchSession(events)

	if !p.connected.Wait(p.stopped) {
		return errors.New("allocator stopped before zookeeper session established")
	}

	p.party = NewParty(client, p.consumerName, p.MembersPath(), p.onMembersChange)
	p.sharedSet = NewSharedSet(
		client,
		zk.NewLock(client, LockPath(p.PartitionPath()), zk.WorldACL(zk.PermAll)),
		p.PartitionPath(),
		p.onPartitionsChange,
	)

	if err := p.party.Start(); err != nil {
		return err
	}
	if err := p.sharedSet.Start(); err != nil {
		return err
	}
	if err := p.party.Join(); err != nil {
		return err
	}
	if err := p.AddPartitions(seedPartitions); err != nil {
		return err
	}

	if !p.membersCollected.Wait(p.stopped) {
		return errors.New("allocator stopped before members were collected")
	}
	if !p.partitionsCollected.Wait(p.stopped) {
		return errors.New("allocator stopped before partitions were collected")
	}

	return nil
}

// Stop leaves the party, notifying the other members, and closes the
// zookeeper session.
func (p *PartitionAllocator) Stop() error {
	logrus.WithField("group", p.groupName).Info("Stopping partition allocator")

	p.stop.Do(func() { close(p.stopped) })

	var err error
	if p.party != nil {
		err = p.party.Leave()
	}
	if p.sharedSet != nil {
		p.sharedSet.Stop()
	}
	if p.client != nil {
		p.client.Close()
	}

	return err
}

// watchSession keeps the connected signal in step with the session state.
func (p *PartitionAllocator) watchSession(events <-chan zk.Event) {
	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			switch event.State {
			case zk.StateHasSession:
				logrus.Info("Zookeeper session (re)established")
				p.connected.Set()
			case zk.StateDisconnected:
				logrus.Info("Zookeeper connection lost")
				p.connected.Clear()
			case zk.StateExpired:
				logrus.Info("Zookeeper session expired")
				p.connected.Clear()
			}
		case <-p.stopped:
			return
		}
	}
}

// Allocation returns the topics and partitions currently assigned to this
// member.
func (p *PartitionAllocator) Allocation() map[string][]int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mapping[p.consumerName]
}

// AddPartitions ensures that the shared set contains the given topic
// partitions, given as a topic -> partition ids map.
func (p *PartitionAllocator) AddPartitions(partitions map[string][]int32) error {
	items := partitionItems(partitions)

	logrus.WithFields(logrus.Fields{
		"group": p.groupName,
		"count": len(items),
	}).Info("Adding partitions to consumer group")

	if !p.connected.Wait(p.stopped) {
		return errors.New("allocator stopped while adding partitions")
	}
	return p.sharedSet.AddItems(items)
}

// RemovePartitions ensures that the shared set does not contain the given
// topic partitions.
func (p *PartitionAllocator) RemovePartitions(partitions map[string][]int32) error {
	items := partitionItems(partitions)

	logrus.WithFields(logrus.Fields{
		"group": p.groupName,
		"count": len(items),
	}).Info("Removing partitions from consumer group")

	if !p.connected.Wait(p.stopped) {
		return errors.New("allocator stopped while removing partitions")
	}
	return p.sharedSet.RemoveItems(items)
}

// onMembersChange reacts to party membership changes, rebalancing when
// membership actually changed.
func (p *PartitionAllocator) onMembersChange(members []string) {
	logrus.WithField("group", p.groupName).Info("Consumer group members changed")

	newMembers := make(map[string]bool, len(members))
	for _, member := range members {
		newMembers[member] = true
	}

	p.mu.Lock()
	changed := !sameSet(p.members, newMembers)
	if changed {
		p.members = newMembers
		p.rebalance()
	}
	p.mu.Unlock()

	if changed {
		p.fireRebalanced()
	}
	p.membersCollected.Set()
}

// onPartitionsChange reacts to shared set data changes, rebalancing when the
// partition set actually changed.
func (p *PartitionAllocator) onPartitionsChange(partitions map[string]bool) {
	p.mu.Lock()
	changed := !sameSet(p.partitions, partitions)
	if changed {
		p.partitions = partitions
		p.rebalance()
	}
	p.mu.Unlock()

	if changed {
		p.fireRebalanced()
	}
	p.partitionsCollected.Set()
}

// rebalance reruns the allocator function over the sorted members and
// partitions. Callers hold the mutex; the onRebalance callback is fired
// separately once the lock is released.
func (p *PartitionAllocator) rebalance() {
	logrus.WithField("group", p.groupName).Info("Rebalancing partitions for group")

	members := make([]string, 0, len(p.members))
	for member := range p.members {
		members = append(members, member)
	}
	sort.Strings(members)

	partitions := make([]string, 0, len(p.partitions))
	for partition := range p.partitions {
		partitions = append(partitions, partition)
	}
	sort.Strings(partitions)

	p.mapping = p.allocatorFn(members, partitions)

	for topic, partitionIDs := range p.mapping[p.consumerName] {
		logrus.WithFields(logrus.Fields{
			"topic":      topic,
			"partitions": partitionIDs,
		}).Debug("Allocation for topic")
	}
}

func (p *PartitionAllocator) fireRebalanced() {
	if p.onRebalance != nil {
		p.onRebalance()
	}
}

// partitionItems renders a topic -> partitions map as "topic:partition"
// strings.
func partitionItems(partitions map[string][]int32) []string {
	items := make([]string, 0, len(partitions))
	for topic, partitionIDs := range partitions {
		for _, partitionID := range partitionIDs {
			items = append(items, fmt.Sprintf("%s:%d", topic, partitionID))
		}
	}
	sort.Strings(items)
	return items
}

// sameSet compares two string sets for equality.
func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for item := range a {
		if !b[item] {
			return false
		}
	}
	return true
}
