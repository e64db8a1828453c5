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

// Package zookeeper implements the coordination recipes used by the grouped
// consumer: a membership "party", a locked shared set, and the partition
// allocator built on both.
package zookeeper

import (
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// watchRetryDelay spaces out re-arming attempts after watch errors.
const watchRetryDelay = time.Second

// conn is the slice of the zookeeper client used by the recipes, so tests
// can stand in for a real session.
type conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	SessionID() int64
}

// ensurePath creates a path and any missing parents, ignoring nodes that
// already exist.
func ensurePath(client conn, path string) error {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	assembled := ""
	for _, segment := range segments {
		assembled += "/" + segment
		_, err := client.Create(assembled, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "ensuring path %s", assembled)
		}
	}
	return nil
}

// isSessionGone reports whether a watch error means the session is over and
// the loop should stop rather than retry.
func isSessionGone(err error) bool {
	return err == zk.ErrClosing || err == zk.ErrConnectionClosed || err == zk.ErrSessionExpired
}

// Party represents a group of processes, each present as one ephemeral child
// node under the party path. Losing the session is indistinguishable from
// leaving, so membership always reflects live processes.
type Party struct {
	client conn

	memberName string
	path       string

	onChange func(members []string)
	done     chan struct{}
	leave    sync.Once
}

// NewParty creates a party handle rooted at the given path. The onChange
// callback receives the full member list on every membership change.
func NewParty(client conn, memberName string, path string, onChange func(members []string)) *Party {
	return &Party{
		client:     client,
		memberName: memberName,
		path:       path,
		onChange:   onChange,
		done:       make(chan struct{}),
	}
}

// Start ensures the party path exists and begins watching membership.
// Expected to be called before Join.
func (p *Party) Start() error {
	if err := ensurePath(p.client, p.path); err != nil {
		return err
	}

	go p.watchMembers()
	return nil
}

func (p *Party) watchMembers() {
	for {
		members, _, events, err := p.client.ChildrenW(p.path)
		if err != nil {
			if isSessionGone(err) {
				return
			}
			logrus.WithError(err).WithField("path", p.path).Warn("Error watching party members")
			select {
			case <-time.After(watchRetryDelay):
				continue
			case <-p.done:
				return
			}
		}

		p.onChange(members)

		select {
		case <-events:
		case <-p.done:
			return
		}
	}
}

// Join establishes this process as a member of the party by creating its
// ephemeral child node. A leftover node owned by a dead session is recreated
// to establish ownership.
func (p *Party) Join() error {
	logrus.WithFields(logrus.Fields{
		"path":   p.path,
		"member": p.memberName,
	}).Info("Joining party")

	path := p.path + "/" + p.memberName

	exists, stat, err := p.client.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "joining party at %s", p.path)
	}

	if exists && stat.EphemeralOwner != p.client.SessionID() {
		logrus.WithField("path", path).Debug("Member node not owned by us, recreating")
		if err := p.client.Delete(path, -1); err != nil && err != zk.ErrNoNode {
			return errors.Wrapf(err, "replacing member node %s", path)
		}
		exists = false
	}

	if !exists {
		_, err := p.client.Create(path, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "creating member node %s", path)
		}
	}

	return nil
}

// Leave removes this process from the party. Already gone is fine.
func (p *Party) Leave() error {
	logrus.WithFields(logrus.Fields{
		"path":   p.path,
		"member": p.memberName,
	}).Info("Leaving party")

	p.leave.Do(func() { close(p.done) })

	err := p.client.Delete(p.path+"/"+p.memberName, -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrapf(err, "leaving party at %s", p.path)
	}
	return nil
}
