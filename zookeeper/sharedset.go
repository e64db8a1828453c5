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
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// locker is the distributed lock guarding shared set updates.
type locker interface {
	Lock() error
	Unlock() error
}

// SharedSet is a set of strings stored as a JSON-encoded list in a single
// znode, updated behind a distributed lock and watched for changes.
type SharedSet struct {
	client conn
	lock   locker

	path string

	onChange func(items map[string]bool)
	done     chan struct{}
	stop     sync.Once
}

// NewSharedSet creates a shared set handle at the given path. The onChange
// callback receives the full decoded set on every data change.
func NewSharedSet(client conn, lock locker, path string, onChange func(items map[string]bool)) *SharedSet {
	return &SharedSet{
		client:   client,
		lock:     lock,
		path:     path,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// LockPath returns the znode path of a set's guarding lock.
func LockPath(path string) string {
	return path + "/lock"
}

// Start ensures the set's path exists and begins watching its data.
func (s *SharedSet) Start() error {
	if err := ensurePath(s.client, s.path); err != nil {
		return err
	}

	go s.watchData()
	return nil
}

// Stop ends the data watch.
func (s *SharedSet) Stop() {
	s.stop.Do(func() { close(s.done) })
}

func (s *SharedSet) watchData() {
	for {
		data, _, events, err := s.client.GetW(s.path)
		if err != nil {
			if isSessionGone(err) {
				return
			}
			logrus.WithError(err).WithField("path", s.path).Warn("Error watching shared set")
			select {
			case <-time.After(watchRetryDelay):
				continue
			case <-s.done:
				return
			}
		}

		s.onChange(deserializeSet(data))

		select {
		case <-events:
		case <-s.done:
			return
		}
	}
}

// AddItems updates the set's data to include the given items. If every item
// is already present no write happens. The whole operation runs behind the
// set's lock to combat contention among sharers.
func (s *SharedSet) AddItems(newItems []string) error {
	if err := s.lock.Lock(); err != nil {
		return errors.Wrapf(err, "locking shared set %s", s.path)
	}
	defer s.lock.Unlock()

	data, _, err := s.client.Get(s.path)
	if err != nil {
		return errors.Wrapf(err, "reading shared set %s", s.path)
	}
	existing := deserializeSet(data)

	changed := false
	for _, item := range newItems {
		if !existing[item] {
			existing[item] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	_, err = s.client.Set(s.path, serializeSet(existing), -1)
	return errors.Wrapf(err, "writing shared set %s", s.path)
}

// RemoveItems updates the set's data to exclude the given items. If none of
// the items are present no write happens.
func (s *SharedSet) RemoveItems(oldItems []string) error {
	if err := s.lock.Lock(); err != nil {
		return errors.Wrapf(err, "locking shared set %s", s.path)
	}
	defer s.lock.Unlock()

	data, _, err := s.client.Get(s.path)
	if err != nil {
		return errors.Wrapf(err, "reading shared set %s", s.path)
	}
	existing := deserializeSet(data)

	changed := false
	for _, item := range oldItems {
		if existing[item] {
			delete(existing, item)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	_, err = s.client.Set(s.path, serializeSet(existing), -1)
	return errors.Wrapf(err, "writing shared set %s", s.path)
}

// serializeSet renders set items as a sorted JSON list.
func serializeSet(items map[string]bool) []byte {
	list := make([]string, 0, len(items))
	for item := range items {
		list = append(list, item)
	}
	sort.Strings(list)

	data, _ := json.Marshal(list)
	return data
}

// deserializeSet parses a JSON list into a set, treating missing or
// malformed data as empty.
func deserializeSet(data []byte) map[string]bool {
	items := make(map[string]bool)

	if len(data) == 0 {
		return items
	}

	list := []string{}
	if err := json.Unmarshal(data, &list); err != nil {
		logrus.WithError(err).Warn("Could not parse shared set data")
		return items
	}

	for _, item := range list {
		items[item] = true
	}
	return items
}
