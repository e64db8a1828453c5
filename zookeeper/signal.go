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
	"sync"
)

// signal is a resettable set/clear/wait gate used to bridge the zookeeper
// client's callback threads into the caller's flow: callbacks set or clear
// it, callers block on it.
type signal struct {
	mu    sync.Mutex
	state bool
	gate  chan struct{}
}

func newSignal() *signal {
	return &signal{
		gate: make(chan struct{}),
	}
}

// Set opens the gate, releasing current and future waiters.
func (s *signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state {
		s.state = true
		close(s.gate)
	}
}

// Clear closes the gate again so that new waiters block.
func (s *signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state {
		s.state = false
		s.gate = make(chan struct{})
	}
}

// Wait blocks until the gate is open or the given cancel channel fires.
// Returns false when cancelled.
func (s *signal) Wait(cancel <-chan struct{}) bool {
	for {
		s.mu.Lock()
		if s.state {
			s.mu.Unlock()
			return true
		}
		gate := s.gate
		s.mu.Unlock()

		select {
		case <-gate:
		case <-cancel:
			return false
		}
	}
}
