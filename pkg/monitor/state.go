// Copyright 2024 Netflexity, Ltd.
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

package monitor

import (
	"math"
	"sync"
	"time"
)

// stateBufferCap bounds the per-state observation window.
const stateBufferCap = 100

// StateKey identifies the evaluation state of one monitor against one
// destination.
type StateKey struct {
	Monitor     string
	Queue       string
	Environment string
	Region      string
}

// State is the windowed evaluation state for one (monitor, destination) pair.
type State struct {
	mu            sync.Mutex
	lastTriggered time.Time
	lastNotified  time.Time
	consecutive   int
	values        []float64
}

// Append records an observation, evicting the oldest when the window is full.
func (s *State) Append(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == stateBufferCap {
		copy(s.values, s.values[1:])
		s.values = s.values[:stateBufferCap-1]
	}
	s.values = append(s.values, v)
}

// Len returns the number of buffered observations.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Baseline returns the mean and population standard deviation over the full
// buffer. ok is false when the buffer is empty.
func (s *State) Baseline() (mean, stddev float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return baseline(s.values)
}

// RecentMean returns the mean over the most recent n observations (fewer when
// the buffer holds less). ok is false when the buffer is empty.
func (s *State) RecentMean(n int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 || n < 1 {
		return 0, false
	}
	if n > len(s.values) {
		n = len(s.values)
	}
	sum := 0.0
	for _, v := range s.values[len(s.values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// MarkTriggered records a triggered evaluation.
func (s *State) MarkTriggered(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTriggered = now
	s.consecutive++
}

// MarkResolved resets the consecutive trigger count.
func (s *State) MarkResolved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
}

// ShouldNotify reports whether the cooldown has elapsed since the last
// notification.
func (s *State) ShouldNotify(now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotified.IsZero() || !now.Before(s.lastNotified.Add(cooldown))
}

// MarkNotified records a successful dispatch.
func (s *State) MarkNotified(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNotified = now
}

// Snapshot returns an immutable view for the control-plane API.
func (s *State) Snapshot() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	mean, stddev, _ := baseline(s.values)
	return StateView{
		LastTriggered:  s.lastTriggered,
		LastNotified:   s.lastNotified,
		Consecutive:    s.consecutive,
		Samples:        len(s.values),
		BaselineMean:   mean,
		BaselineStdDev: stddev,
	}
}

// StateView is the read-only projection of a State.
type StateView struct {
	Queue          string    `json:"queue"`
	Environment    string    `json:"environment"`
	Region         string    `json:"region"`
	LastTriggered  time.Time `json:"lastTriggered,omitzero"`
	LastNotified   time.Time `json:"lastNotified,omitzero"`
	Consecutive    int       `json:"consecutiveTriggers"`
	Samples        int       `json:"samples"`
	BaselineMean   float64   `json:"baselineMean"`
	BaselineStdDev float64   `json:"baselineStdDev"`
}

func baseline(values []float64) (mean, stddev float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	varsum := 0.0
	for _, v := range values {
		d := v - mean
		varsum += d * d
	}
	stddev = math.Sqrt(varsum / float64(len(values)))
	return mean, stddev, true
}
