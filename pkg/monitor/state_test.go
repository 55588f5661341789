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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateBufferEvictsOldest(t *testing.T) {
	t.Parallel()
	s := &State{}
	for i := range stateBufferCap + 10 {
		s.Append(float64(i))
	}
	require.Equal(t, stateBufferCap, s.Len())

	// The oldest ten observations were evicted; the mean shifts accordingly.
	mean, _, ok := s.Baseline()
	require.True(t, ok)
	require.InDelta(t, 59.5, mean, 1e-9)
}

func TestStateBaseline(t *testing.T) {
	t.Parallel()
	s := &State{}

	_, _, ok := s.Baseline()
	require.False(t, ok)

	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Append(v)
	}
	mean, stddev, ok := s.Baseline()
	require.True(t, ok)
	require.InDelta(t, 5.0, mean, 1e-9)
	// Population standard deviation, not sample.
	require.InDelta(t, 2.0, stddev, 1e-9)
}

func TestStateRecentMean(t *testing.T) {
	t.Parallel()
	s := &State{}
	for _, v := range []float64{10, 20, 30, 40} {
		s.Append(v)
	}

	m, ok := s.RecentMean(2)
	require.True(t, ok)
	require.InDelta(t, 35.0, m, 1e-9)

	// Asking for more than buffered falls back to the whole buffer.
	m, ok = s.RecentMean(100)
	require.True(t, ok)
	require.InDelta(t, 25.0, m, 1e-9)

	empty := &State{}
	_, ok = empty.RecentMean(2)
	require.False(t, ok)
}

func TestStateCooldown(t *testing.T) {
	t.Parallel()
	s := &State{}
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 10 * time.Minute

	// Never notified: the gate is open.
	require.True(t, s.ShouldNotify(base, cooldown))

	s.MarkNotified(base)
	require.False(t, s.ShouldNotify(base.Add(9*time.Minute), cooldown))
	require.True(t, s.ShouldNotify(base.Add(10*time.Minute), cooldown))
}

func TestStateConsecutiveTriggers(t *testing.T) {
	t.Parallel()
	s := &State{}
	now := time.Now()

	s.MarkTriggered(now)
	s.MarkTriggered(now)
	view := s.Snapshot()
	require.Equal(t, 2, view.Consecutive)

	s.MarkResolved()
	require.Equal(t, 0, s.Snapshot().Consecutive)
}
