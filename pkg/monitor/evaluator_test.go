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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
	"github.com/netflexity/anypoint-mq-exporter/pkg/collector"
	"github.com/netflexity/anypoint-mq-exporter/pkg/license"
	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
)

type fakeSource struct {
	snaps []collector.QueueSnapshot
}

func (f *fakeSource) QueueSnapshots() []collector.QueueSnapshot { return f.snaps }

func snapshot(queue string, stats anypoint.QueueStats, isDLQ bool) collector.QueueSnapshot {
	return collector.QueueSnapshot{
		Key:   collector.Key{Queue: queue, Environment: "prod", Region: "us-east-1"},
		Stats: stats,
		IsDLQ: isDLQ,
	}
}

func newTestEvaluator(t *testing.T, source StatsSource, lic *license.License, defs ...Definition) *Evaluator {
	t.Helper()
	if lic == nil {
		lic = license.New("AMQE-PRO-12345678")
	}
	dispatcher := notify.NewDispatcher(nil, nil, nil)
	e, err := New(nil, nil, source, dispatcher, lic, defs, Opts{Enabled: true})
	require.NoError(t, err)
	return e
}

func TestQueueDepthMonitor(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 150}, false),
		snapshot("billing", anypoint.QueueStats{MessagesInQueue: 10}, false),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "depth",
		Type:      TypeQueueDepth,
		Target:    "*",
		Condition: ConditionGT,
		Threshold: 100,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 2)

	byQueue := map[string]Result{}
	for _, r := range results {
		byQueue[r.Queue] = r
	}
	require.True(t, byQueue["orders"].Triggered)
	require.Equal(t, 150.0, byQueue["orders"].Current)
	require.False(t, byQueue["billing"].Triggered)
}

func TestTargetPatternFiltersQueues(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 500}, false),
		snapshot("billing", anypoint.QueueStats{MessagesInQueue: 500}, false),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "orders-only",
		Type:      TypeQueueDepth,
		Target:    "orders*",
		Condition: ConditionGT,
		Threshold: 100,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, "orders", results[0].Queue)
}

func TestDlqAlertRequiresDLQ(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 5}, false),
		snapshot("orders-dlq", anypoint.QueueStats{MessagesInQueue: 5}, true),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "dlq",
		Type:      TypeDlqAlert,
		Target:    "*",
		Condition: ConditionGT,
		Threshold: 0,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, "orders-dlq", results[0].Queue)
	require.True(t, results[0].Triggered)
}

func TestThroughputDropMonitor(t *testing.T) {
	source := &fakeSource{}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:                    "drop",
		Type:                    TypeThroughputDrop,
		Target:                  "*",
		Condition:               ConditionPctChange,
		Threshold:               -50,
		EvaluationWindowMinutes: 2,
	})

	feed := func(received int64) []Result {
		source.snaps = []collector.QueueSnapshot{
			snapshot("orders", anypoint.QueueStats{MessagesReceived: received}, false),
		}
		return e.EvaluateAll(context.Background())
	}

	// First observation has no history to compare against.
	results := feed(100)
	require.Len(t, results, 1)
	require.False(t, results[0].Triggered)
	require.Equal(t, "insufficient history", results[0].Message)

	for range 4 {
		results = feed(100)
		require.False(t, results[0].Triggered)
	}

	// Throughput halves; one window element is not enough yet.
	results = feed(40)
	require.False(t, results[0].Triggered)

	// Second low observation: recent mean 40 against baseline ~82.9.
	results = feed(40)
	require.True(t, results[0].Triggered)
	require.InDelta(t, -51.72, results[0].Metadata["percentChange"].(float64), 0.05)
}

func TestThroughputSpikeMonitor(t *testing.T) {
	source := &fakeSource{}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:                    "spike",
		Type:                    TypeThroughputSpike,
		Target:                  "*",
		Condition:               ConditionPctChange,
		Threshold:               50,
		EvaluationWindowMinutes: 2,
	})

	feed := func(received int64) []Result {
		source.snaps = []collector.QueueSnapshot{
			snapshot("orders", anypoint.QueueStats{MessagesReceived: received}, false),
		}
		return e.EvaluateAll(context.Background())
	}

	for range 5 {
		feed(10)
	}
	feed(30)
	results := feed(30)
	require.True(t, results[0].Triggered)
}

func TestQueueHealthMonitor(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{
			MessagesInQueue:  1000,
			MessagesReceived: 100,
			MessagesInFlight: 20,
		}, false),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "health",
		Type:      TypeQueueHealth,
		Target:    "*",
		Condition: ConditionLT,
		Threshold: 80,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 1)
	// 100 minus the depth penalty (log10(1001)*5 ~ 15.0) and the consumer
	// lag penalty (0.2*50 = 10).
	require.InDelta(t, 75.0, results[0].Current, 0.01)
	require.True(t, results[0].Triggered)

	scores := e.HealthScores()
	require.Len(t, scores, 1)
	require.Equal(t, "orders", scores[0].Queue)
	require.InDelta(t, 75.0, scores[0].Score, 0.01)
	require.Contains(t, scores[0].Breakdown, "depthPenalty")
	require.Contains(t, scores[0].Breakdown, "consumerLagPenalty")

	perQueue := e.HealthScoresFor("orders")
	require.Len(t, perQueue, 1)
	require.Empty(t, e.HealthScoresFor("missing"))
}

func TestQueueHealthBuffersScoreHistory(t *testing.T) {
	source := &fakeSource{}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "health",
		Type:      TypeQueueHealth,
		Target:    "*",
		Condition: ConditionLT,
		Threshold: 50,
	})

	feed := func(depth int64) Result {
		source.snaps = []collector.QueueSnapshot{
			snapshot("orders", anypoint.QueueStats{MessagesInQueue: depth}, false),
		}
		results := e.EvaluateAll(context.Background())
		require.Len(t, results, 1)
		return results[0]
	}

	first := feed(0)
	require.InDelta(t, 100.0, first.Current, 0.001)

	// A depth swing alone must not fire the instability penalty: the
	// penalty reads the variability of previous scores, not of the queue
	// depth itself.
	second := feed(1000)
	require.InDelta(t, 85.0, second.Current, 0.01)
	require.NotContains(t, e.HealthScores()[0].Breakdown, "instabilityPenalty")
}

func TestQueueHealthDLQPenalty(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders-dlq", anypoint.QueueStats{MessagesInQueue: 10}, true),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "health",
		Type:      TypeQueueHealth,
		Target:    "*",
		Condition: ConditionLT,
		Threshold: 70,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 1)
	// 100 minus depth penalty (log10(11)*5 ~ 5.2) minus the 30-point DLQ
	// penalty for holding messages.
	require.InDelta(t, 64.79, results[0].Current, 0.01)
	require.True(t, results[0].Triggered)
}

func TestCooldownSuppressesRepeatNotifications(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 500}, false),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:            "depth",
		Type:            TypeQueueDepth,
		Target:          "*",
		Condition:       ConditionGT,
		Threshold:       100,
		CooldownMinutes: 10,
	})

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	e.EvaluateAll(context.Background())
	states := e.StatesFor("depth")
	require.Len(t, states, 1)
	require.Equal(t, base, states[0].LastNotified)

	// Still triggered five minutes later, but inside the cooldown.
	current = base.Add(5 * time.Minute)
	e.EvaluateAll(context.Background())
	states = e.StatesFor("depth")
	require.Equal(t, base, states[0].LastNotified)
	require.Equal(t, 2, states[0].Consecutive)

	// Past the cooldown the notification fires again.
	current = base.Add(11 * time.Minute)
	e.EvaluateAll(context.Background())
	states = e.StatesFor("depth")
	require.Equal(t, current, states[0].LastNotified)
}

func TestFreeTierDisablesMonitors(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 500}, false),
	}}
	e := newTestEvaluator(t, source, license.New(""), Definition{
		Name:      "depth",
		Type:      TypeQueueDepth,
		Target:    "*",
		Condition: ConditionGT,
		Threshold: 1,
	})

	require.Empty(t, e.Definitions())
	_, ok := e.Definition("depth")
	require.False(t, ok)
	require.Empty(t, e.EvaluateAll(context.Background()))
}

func TestCustomMonitorNeverTriggers(t *testing.T) {
	source := &fakeSource{snaps: []collector.QueueSnapshot{
		snapshot("orders", anypoint.QueueStats{MessagesInQueue: 999999}, false),
	}}
	e := newTestEvaluator(t, source, nil, Definition{
		Name:      "custom",
		Type:      TypeCustom,
		Target:    "*",
		Condition: ConditionGT,
		Threshold: 0,
	})

	results := e.EvaluateAll(context.Background())
	require.Len(t, results, 1)
	require.False(t, results[0].Triggered)
}
