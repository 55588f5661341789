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
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/netflexity/anypoint-mq-exporter/pkg/collector"
	"github.com/netflexity/anypoint-mq-exporter/pkg/license"
	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
)

// equalityEpsilon is the tolerance of the EQ condition.
const equalityEpsilon = 1e-3

var (
	monitorTriggered = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "anypoint_mq_monitor_triggered",
		Help: "Whether the monitor is currently triggered for the destination (1) or not (0).",
	}, []string{"monitor", "queue_name", "environment", "region", "severity"})
	healthScoreGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "anypoint_mq_queue_health_score",
		Help: "Composite queue health score in the 0-1 range.",
	}, []string{"queue_name", "environment", "region"})
	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_evaluation_duration_seconds",
		Help:    "Duration of one monitor evaluation pass.",
		Buckets: prometheus.DefBuckets,
	})
)

// StatsSource supplies the latest per-queue statistics.
type StatsSource interface {
	QueueSnapshots() []collector.QueueSnapshot
}

// Result is the outcome of evaluating one monitor against one destination.
type Result struct {
	Monitor     string                 `json:"monitor"`
	Queue       string                 `json:"queue"`
	Environment string                 `json:"environment"`
	Region      string                 `json:"region"`
	Triggered   bool                   `json:"triggered"`
	Current     float64                `json:"currentValue"`
	Threshold   float64                `json:"threshold"`
	Message     string                 `json:"message"`
	Severity    notify.Severity        `json:"severity"`
	EvaluatedAt time.Time              `json:"evaluatedAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthScore is the latest composite score of one queue.
type HealthScore struct {
	Queue       string             `json:"queue"`
	Environment string             `json:"environment"`
	Region      string             `json:"region"`
	Score       float64            `json:"score"`
	Breakdown   map[string]float64 `json:"breakdown"`
	EvaluatedAt time.Time          `json:"evaluatedAt"`
}

// Opts configures the evaluator.
type Opts struct {
	// Enabled gates the evaluation loop.
	Enabled bool
	// Interval is the fixed delay between evaluation passes.
	Interval time.Duration
	// Defaults are merged into definitions that omit window or cooldown.
	Defaults Defaults
}

type compiledDef struct {
	Definition
	target *regexp.Regexp
}

// Evaluator matches destinations to monitor definitions, maintains windowed
// state per pair and emits results through the notification dispatcher.
type Evaluator struct {
	logger     log.Logger
	source     StatsSource
	dispatcher *notify.Dispatcher
	lic        *license.License
	opts       Opts
	defs       []compiledDef
	now        func() time.Time

	mu     sync.Mutex
	states map[StateKey]*State

	healthMu sync.RWMutex
	health   map[collector.Key]HealthScore
}

// New compiles the definitions and returns an evaluator. Invalid definitions
// fail construction; on tiers without the monitors feature every definition
// is disabled with a warning.
func New(logger log.Logger, reg prometheus.Registerer, source StatsSource, dispatcher *notify.Dispatcher, lic *license.License, defs []Definition, opts Opts) (*Evaluator, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	if opts.Defaults.EvaluationWindowMinutes == 0 {
		opts.Defaults.EvaluationWindowMinutes = 5
	}
	if reg != nil {
		reg.MustRegister(monitorTriggered, healthScoreGauge, evaluationDuration)
	}

	var compiled []compiledDef
	allowed := lic.Allows(license.FeatureMonitors)
	for _, def := range defs {
		if !def.IsEnabled() {
			continue
		}
		def.ApplyDefaults(opts.Defaults)
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if !allowed {
			_ = level.Warn(logger).Log("msg", "monitor disabled, requires a pro license", "monitor", def.Name)
			continue
		}
		re, err := CompileTarget(def.Target)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledDef{Definition: def, target: re})
	}

	return &Evaluator{
		logger:     logger,
		source:     source,
		dispatcher: dispatcher,
		lic:        lic,
		opts:       opts,
		defs:       compiled,
		now:        time.Now,
		states:     map[StateKey]*State{},
		health:     map[collector.Key]HealthScore{},
	}, nil
}

// Definitions returns the active definitions.
func (e *Evaluator) Definitions() []Definition {
	out := make([]Definition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d.Definition)
	}
	return out
}

// Definition returns the active definition with the given name.
func (e *Evaluator) Definition(name string) (Definition, bool) {
	for _, d := range e.defs {
		if d.Name == name {
			return d.Definition, true
		}
	}
	return Definition{}, false
}

// StatesFor returns the per-destination state views of one monitor.
func (e *Evaluator) StatesFor(monitor string) []StateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []StateView
	for key, state := range e.states {
		if key.Monitor != monitor {
			continue
		}
		view := state.Snapshot()
		view.Queue = key.Queue
		view.Environment = key.Environment
		view.Region = key.Region
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// HealthScores returns the latest composite scores, sorted by queue name.
func (e *Evaluator) HealthScores() []HealthScore {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	out := make([]HealthScore, 0, len(e.health))
	for _, h := range e.health {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// HealthScoresFor returns the scores of queues with the given sanitized name
// across environments and regions.
func (e *Evaluator) HealthScoresFor(queue string) []HealthScore {
	var out []HealthScore
	for _, h := range e.HealthScores() {
		if h.Queue == queue {
			out = append(out, h)
		}
	}
	return out
}

// Run evaluates on a fixed delay until the context is cancelled. Evaluation
// is skipped while monitors are disabled or the license tier forbids them.
func (e *Evaluator) Run(ctx context.Context) error {
	if !e.opts.Enabled || !e.lic.Allows(license.FeatureMonitors) || len(e.defs) == 0 {
		_ = level.Info(e.logger).Log("msg", "monitor evaluation disabled", "definitions", len(e.defs))
		<-ctx.Done()
		return nil
	}
	timer := time.NewTimer(e.opts.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			e.EvaluateAll(ctx)
			timer.Reset(e.opts.Interval)
		}
	}
}

// EvaluateAll runs one evaluation pass over all definitions and matching
// destinations, dispatching triggered results that pass the cooldown gate.
func (e *Evaluator) EvaluateAll(ctx context.Context) []Result {
	start := e.now()
	defer func() {
		evaluationDuration.Observe(e.now().Sub(start).Seconds())
	}()

	snapshots := e.source.QueueSnapshots()
	var results []Result
	for _, def := range e.defs {
		for _, snap := range snapshots {
			if !def.target.MatchString(snap.Key.Queue) {
				continue
			}
			state := e.state(StateKey{
				Monitor:     def.Name,
				Queue:       snap.Key.Queue,
				Environment: snap.Key.Environment,
				Region:      snap.Key.Region,
			})
			result, ok := e.evaluate(def, snap, state)
			if !ok {
				continue
			}
			results = append(results, result)

			var triggered float64
			if result.Triggered {
				triggered = 1
				state.MarkTriggered(result.EvaluatedAt)
				e.notify(ctx, def, state, result)
			} else {
				state.MarkResolved()
			}
			monitorTriggered.WithLabelValues(def.Name, snap.Key.Queue, snap.Key.Environment, snap.Key.Region, string(def.Severity)).Set(triggered)
		}
	}
	return results
}

func (e *Evaluator) state(key StateKey) *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[key]
	if !ok {
		state = &State{}
		e.states[key] = state
	}
	return state
}

// evaluate appends the newest observation and applies the definition's
// strategy. ok is false when the destination is out of scope for the type,
// for example a DLQ monitor against a regular queue.
func (e *Evaluator) evaluate(def compiledDef, snap collector.QueueSnapshot, state *State) (Result, bool) {
	now := e.now()
	result := Result{
		Monitor:     def.Name,
		Queue:       snap.Key.Queue,
		Environment: snap.Key.Environment,
		Region:      snap.Key.Region,
		Threshold:   def.Threshold,
		Severity:    def.Severity,
		EvaluatedAt: now,
	}

	switch def.Type {
	case TypeQueueDepth:
		current := float64(snap.Stats.MessagesInQueue)
		state.Append(current)
		result.Current = current
		result.Triggered = conditionHolds(def.Condition, current, def.Threshold)
		result.Message = fmt.Sprintf("queue depth %.0f %s threshold %.0f", current, def.Condition, def.Threshold)

	case TypeDlqAlert:
		if !snap.IsDLQ {
			return Result{}, false
		}
		current := float64(snap.Stats.MessagesInQueue)
		state.Append(current)
		result.Current = current
		result.Triggered = conditionHolds(def.Condition, current, def.Threshold)
		result.Message = fmt.Sprintf("dead-letter queue holds %.0f messages", current)

	case TypeThroughputDrop, TypeThroughputSpike:
		current := float64(snap.Stats.MessagesReceived)
		state.Append(current)
		result.Current = current
		if state.Len() < 2 {
			result.Message = "insufficient history"
			break
		}
		baselineAvg, _, _ := state.Baseline()
		recentAvg, _ := state.RecentMean(def.EvaluationWindowMinutes)
		if baselineAvg == 0 {
			result.Message = "baseline is zero"
			break
		}
		pctChange := (recentAvg - baselineAvg) / baselineAvg * 100
		result.Metadata = map[string]interface{}{
			"percentChange": pctChange,
			"recentAverage": recentAvg,
			"baseline":      baselineAvg,
		}
		if def.Type == TypeThroughputDrop {
			result.Triggered = pctChange <= def.Threshold
			result.Message = fmt.Sprintf("throughput changed %.1f%% against baseline %.1f", pctChange, baselineAvg)
		} else {
			result.Triggered = pctChange >= def.Threshold
			result.Message = fmt.Sprintf("throughput changed +%.1f%% against baseline %.1f", pctChange, baselineAvg)
		}

	case TypeQueueHealth:
		// The state buffers the score history; its variability feeds the
		// instability penalty of later evaluations.
		score, breakdown := healthScore(snap, state)
		state.Append(score)
		result.Current = score
		result.Triggered = conditionHolds(def.Condition, score, def.Threshold)
		result.Message = fmt.Sprintf("queue health score %.1f", score)
		result.Metadata = map[string]interface{}{"breakdown": breakdown}

		healthScoreGauge.WithLabelValues(snap.Key.Queue, snap.Key.Environment, snap.Key.Region).Set(score / 100)
		e.healthMu.Lock()
		e.health[snap.Key] = HealthScore{
			Queue:       snap.Key.Queue,
			Environment: snap.Key.Environment,
			Region:      snap.Key.Region,
			Score:       score,
			Breakdown:   breakdown,
			EvaluatedAt: now,
		}
		e.healthMu.Unlock()

	case TypeCustom:
		// Reserved; never triggers.
		state.Append(float64(snap.Stats.MessagesInQueue))
		result.Message = "custom monitors are not evaluated"

	default:
		return Result{}, false
	}

	return result, true
}

// notify passes a triggered result through the cooldown gate and dispatches
// it. The gate reopens only after a successful delivery.
func (e *Evaluator) notify(ctx context.Context, def compiledDef, state *State, result Result) {
	cooldown := time.Duration(def.CooldownMinutes) * time.Minute
	if !state.ShouldNotify(result.EvaluatedAt, cooldown) {
		_ = level.Debug(e.logger).Log("msg", "notification suppressed by cooldown", "monitor", def.Name, "queue", result.Queue)
		return
	}
	alert := &notify.Alert{
		Monitor:     result.Monitor,
		Queue:       result.Queue,
		Environment: result.Environment,
		Region:      result.Region,
		Severity:    result.Severity,
		Current:     result.Current,
		Threshold:   result.Threshold,
		Message:     result.Message,
		TriggeredAt: result.EvaluatedAt,
		Metadata:    result.Metadata,
	}
	delivered := e.dispatcher.Dispatch(ctx, alert, def.Channels)
	if delivered > 0 || len(def.Channels) == 0 {
		state.MarkNotified(result.EvaluatedAt)
	}
}

// conditionHolds applies a threshold comparison. EQ uses a small epsilon;
// PctChange never holds here because the throughput types compute percentage
// change themselves.
func conditionHolds(c Condition, current, threshold float64) bool {
	switch c {
	case ConditionGT:
		return current > threshold
	case ConditionLT:
		return current < threshold
	case ConditionGTE:
		return current >= threshold
	case ConditionLTE:
		return current <= threshold
	case ConditionEQ:
		return math.Abs(current-threshold) < equalityEpsilon
	default:
		return false
	}
}

// healthScore computes the composite 0-100 score from the latest snapshot
// and the history of previous scores.
func healthScore(snap collector.QueueSnapshot, state *State) (float64, map[string]float64) {
	breakdown := map[string]float64{}
	score := 100.0

	if depth := float64(snap.Stats.MessagesInQueue); depth > 0 {
		p := math.Min(20, math.Log10(depth+1)*5)
		score -= p
		breakdown["depthPenalty"] = p
	}
	if snap.IsDLQ && snap.Stats.MessagesInQueue > 0 {
		score -= 30
		breakdown["dlqPenalty"] = 30
	}
	if received := float64(snap.Stats.MessagesReceived); received > 0 {
		if lagRatio := float64(snap.Stats.MessagesInFlight) / received; lagRatio > 0.1 {
			p := math.Min(25, lagRatio*50)
			score -= p
			breakdown["consumerLagPenalty"] = p
		}
	}
	if mean, stddev, ok := state.Baseline(); ok && mean > 0 {
		if cv := stddev / mean; cv > 0.5 {
			p := math.Min(15, cv*20)
			score -= p
			breakdown["instabilityPenalty"] = p
		}
	}

	score = math.Max(0, math.Min(100, score))
	return score, breakdown
}
