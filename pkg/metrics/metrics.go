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

// Package metrics provides an idempotent gauge upsert surface over a
// Prometheus registry. The first update of a (name, label set) registers the
// underlying vector; later updates only set the value.
package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Publisher upserts gauges by metric name and label set.
type Publisher struct {
	reg prometheus.Registerer

	mu     sync.Mutex
	gauges map[string]*gaugeEntry
}

type gaugeEntry struct {
	vec        *prometheus.GaugeVec
	labelNames []string
}

// NewPublisher returns a publisher registering into reg.
func NewPublisher(reg prometheus.Registerer) *Publisher {
	return &Publisher{
		reg:    reg,
		gauges: map[string]*gaugeEntry{},
	}
}

// Set updates the gauge identified by name and labels, creating it on first
// use. The label names of a metric are fixed by its first update; a later
// update with a different label set returns an error instead of panicking the
// collection cycle.
func (p *Publisher) Set(name, help string, labels prometheus.Labels, value float64) error {
	p.mu.Lock()
	entry, ok := p.gauges[name]
	if !ok {
		names := make([]string, 0, len(labels))
		for k := range labels {
			names = append(names, k)
		}
		sort.Strings(names)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, names)
		if p.reg != nil {
			if err := p.reg.Register(vec); err != nil {
				p.mu.Unlock()
				return fmt.Errorf("register gauge %s: %w", name, err)
			}
		}
		entry = &gaugeEntry{vec: vec, labelNames: names}
		p.gauges[name] = entry
	}
	p.mu.Unlock()

	g, err := entry.vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("gauge %s with labels %v: %w", name, labels, err)
	}
	g.Set(value)
	return nil
}

// DeletePartial removes all series of the named gauge whose labels match the
// given subset. Used to retire destinations that disappeared upstream.
func (p *Publisher) DeletePartial(name string, labels prometheus.Labels) {
	p.mu.Lock()
	entry, ok := p.gauges[name]
	p.mu.Unlock()
	if ok {
		entry.vec.DeletePartialMatch(labels)
	}
}
