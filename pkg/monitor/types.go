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

// Package monitor evaluates configured monitors against the latest queue
// statistics and gates triggered results through per-destination cooldowns.
package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
)

// Type selects the evaluation strategy of a monitor.
type Type string

const (
	TypeQueueDepth      Type = "queue_depth"
	TypeDlqAlert        Type = "dlq_alert"
	TypeThroughputDrop  Type = "throughput_drop"
	TypeThroughputSpike Type = "throughput_spike"
	TypeQueueHealth     Type = "queue_health"
	// TypeCustom is reserved; it never triggers.
	TypeCustom Type = "custom"
)

// UnmarshalYAML accepts snake_case and CamelCase spellings.
func (t *Type) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch normalizeEnum(s) {
	case "queuedepth":
		*t = TypeQueueDepth
	case "dlqalert":
		*t = TypeDlqAlert
	case "throughputdrop":
		*t = TypeThroughputDrop
	case "throughputspike":
		*t = TypeThroughputSpike
	case "queuehealth":
		*t = TypeQueueHealth
	case "custom":
		*t = TypeCustom
	default:
		return fmt.Errorf("unknown monitor type %q", s)
	}
	return nil
}

// Condition compares a current value against the threshold.
type Condition string

const (
	ConditionGT  Condition = "gt"
	ConditionLT  Condition = "lt"
	ConditionGTE Condition = "gte"
	ConditionLTE Condition = "lte"
	ConditionEQ  Condition = "eq"
	// ConditionPctChange is only meaningful for the throughput types, which
	// compute the percentage change themselves.
	ConditionPctChange Condition = "pct_change"
)

// UnmarshalYAML accepts the usual spellings of each comparison.
func (c *Condition) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch normalizeEnum(s) {
	case "gt":
		*c = ConditionGT
	case "lt":
		*c = ConditionLT
	case "gte":
		*c = ConditionGTE
	case "lte":
		*c = ConditionLTE
	case "eq":
		*c = ConditionEQ
	case "pctchange":
		*c = ConditionPctChange
	default:
		return fmt.Errorf("unknown condition %q", s)
	}
	return nil
}

func normalizeEnum(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// Defaults are merged into definitions that omit the corresponding fields.
type Defaults struct {
	CooldownMinutes         int `yaml:"cooldownMinutes"`
	EvaluationWindowMinutes int `yaml:"evaluationWindowMinutes"`
}

// Definition is one configured monitor.
type Definition struct {
	Name                    string          `yaml:"name"`
	Type                    Type            `yaml:"type"`
	Target                  string          `yaml:"target"`
	Condition               Condition       `yaml:"condition"`
	Threshold               float64         `yaml:"threshold"`
	EvaluationWindowMinutes int             `yaml:"evaluationWindowMinutes"`
	CooldownMinutes         int             `yaml:"cooldownMinutes"`
	Severity                notify.Severity `yaml:"severity"`
	Channels                []string        `yaml:"channels"`
	Enabled                 *bool           `yaml:"enabled"`
}

// IsEnabled defaults to true when the flag is omitted.
func (d *Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// ApplyDefaults fills omitted window and cooldown values.
func (d *Definition) ApplyDefaults(defaults Defaults) {
	if d.EvaluationWindowMinutes == 0 {
		d.EvaluationWindowMinutes = defaults.EvaluationWindowMinutes
	}
	if d.CooldownMinutes == 0 {
		d.CooldownMinutes = defaults.CooldownMinutes
	}
}

// Validate checks the definition for internal consistency.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("monitor without a name")
	}
	if d.Target == "" {
		return fmt.Errorf("monitor %q: target pattern must not be empty", d.Name)
	}
	if d.EvaluationWindowMinutes < 1 {
		return fmt.Errorf("monitor %q: evaluation window must be at least one minute", d.Name)
	}
	if d.CooldownMinutes < 0 {
		return fmt.Errorf("monitor %q: cooldown must not be negative", d.Name)
	}
	switch strings.ToLower(string(d.Severity)) {
	case "":
		d.Severity = notify.SeverityWarning
	case string(notify.SeverityInfo), string(notify.SeverityWarning), string(notify.SeverityCritical):
		d.Severity = notify.Severity(strings.ToLower(string(d.Severity)))
	default:
		return fmt.Errorf("monitor %q: unknown severity %q", d.Name, d.Severity)
	}
	if _, err := CompileTarget(d.Target); err != nil {
		return fmt.Errorf("monitor %q: %w", d.Name, err)
	}
	return nil
}

// CompileTarget translates a glob pattern into an anchored regular
// expression. `*` matches any run of characters, `?` a single character, and
// every other character (including `.`) is literal.
func CompileTarget(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid target pattern %q: %w", pattern, err)
	}
	return re, nil
}
