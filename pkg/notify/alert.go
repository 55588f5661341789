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

// Package notify routes triggered monitor results to configured notification
// channels with per-channel error isolation.
package notify

import (
	"fmt"
	"time"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is the payload handed to notification channels.
type Alert struct {
	Monitor     string
	Queue       string
	Environment string
	Region      string
	Severity    Severity
	Current     float64
	Threshold   float64
	Message     string
	TriggeredAt time.Time
	Metadata    map[string]interface{}
}

// Title returns the human-readable alert headline.
func (a *Alert) Title() string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Monitor, a.Queue)
}

// Summary returns a one-paragraph description of the alert.
func (a *Alert) Summary() string {
	return fmt.Sprintf("%s\nQueue %s in %s (%s): current value %.2f, threshold %.2f.",
		a.Message, a.Queue, a.Environment, a.Region, a.Current, a.Threshold)
}
