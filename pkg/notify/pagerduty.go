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

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/PagerDuty/go-pagerduty"
)

// pagerDutyChannel enqueues trigger events through the Events API v2.
type pagerDutyChannel struct {
	name       string
	routingKey string
}

func newPagerDutyChannel(cfg ChannelConfig) *pagerDutyChannel {
	return &pagerDutyChannel{name: cfg.Name, routingKey: cfg.RoutingKey}
}

func (c *pagerDutyChannel) Name() string     { return c.name }
func (c *pagerDutyChannel) Type() string     { return "pagerduty" }
func (c *pagerDutyChannel) Configured() bool { return c.routingKey != "" }

func (c *pagerDutyChannel) Send(ctx context.Context, alert *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	event := pagerduty.V2Event{
		RoutingKey: c.routingKey,
		Action:     "trigger",
		DedupKey:   fmt.Sprintf("amq-monitor-%s-%s-%s", alert.Monitor, alert.Queue, alert.Environment),
		Payload: &pagerduty.V2Payload{
			Summary:   alert.Title(),
			Source:    "anypoint-mq-exporter",
			Severity:  string(alert.Severity),
			Timestamp: alert.TriggeredAt.UTC().Format(time.RFC3339),
			Group:     alert.Environment,
			Component: alert.Queue,
			Details:   alert.Metadata,
		},
	}
	if _, err := pagerduty.ManageEventWithContext(ctx, event); err != nil {
		return fmt.Errorf("enqueue pagerduty event: %w", err)
	}
	return nil
}
