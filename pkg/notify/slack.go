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
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
)

// slackChannel posts color-coded attachments to a Slack incoming webhook.
type slackChannel struct {
	name string
	url  string
}

func newSlackChannel(cfg ChannelConfig) *slackChannel {
	return &slackChannel{name: cfg.Name, url: cfg.WebhookURL}
}

func (c *slackChannel) Name() string     { return c.name }
func (c *slackChannel) Type() string     { return "slack" }
func (c *slackChannel) Configured() bool { return c.url != "" }

func (c *slackChannel) Send(ctx context.Context, alert *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := &slack.WebhookMessage{
		Text: alert.Title(),
		Attachments: []slack.Attachment{{
			Color:    severityColor(alert.Severity),
			Title:    alert.Title(),
			Text:     alert.Message,
			Fallback: alert.Summary(),
			Fields: []slack.AttachmentField{
				{Title: "Environment", Value: alert.Environment, Short: true},
				{Title: "Region", Value: alert.Region, Short: true},
				{Title: "Current", Value: fmt.Sprintf("%.2f", alert.Current), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.2f", alert.Threshold), Short: true},
				{Title: "Triggered At", Value: alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: false},
			},
			Ts: json.Number(fmt.Sprintf("%d", alert.TriggeredAt.Unix())),
		}},
	}
	if err := slack.PostWebhookContext(ctx, c.url, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}
