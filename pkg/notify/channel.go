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
)

// sendTimeout bounds one delivery attempt per channel.
const sendTimeout = 10 * time.Second

// Channel delivers alerts to one downstream transport.
type Channel interface {
	// Name is the unique configured channel name monitors refer to.
	Name() string
	// Type identifies the transport (slack, teams, pagerduty, email, webhook).
	Type() string
	// Configured reports whether the mandatory type-specific fields are set.
	Configured() bool
	// Send delivers one alert.
	Send(ctx context.Context, alert *Alert) error
}

// ChannelConfig is the YAML shape of one notification channel.
type ChannelConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`

	// Slack, Teams and Webhook.
	WebhookURL string `yaml:"webhookUrl"`
	// Webhook only: additional request headers.
	Headers map[string]string `yaml:"headers"`

	// PagerDuty Events API v2.
	RoutingKey string `yaml:"routingKey"`

	// Email.
	Recipient    string `yaml:"recipient"`
	Sender       string `yaml:"sender"`
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
}

// IsEnabled defaults to true when the flag is omitted.
func (c *ChannelConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// NewChannel builds the channel for the config's type.
func NewChannel(cfg ChannelConfig) (Channel, error) {
	switch cfg.Type {
	case "slack":
		return newSlackChannel(cfg), nil
	case "teams":
		return newTeamsChannel(cfg), nil
	case "pagerduty":
		return newPagerDutyChannel(cfg), nil
	case "email":
		return newEmailChannel(cfg), nil
	case "webhook":
		return newWebhookChannel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q for channel %q", cfg.Type, cfg.Name)
	}
}

// severityColor maps a severity to the hex color used by Slack and Teams.
func severityColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "#d93025"
	case SeverityWarning:
		return "#f9ab00"
	default:
		return "#1a73e8"
	}
}
