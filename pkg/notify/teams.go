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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// teamsChannel posts a MessageCard to a Microsoft Teams incoming webhook.
type teamsChannel struct {
	name   string
	url    string
	client *http.Client
}

func newTeamsChannel(cfg ChannelConfig) *teamsChannel {
	return &teamsChannel{name: cfg.Name, url: cfg.WebhookURL, client: cleanhttp.DefaultPooledClient()}
}

func (c *teamsChannel) Name() string     { return c.name }
func (c *teamsChannel) Type() string     { return "teams" }
func (c *teamsChannel) Configured() bool { return c.url != "" }

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
	Text          string      `json:"text,omitempty"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

func (c *teamsChannel) Send(ctx context.Context, alert *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: severityColor(alert.Severity),
		Summary:    alert.Title(),
		Sections: []teamsSection{{
			ActivityTitle: alert.Title(),
			Text:          alert.Message,
			Facts: []teamsFact{
				{Name: "Environment", Value: alert.Environment},
				{Name: "Region", Value: alert.Region},
				{Name: "Current", Value: fmt.Sprintf("%.2f", alert.Current)},
				{Name: "Threshold", Value: fmt.Sprintf("%.2f", alert.Threshold)},
				{Name: "Triggered At", Value: alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC")},
			},
		}},
	}
	payload, err := json.Marshal(card)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post teams webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("teams webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}
