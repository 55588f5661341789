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
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// webhookChannel posts a generic JSON body to an arbitrary endpoint with
// optional custom headers.
type webhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func newWebhookChannel(cfg ChannelConfig) *webhookChannel {
	return &webhookChannel{
		name:    cfg.Name,
		url:     cfg.WebhookURL,
		headers: cfg.Headers,
		client:  cleanhttp.DefaultPooledClient(),
	}
}

func (c *webhookChannel) Name() string     { return c.name }
func (c *webhookChannel) Type() string     { return "webhook" }
func (c *webhookChannel) Configured() bool { return c.url != "" }

func (c *webhookChannel) Send(ctx context.Context, alert *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	body := map[string]interface{}{
		"monitor":      alert.Monitor,
		"queue":        alert.Queue,
		"environment":  alert.Environment,
		"region":       alert.Region,
		"severity":     alert.Severity,
		"currentValue": alert.Current,
		"threshold":    alert.Threshold,
		"message":      alert.Message,
		"metadata":     alert.Metadata,
		"timestamp":    alert.TriggeredAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}
