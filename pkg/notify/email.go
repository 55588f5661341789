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

	gomail "gopkg.in/gomail.v2"
)

// emailChannel sends alerts as plain-text mail over SMTP.
type emailChannel struct {
	name string
	cfg  ChannelConfig
	send func(*gomail.Message) error
}

func newEmailChannel(cfg ChannelConfig) *emailChannel {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	c := &emailChannel{name: cfg.Name, cfg: cfg}
	c.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return d.DialAndSend(m)
	}
	return c
}

func (c *emailChannel) Name() string { return c.name }
func (c *emailChannel) Type() string { return "email" }

func (c *emailChannel) Configured() bool {
	return c.cfg.SMTPHost != "" && c.cfg.Recipient != "" && c.cfg.Sender != ""
}

func (c *emailChannel) Send(ctx context.Context, alert *Alert) error {
	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.Sender)
	m.SetHeader("To", c.cfg.Recipient)
	m.SetHeader("Subject", alert.Title())
	m.SetBody("text/plain", alert.Summary())

	// gomail dials synchronously; honor the caller's deadline by racing it.
	done := make(chan error, 1)
	go func() { done <- c.send(m) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
