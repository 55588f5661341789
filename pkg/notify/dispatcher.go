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
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Number of notification deliveries by monitor, channel and outcome.",
	}, []string{"monitor", "channel", "type", "status"})
	notificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Number of failed notification deliveries by error class.",
	}, []string{"monitor", "channel", "type", "error"})
)

// Dispatcher routes alerts to named channels. One channel's failure never
// aborts delivery to its siblings.
type Dispatcher struct {
	logger   log.Logger
	channels map[string]Channel
}

// NewDispatcher builds the channel set from configuration. Disabled channels
// are skipped silently; enabled but misconfigured ones are excluded with a
// warning.
func NewDispatcher(logger log.Logger, reg prometheus.Registerer, configs []ChannelConfig) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg != nil {
		reg.MustRegister(notificationsTotal, notificationsFailed)
	}
	channels := map[string]Channel{}
	for _, cfg := range configs {
		if !cfg.IsEnabled() {
			continue
		}
		ch, err := NewChannel(cfg)
		if err != nil {
			_ = level.Warn(logger).Log("msg", "skipping notification channel", "channel", cfg.Name, "err", err)
			continue
		}
		if !ch.Configured() {
			_ = level.Warn(logger).Log("msg", "skipping misconfigured notification channel", "channel", cfg.Name, "type", cfg.Type)
			continue
		}
		channels[cfg.Name] = ch
	}
	return &Dispatcher{logger: logger, channels: channels}
}

// Channels returns the names of the usable channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Dispatch delivers the alert to each named channel in sequence and returns
// the number of successful deliveries. Unknown channel names are logged and
// skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *Alert, channelNames []string) int {
	delivered := 0
	for _, name := range channelNames {
		ch, ok := d.channels[name]
		if !ok {
			_ = level.Warn(d.logger).Log("msg", "alert references unknown channel", "monitor", alert.Monitor, "channel", name)
			continue
		}
		if err := ch.Send(ctx, alert); err != nil {
			notificationsTotal.WithLabelValues(alert.Monitor, ch.Name(), ch.Type(), "fail").Inc()
			notificationsFailed.WithLabelValues(alert.Monitor, ch.Name(), ch.Type(), errorClass(err)).Inc()
			_ = level.Error(d.logger).Log("msg", "notification delivery failed", "monitor", alert.Monitor, "channel", name, "err", err)
			continue
		}
		notificationsTotal.WithLabelValues(alert.Monitor, ch.Name(), ch.Type(), "success").Inc()
		delivered++
	}
	return delivered
}

// errorClass buckets a delivery error for the failure counter.
func errorClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "send"
	}
}
