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

package anypoint

import (
	"encoding/json"
	"strings"
	"time"
)

// credentialSafetyMargin is subtracted from the token lifetime so that a
// credential is refreshed before any in-flight request can observe its expiry.
const credentialSafetyMargin = 5 * time.Minute

// Credential is a bearer token obtained from the Anypoint access management API.
type Credential struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresIn   time.Duration
}

// Valid reports whether the credential can still be attached to outbound
// requests at the given instant.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return now.Add(credentialSafetyMargin).Before(c.IssuedAt.Add(c.ExpiresIn))
}

// Organization identifies an Anypoint organization (tenant) visible to the
// configured credential.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Environment identifies an environment within an organization.
type Environment struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"-"`
	Type           string `json:"type"`
	IsProduction   bool   `json:"isProduction"`
}

// Queue is a point-to-point destination within an environment and region.
type Queue struct {
	ID                string
	Name              string
	EnvironmentID     string
	Region            string
	FIFO              bool
	DefaultTTLMillis  int64
	MaxDeliveries     int64
	DeadLetterQueueID string
	Encrypted         bool
}

// Exchange is a fan-out destination within an environment and region.
type Exchange struct {
	ID            string
	Name          string
	EnvironmentID string
	Region        string
	Encrypted     bool
}

// QueueStats holds the most recent sample for each queue statistic over the
// requested period.
type QueueStats struct {
	MessagesInQueue  int64
	MessagesInFlight int64
	MessagesSent     int64
	MessagesReceived int64
	MessagesAcked    int64

	// Byte sizes are optional and absent from older API responses.
	QueueSizeBytes     *float64
	AverageMessageSize *float64
}

// ExchangeStats holds the most recent sample for each exchange statistic.
type ExchangeStats struct {
	MessagesPublished int64
	MessagesDelivered int64
}

// FlexInt64 decodes a JSON value that may be a number or an array of numbers.
// The stats API returns time series as arrays ordered oldest to newest, so an
// array reduces to its last element. Missing, null and empty-array values
// decode to zero.
type FlexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	v, err := lastNumber(b)
	if err != nil {
		return err
	}
	*f = FlexInt64(int64(v))
	return nil
}

// FlexFloat64 is the floating point counterpart of FlexInt64. A nil value
// means the field was absent or null on the wire.
type FlexFloat64 struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat64) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = FlexFloat64{}
		return nil
	}
	v, err := lastNumber(b)
	if err != nil {
		return err
	}
	*f = FlexFloat64{Value: v, Set: true}
	return nil
}

// Ptr returns the value as an optional, nil when unset.
func (f FlexFloat64) Ptr() *float64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

func lastNumber(b []byte) (float64, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "[") {
		var arr []*float64
		if err := json.Unmarshal(b, &arr); err != nil {
			return 0, err
		}
		if len(arr) == 0 || arr[len(arr)-1] == nil {
			return 0, nil
		}
		return *arr[len(arr)-1], nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// SanitizeName converts a destination display name into a metric label value.
// Every character outside [A-Za-z0-9_-] becomes an underscore. When the name
// is empty the identifier is used instead, and "unknown" as a last resort.
func SanitizeName(name, id string) string {
	s := name
	if s == "" {
		s = id
	}
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// IsDLQName reports whether a sanitized queue name looks like a dead-letter
// queue. Classification is purely name based; the upstream dead-letter pointer
// is not consulted.
func IsDLQName(sanitized string) bool {
	n := strings.ToLower(sanitized)
	if strings.Contains(n, "dlq") || strings.Contains(n, "dead-letter") || strings.Contains(n, "deadletter") {
		return true
	}
	return strings.HasSuffix(n, "-dead") || strings.HasSuffix(n, "-dl")
}

// SanitizedName returns the metric label value for the queue.
func (q *Queue) SanitizedName() string { return SanitizeName(q.Name, q.ID) }

// IsDLQ applies the dead-letter naming heuristic to the queue.
func (q *Queue) IsDLQ() bool { return IsDLQName(q.SanitizedName()) }

// SanitizedName returns the metric label value for the exchange.
func (e *Exchange) SanitizedName() string { return SanitizeName(e.Name, e.ID) }
