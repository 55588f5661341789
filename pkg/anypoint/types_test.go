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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlexInt64Unmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{name: "scalar", input: `7`, want: 7},
		{name: "array takes last element", input: `[1, 2, 3]`, want: 3},
		{name: "single element array", input: `[42]`, want: 42},
		{name: "empty array", input: `[]`, want: 0},
		{name: "null", input: `null`, want: 0},
		{name: "trailing null element", input: `[5, null]`, want: 0},
		{name: "float truncates", input: `3.9`, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var f FlexInt64
			require.NoError(t, json.Unmarshal([]byte(tt.input), &f))
			require.Equal(t, tt.want, int64(f))
		})
	}
}

func TestFlexInt64UnmarshalError(t *testing.T) {
	t.Parallel()
	var f FlexInt64
	require.Error(t, json.Unmarshal([]byte(`"not-a-number"`), &f))
}

func TestFlexFloat64Unmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    float64
		wantSet bool
	}{
		{name: "scalar", input: `12.5`, want: 12.5, wantSet: true},
		{name: "array takes last element", input: `[1.5, 2.5]`, want: 2.5, wantSet: true},
		{name: "null stays unset", input: `null`},
		{name: "zero is set", input: `0`, want: 0, wantSet: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var f FlexFloat64
			require.NoError(t, json.Unmarshal([]byte(tt.input), &f))
			require.Equal(t, tt.wantSet, f.Set)
			require.Equal(t, tt.want, f.Value)
			if tt.wantSet {
				require.NotNil(t, f.Ptr())
				require.Equal(t, tt.want, *f.Ptr())
			} else {
				require.Nil(t, f.Ptr())
			}
		})
	}
}

// The stats decoder must absorb a response mixing scalars, arrays, nulls and
// absent fields without failing the whole document.
func TestStatsDocumentDecoding(t *testing.T) {
	t.Parallel()

	var body struct {
		MessagesInQueue  FlexInt64   `json:"messagesInQueue"`
		MessagesSent     FlexInt64   `json:"messagesSent"`
		MessagesReceived FlexInt64   `json:"messagesReceived"`
		QueueSize        FlexFloat64 `json:"queueSize"`
	}
	doc := `{
		"messagesInQueue": [10, 20, 30],
		"messagesSent": 5,
		"messagesReceived": null,
		"queueSize": [100.0, 250.5]
	}`
	require.NoError(t, json.Unmarshal([]byte(doc), &body))
	require.Equal(t, int64(30), int64(body.MessagesInQueue))
	require.Equal(t, int64(5), int64(body.MessagesSent))
	require.Equal(t, int64(0), int64(body.MessagesReceived))
	require.True(t, body.QueueSize.Set)
	require.Equal(t, 250.5, body.QueueSize.Value)
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		id   string
		want string
	}{
		{name: "clean name untouched", in: "orders-queue_1", want: "orders-queue_1"},
		{name: "spaces and dots replaced", in: "my queue.v2", want: "my_queue_v2"},
		{name: "unicode replaced", in: "café/queue", want: "caf__queue"},
		{name: "empty falls back to id", in: "", id: "abc123", want: "abc123"},
		{name: "empty name and id", in: "", id: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, SanitizeName(tt.in, tt.id))
		})
	}
}

// Sanitizing twice must give the same result as sanitizing once.
func TestSanitizeNameIdempotent(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"orders queue", "a.b.c", "café", "plain"} {
		once := SanitizeName(in, "")
		require.Equal(t, once, SanitizeName(once, ""))
	}
}

func TestIsDLQName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{in: "orders-dlq", want: true},
		{in: "DLQ-orders", want: true},
		{in: "orders-dead-letter", want: true},
		{in: "ordersdeadletter", want: true},
		{in: "orders-dead", want: true},
		{in: "orders-dl", want: true},
		{in: "orders", want: false},
		{in: "deadline-queue", want: false},
		{in: "dl-orders", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsDLQName(tt.in))
		})
	}
}

func TestCredentialValid(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred *Credential
		want bool
	}{
		{name: "nil credential", cred: nil, want: false},
		{name: "empty token", cred: &Credential{IssuedAt: now, ExpiresIn: time.Hour}, want: false},
		{
			name: "fresh token",
			cred: &Credential{AccessToken: "t", IssuedAt: now, ExpiresIn: time.Hour},
			want: true,
		},
		{
			name: "inside safety margin",
			cred: &Credential{AccessToken: "t", IssuedAt: now.Add(-56 * time.Minute), ExpiresIn: time.Hour},
			want: false,
		},
		{
			name: "expired",
			cred: &Credential{AccessToken: "t", IssuedAt: now.Add(-2 * time.Hour), ExpiresIn: time.Hour},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.cred.Valid(now))
		})
	}
}
