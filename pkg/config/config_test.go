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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netflexity/anypoint-mq-exporter/pkg/monitor"
)

const minimalConfig = `
auth:
  clientId: my-client
  clientSecret: my-secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exporter.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, "https://anypoint.mulesoft.com", cfg.BaseURL)
	require.True(t, cfg.AutoDiscoveryEnabled())
	require.True(t, cfg.ScrapeEnabled())
	require.True(t, cfg.MonitorsEnabled())
	require.Equal(t, time.Minute, cfg.ScrapeInterval())
	require.Equal(t, 10*time.Minute, cfg.ScrapePeriod())
	require.Equal(t, 5*time.Minute, cfg.DiscoveryInterval())
	require.Equal(t, time.Minute, cfg.EvaluationInterval())
	require.Equal(t, 20, cfg.Scrape.Concurrency)
	require.Equal(t, 3, cfg.HTTP.MaxRetries)
	require.Equal(t, []string{"us-east-1"}, cfg.Regions)
	require.Equal(t, 5, cfg.Monitors.Defaults.EvaluationWindowMinutes)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
baseUrl: https://eu1.anypoint.mulesoft.com
organizationId: org-1
autoDiscovery: false
auth:
  username: admin
  password: hunter22
environments:
  - id: env-1
    name: Production
regions: [us-east-1, eu-central-1]
scrape:
  intervalSeconds: 30
  periodSeconds: 900
monitors:
  evaluationIntervalSeconds: 15
  defaults:
    cooldownMinutes: 10
  definitions:
    - name: depth
      type: queue_depth
      target: "*"
      condition: gt
      threshold: 1000
      severity: critical
      channels: [slack]
  notifications:
    channels:
      - name: slack
        type: slack
        webhookUrl: https://hooks.slack.com/services/x
license:
  key: AMQE-PRO-abcdefgh
`))
	require.NoError(t, err)

	require.Equal(t, "https://eu1.anypoint.mulesoft.com", cfg.BaseURL)
	require.False(t, cfg.AutoDiscoveryEnabled())
	require.Equal(t, 30*time.Second, cfg.ScrapeInterval())
	require.Equal(t, 15*time.Minute, cfg.ScrapePeriod())
	require.Equal(t, 15*time.Second, cfg.EvaluationInterval())
	require.Len(t, cfg.Monitors.Definitions, 1)

	def := cfg.Monitors.Definitions[0]
	require.Equal(t, monitor.TypeQueueDepth, def.Type)
	// Defaults were merged during validation.
	require.Equal(t, 10, def.CooldownMinutes)
	require.Equal(t, 5, def.EvaluationWindowMinutes)

	require.Len(t, cfg.Monitors.Notifications.Channels, 1)
	require.Equal(t, "AMQE-PRO-abcdefgh", cfg.License.Key)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no auth", body: `baseUrl: https://example.com`},
		{
			name: "both auth modes",
			body: `
auth:
  clientId: a
  clientSecret: b
  username: c
  password: d
`,
		},
		{
			name: "scrape interval too low",
			body: minimalConfig + `
scrape:
  intervalSeconds: 5
`,
		},
		{
			name: "period too low",
			body: minimalConfig + `
scrape:
  periodSeconds: 60
`,
		},
		{
			name: "evaluation interval too low",
			body: minimalConfig + `
monitors:
  evaluationIntervalSeconds: 5
`,
		},
		{
			name: "manual mode without environments",
			body: minimalConfig + `
autoDiscovery: false
`,
		},
		{
			name: "unknown field",
			body: minimalConfig + `
bogusOption: true
`,
		},
		{
			name: "invalid monitor definition",
			body: minimalConfig + `
monitors:
  definitions:
    - name: broken
      type: queue_depth
      condition: gt
      threshold: 1
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv("ANYPOINT_CLIENT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, `
auth:
  clientId: my-client
  clientSecret: from-file
`))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.ClientSecret)
}

func TestMask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "abcdefgh", want: "abcd***efgh"},
		{in: "0123456789abcdef", want: "0123***cdef"},
		{in: "short", want: "***"},
		{in: "", want: "***"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Mask(tt.in))
	}
}

func TestFingerprintMasksIdentifiers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
organizationId: 0123456789abcdef
auth:
  clientId: my-client-id
  clientSecret: secret
`))
	require.NoError(t, err)

	fp := cfg.Fingerprint()
	require.Equal(t, "0123***cdef", fp["organizationId"])
	require.Equal(t, "my-c***t-id", fp["clientId"])
	require.NotContains(t, fp, "clientSecret")
	require.NotContains(t, fp, "username")
}
