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

// Package config loads and validates the exporter's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netflexity/anypoint-mq-exporter/pkg/monitor"
	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
)

const (
	defaultBaseURL = "https://anypoint.mulesoft.com"

	defaultDiscoveryRefreshMs    = 300000
	defaultScrapeIntervalSeconds = 60
	defaultScrapePeriodSeconds   = 600
	defaultEvalIntervalSeconds   = 60
	defaultConnectTimeoutSeconds = 10
	defaultReadTimeoutSeconds    = 30
	defaultMaxRetries            = 3
	defaultConcurrency           = 20

	minScrapeIntervalSeconds = 10
	minScrapePeriodSeconds   = 300
	minEvalIntervalSeconds   = 10

	// Environment variables that override the corresponding secrets so they
	// can be kept out of the config file.
	envClientSecret = "ANYPOINT_CLIENT_SECRET"
	envPassword     = "ANYPOINT_PASSWORD"
)

// Config is the full configuration surface of the exporter.
type Config struct {
	BaseURL        string `yaml:"baseUrl"`
	OrganizationID string `yaml:"organizationId"`
	AutoDiscovery  *bool  `yaml:"autoDiscovery"`

	Auth struct {
		ClientID     string `yaml:"clientId"`
		ClientSecret string `yaml:"clientSecret"`
		Username     string `yaml:"username"`
		Password     string `yaml:"password"`
	} `yaml:"auth"`

	Discovery struct {
		RefreshIntervalMs int `yaml:"refreshIntervalMs"`
	} `yaml:"discovery"`

	Environments []Environment `yaml:"environments"`
	Regions      []string      `yaml:"regions"`

	Scrape struct {
		Enabled         *bool `yaml:"enabled"`
		IntervalSeconds int   `yaml:"intervalSeconds"`
		PeriodSeconds   int   `yaml:"periodSeconds"`
		Concurrency     int   `yaml:"concurrency"`
	} `yaml:"scrape"`

	HTTP struct {
		ConnectTimeoutSeconds int `yaml:"connectTimeoutSeconds"`
		ReadTimeoutSeconds    int `yaml:"readTimeoutSeconds"`
		MaxRetries            int `yaml:"maxRetries"`
	} `yaml:"http"`

	Monitors struct {
		Enabled                   *bool                `yaml:"enabled"`
		EvaluationIntervalSeconds int                  `yaml:"evaluationIntervalSeconds"`
		Defaults                  monitor.Defaults     `yaml:"defaults"`
		Definitions               []monitor.Definition `yaml:"definitions"`
		Notifications             struct {
			Channels []notify.ChannelConfig `yaml:"channels"`
		} `yaml:"notifications"`
	} `yaml:"monitors"`

	License struct {
		Key string `yaml:"key"`
	} `yaml:"license"`
}

// Environment is a manually configured environment used when auto-discovery
// is off.
type Environment struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads the YAML file at path, applies environment overrides for
// secrets, fills defaults and validates.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

func parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if secret := os.Getenv(envClientSecret); secret != "" {
		cfg.Auth.ClientSecret = secret
	}
	if password := os.Getenv(envPassword); password != "" {
		cfg.Auth.Password = password
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Discovery.RefreshIntervalMs == 0 {
		c.Discovery.RefreshIntervalMs = defaultDiscoveryRefreshMs
	}
	if c.Scrape.IntervalSeconds == 0 {
		c.Scrape.IntervalSeconds = defaultScrapeIntervalSeconds
	}
	if c.Scrape.PeriodSeconds == 0 {
		c.Scrape.PeriodSeconds = defaultScrapePeriodSeconds
	}
	if c.Scrape.Concurrency == 0 {
		c.Scrape.Concurrency = defaultConcurrency
	}
	if c.HTTP.ConnectTimeoutSeconds == 0 {
		c.HTTP.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
	if c.HTTP.ReadTimeoutSeconds == 0 {
		c.HTTP.ReadTimeoutSeconds = defaultReadTimeoutSeconds
	}
	if c.HTTP.MaxRetries == 0 {
		c.HTTP.MaxRetries = defaultMaxRetries
	}
	if c.Monitors.EvaluationIntervalSeconds == 0 {
		c.Monitors.EvaluationIntervalSeconds = defaultEvalIntervalSeconds
	}
	if c.Monitors.Defaults.EvaluationWindowMinutes == 0 {
		c.Monitors.Defaults.EvaluationWindowMinutes = 5
	}
	if len(c.Regions) == 0 {
		c.Regions = []string{"us-east-1"}
	}
}

// Validate checks mandatory fields and minimum cadences.
func (c *Config) Validate() error {
	hasClient := c.Auth.ClientID != "" && c.Auth.ClientSecret != ""
	hasLogin := c.Auth.Username != "" && c.Auth.Password != ""
	switch {
	case hasClient && hasLogin:
		return fmt.Errorf("auth: clientId/clientSecret and username/password are mutually exclusive")
	case !hasClient && !hasLogin:
		return fmt.Errorf("auth: either clientId/clientSecret or username/password must be set")
	}
	if c.Scrape.IntervalSeconds < minScrapeIntervalSeconds {
		return fmt.Errorf("scrape.intervalSeconds must be at least %d", minScrapeIntervalSeconds)
	}
	if c.Scrape.PeriodSeconds < minScrapePeriodSeconds {
		return fmt.Errorf("scrape.periodSeconds must be at least %d", minScrapePeriodSeconds)
	}
	if c.Monitors.EvaluationIntervalSeconds < minEvalIntervalSeconds {
		return fmt.Errorf("monitors.evaluationIntervalSeconds must be at least %d", minEvalIntervalSeconds)
	}
	if c.Discovery.RefreshIntervalMs < 1000 {
		return fmt.Errorf("discovery.refreshIntervalMs must be at least 1000")
	}
	if !c.AutoDiscoveryEnabled() && len(c.Environments) == 0 {
		return fmt.Errorf("auto-discovery is off but no environments are configured")
	}
	for i, env := range c.Environments {
		if env.ID == "" {
			return fmt.Errorf("environments[%d]: id must not be empty", i)
		}
	}
	for i := range c.Monitors.Definitions {
		def := &c.Monitors.Definitions[i]
		if !def.IsEnabled() {
			continue
		}
		def.ApplyDefaults(c.Monitors.Defaults)
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AutoDiscoveryEnabled defaults to true when the flag is omitted.
func (c *Config) AutoDiscoveryEnabled() bool {
	return c.AutoDiscovery == nil || *c.AutoDiscovery
}

// ScrapeEnabled defaults to true when the flag is omitted.
func (c *Config) ScrapeEnabled() bool {
	return c.Scrape.Enabled == nil || *c.Scrape.Enabled
}

// MonitorsEnabled defaults to true when the flag is omitted.
func (c *Config) MonitorsEnabled() bool {
	return c.Monitors.Enabled == nil || *c.Monitors.Enabled
}

// ScrapeInterval returns the collection cadence.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Scrape.IntervalSeconds) * time.Second
}

// ScrapePeriod returns the trailing statistics window.
func (c *Config) ScrapePeriod() time.Duration {
	return time.Duration(c.Scrape.PeriodSeconds) * time.Second
}

// DiscoveryInterval returns the discovery cadence.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.RefreshIntervalMs) * time.Millisecond
}

// EvaluationInterval returns the monitor cadence.
func (c *Config) EvaluationInterval() time.Duration {
	return time.Duration(c.Monitors.EvaluationIntervalSeconds) * time.Second
}

// Fingerprint returns the masked identifiers exposed on the health endpoint.
func (c *Config) Fingerprint() map[string]string {
	fp := map[string]string{
		"baseUrl": c.BaseURL,
	}
	if c.OrganizationID != "" {
		fp["organizationId"] = Mask(c.OrganizationID)
	}
	if c.Auth.ClientID != "" {
		fp["clientId"] = Mask(c.Auth.ClientID)
	}
	if c.Auth.Username != "" {
		fp["username"] = Mask(c.Auth.Username)
	}
	return fp
}

// Mask obscures a sensitive identifier, keeping the first and last four
// characters when it is long enough to stay ambiguous.
func Mask(s string) string {
	if len(s) < 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
