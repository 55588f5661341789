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

// Package license derives the feature tier from the configured license key.
// It is a pure feature-flag concern; no cryptographic validation happens here.
package license

import "strings"

// Tier is the reported license tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Feature names gateable capabilities.
type Feature string

const (
	// FeatureMonitors enables the monitor evaluation subsystem and its
	// REST endpoints.
	FeatureMonitors Feature = "monitors"
	// FeatureTestAlerts enables synthetic alert dispatch via the API.
	FeatureTestAlerts Feature = "test_alerts"
)

// proKeyPrefix marks keys issued for the pro tier.
const proKeyPrefix = "AMQE-PRO-"

// License is the capability predicate consulted by the evaluator and the
// control-plane endpoints.
type License struct {
	tier Tier
}

// New derives the tier from the key. Any key with the pro prefix and a
// plausible length unlocks the pro tier; everything else is free.
func New(key string) *License {
	tier := TierFree
	if strings.HasPrefix(key, proKeyPrefix) && len(key) >= len(proKeyPrefix)+8 {
		tier = TierPro
	}
	return &License{tier: tier}
}

// Tier returns the effective tier.
func (l *License) Tier() Tier { return l.tier }

// Allows reports whether the feature is available on this tier. The whole
// monitor subsystem is a pro capability; the free tier only exports metrics.
func (l *License) Allows(f Feature) bool {
	switch f {
	case FeatureMonitors, FeatureTestAlerts:
		return l.tier == TierPro
	default:
		return false
	}
}

// MaxMonitors returns the number of enabled monitor definitions permitted:
// negative for unlimited on the pro tier, zero on the free tier.
func (l *License) MaxMonitors() int {
	if l.Allows(FeatureMonitors) {
		return -1
	}
	return 0
}

// Features lists the gateable features and their availability.
func (l *License) Features() map[string]bool {
	return map[string]bool{
		string(FeatureMonitors):   l.Allows(FeatureMonitors),
		string(FeatureTestAlerts): l.Allows(FeatureTestAlerts),
	}
}
