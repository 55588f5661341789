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

// Package discovery maintains a periodically refreshed snapshot of the
// organizations and environments visible to the configured credential.
package discovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
)

// API is the subset of the upstream client used for discovery.
type API interface {
	ListSelf(ctx context.Context) (anypoint.Organization, []anypoint.Organization, error)
	ListEnvironments(ctx context.Context, orgID string) ([]anypoint.Environment, error)
}

// Snapshot is the discovered tenant/environment state. Snapshots are
// immutable; a refresh swaps the whole snapshot atomically.
type Snapshot struct {
	RootOrganization anypoint.Organization
	Organizations    []anypoint.Organization
	Environments     []anypoint.Environment
	CompletedAt      time.Time
}

// Opts configures the discovery engine.
type Opts struct {
	// Enabled selects auto-discovery. When false the manual environment set
	// below becomes the permanent snapshot.
	Enabled bool
	// RefreshInterval is the fixed delay between discovery cycles.
	RefreshInterval time.Duration
	// OrganizationID is the explicitly configured root tenant. When empty it
	// is filled from the discovered root, once.
	OrganizationID string
	// ManualEnvironments is used when auto-discovery is disabled.
	ManualEnvironments []anypoint.Environment
}

// Engine discovers organizations and environments on a fixed-delay schedule.
type Engine struct {
	logger log.Logger
	api    API
	opts   Opts

	snapshot atomic.Pointer[Snapshot]
	orgID    atomic.Pointer[string]
}

// New returns a discovery engine. When auto-discovery is disabled the manual
// environment set is installed immediately and discovery is complete.
func New(logger log.Logger, api API, opts Opts) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	e := &Engine{logger: logger, api: api, opts: opts}
	orgID := opts.OrganizationID
	e.orgID.Store(&orgID)

	if !opts.Enabled {
		envs := make([]anypoint.Environment, len(opts.ManualEnvironments))
		copy(envs, opts.ManualEnvironments)
		for i := range envs {
			if envs[i].OrganizationID == "" {
				envs[i].OrganizationID = orgID
			}
		}
		e.snapshot.Store(&Snapshot{
			RootOrganization: anypoint.Organization{ID: orgID},
			Environments:     envs,
			CompletedAt:      time.Now(),
		})
	}
	return e
}

// Snapshot returns the current snapshot, or nil before the first discovery
// cycle completed.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Complete reports whether a snapshot is available.
func (e *Engine) Complete() bool {
	return e.snapshot.Load() != nil
}

// OrganizationID returns the effective root tenant identifier.
func (e *Engine) OrganizationID() string {
	return *e.orgID.Load()
}

// Refresh runs one discovery cycle and atomically installs the new snapshot.
// A single organization's environment listing failure is logged and skipped;
// only a failing ListSelf fails the cycle.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	if !e.opts.Enabled {
		return e.snapshot.Load(), nil
	}

	root, members, err := e.api.ListSelf(ctx)
	if err != nil {
		return nil, fmt.Errorf("list own organizations: %w", err)
	}

	// The configured root tenant wins; an empty configuration is filled from
	// the discovered root exactly once.
	if *e.orgID.Load() == "" && root.ID != "" {
		e.orgID.Store(&root.ID)
		_ = level.Info(e.logger).Log("msg", "adopted discovered root organization", "org", root.ID)
	}

	seen := map[string]bool{}
	var orgs []anypoint.Organization
	for _, org := range append([]anypoint.Organization{root}, members...) {
		if org.ID == "" || seen[org.ID] {
			continue
		}
		seen[org.ID] = true
		orgs = append(orgs, org)
	}

	var envs []anypoint.Environment
	for _, org := range orgs {
		list, err := e.api.ListEnvironments(ctx, org.ID)
		if err != nil {
			_ = level.Warn(e.logger).Log("msg", "listing environments failed, skipping organization", "org", org.ID, "err", err)
			continue
		}
		envs = append(envs, list...)
	}

	snap := &Snapshot{
		RootOrganization: root,
		Organizations:    orgs,
		Environments:     envs,
		CompletedAt:      time.Now(),
	}
	e.snapshot.Store(snap)
	_ = level.Info(e.logger).Log("msg", "discovery complete", "organizations", len(orgs), "environments", len(envs))
	return snap, nil
}

// Run refreshes immediately and then on a fixed delay until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.opts.Enabled {
		<-ctx.Done()
		return nil
	}

	if _, err := e.Refresh(ctx); err != nil {
		_ = level.Error(e.logger).Log("msg", "initial discovery failed", "err", err)
	}
	timer := time.NewTimer(e.opts.RefreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := e.Refresh(ctx); err != nil {
				_ = level.Error(e.logger).Log("msg", "discovery failed", "err", err)
			}
			timer.Reset(e.opts.RefreshInterval)
		}
	}
}
