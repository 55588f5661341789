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

package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
)

type fakeAPI struct {
	root    anypoint.Organization
	members []anypoint.Organization
	envs    map[string][]anypoint.Environment
	failing map[string]error
	selfErr error
}

func (f *fakeAPI) ListSelf(context.Context) (anypoint.Organization, []anypoint.Organization, error) {
	if f.selfErr != nil {
		return anypoint.Organization{}, nil, f.selfErr
	}
	return f.root, f.members, nil
}

func (f *fakeAPI) ListEnvironments(_ context.Context, orgID string) ([]anypoint.Environment, error) {
	if err, ok := f.failing[orgID]; ok {
		return nil, err
	}
	return f.envs[orgID], nil
}

func TestRefreshDiscoversAllOrganizations(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{
		root: anypoint.Organization{ID: "root", Name: "Root"},
		members: []anypoint.Organization{
			{ID: "root", Name: "Root"}, // duplicate of the root entry
			{ID: "child", Name: "Child"},
		},
		envs: map[string][]anypoint.Environment{
			"root":  {{ID: "e1", Name: "Production", OrganizationID: "root"}},
			"child": {{ID: "e2", Name: "Sandbox", OrganizationID: "child"}},
		},
	}
	e := New(nil, api, Opts{Enabled: true})
	require.False(t, e.Complete())

	snap, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Organizations, 2)
	require.Len(t, snap.Environments, 2)
	require.True(t, e.Complete())
	require.Equal(t, snap, e.Snapshot())
}

func TestRefreshAdoptsDiscoveredRootOnce(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{root: anypoint.Organization{ID: "discovered-root"}}
	e := New(nil, api, Opts{Enabled: true})

	_, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "discovered-root", e.OrganizationID())

	// A later refresh with a different upstream root never overwrites it.
	api.root = anypoint.Organization{ID: "other-root"}
	_, err = e.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "discovered-root", e.OrganizationID())
}

func TestRefreshKeepsConfiguredRoot(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{root: anypoint.Organization{ID: "discovered-root"}}
	e := New(nil, api, Opts{Enabled: true, OrganizationID: "configured"})

	_, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "configured", e.OrganizationID())
}

func TestRefreshSkipsFailingOrganization(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{
		root:    anypoint.Organization{ID: "root"},
		members: []anypoint.Organization{{ID: "broken"}},
		envs: map[string][]anypoint.Environment{
			"root": {{ID: "e1", OrganizationID: "root"}},
		},
		failing: map[string]error{"broken": errors.New("boom")},
	}
	e := New(nil, api, Opts{Enabled: true})

	snap, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Environments, 1)
	require.Equal(t, "e1", snap.Environments[0].ID)
}

func TestRefreshFailsWhenSelfFails(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{selfErr: errors.New("upstream down")}
	e := New(nil, api, Opts{Enabled: true})

	_, err := e.Refresh(context.Background())
	require.Error(t, err)
	require.False(t, e.Complete())
}

func TestManualModeInstallsSnapshotImmediately(t *testing.T) {
	t.Parallel()
	e := New(nil, &fakeAPI{}, Opts{
		Enabled:        false,
		OrganizationID: "org-1",
		ManualEnvironments: []anypoint.Environment{
			{ID: "env-1", Name: "Production"},
		},
	})
	require.True(t, e.Complete())

	snap := e.Snapshot()
	require.Len(t, snap.Environments, 1)
	// The configured root tenant is stamped onto manual environments.
	require.Equal(t, "org-1", snap.Environments[0].OrganizationID)

	// Refresh is a no-op when auto-discovery is off.
	again, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, snap, again)
}
