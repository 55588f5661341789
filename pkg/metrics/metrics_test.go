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

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPublisherUpsert(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := NewPublisher(reg)

	labels := prometheus.Labels{"queue_name": "orders", "environment": "prod", "region": "us-east-1"}
	require.NoError(t, p.Set("test_messages", "Messages.", labels, 5))
	require.NoError(t, p.Set("test_messages", "Messages.", labels, 9))

	want := `
		# HELP test_messages Messages.
		# TYPE test_messages gauge
		test_messages{environment="prod",queue_name="orders",region="us-east-1"} 9
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "test_messages"))
}

func TestPublisherRejectsLabelMismatch(t *testing.T) {
	t.Parallel()
	p := NewPublisher(prometheus.NewRegistry())

	require.NoError(t, p.Set("test_gauge", "g", prometheus.Labels{"a": "1"}, 1))
	err := p.Set("test_gauge", "g", prometheus.Labels{"a": "1", "b": "2"}, 2)
	require.Error(t, err)
}

func TestPublisherDeletePartial(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := NewPublisher(reg)

	require.NoError(t, p.Set("test_gauge", "g", prometheus.Labels{"queue_name": "orders", "extra": "x"}, 1))
	require.NoError(t, p.Set("test_gauge", "g", prometheus.Labels{"queue_name": "other", "extra": "y"}, 2))

	// A partial match removes every series carrying the subset.
	p.DeletePartial("test_gauge", prometheus.Labels{"queue_name": "orders"})

	count := testutil.CollectAndCount(p.gauges["test_gauge"].vec)
	require.Equal(t, 1, count)

	// Deleting an unknown metric is a no-op.
	p.DeletePartial("missing_gauge", prometheus.Labels{"queue_name": "orders"})
}
