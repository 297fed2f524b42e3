// Copyright 2026 The Keyring Authors
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

package trust_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/trust"
	"github.com/opentrusty/keyring/internal/trust/trusttest"
)

// newTestService builds a Service over fresh in-memory repositories.
func newTestService(t *testing.T, policy core.NetworkPolicy) (*trust.Service, trust.Repositories) {
	t.Helper()
	repos := trusttest.NewRepositories()
	return newTestServiceWith(t, repos, policy), repos
}

// newTestServiceWith builds a Service over existing repositories,
// simulating a separate client process sharing the same backend.
func newTestServiceWith(t *testing.T, repos trust.Repositories, policy core.NetworkPolicy) *trust.Service {
	t.Helper()
	c, err := core.NewContext("org.example.mua",
		core.WithHome(t.TempDir()),
		core.WithNetworkPolicy(policy),
	)
	require.NoError(t, err)
	svc, err := trust.NewService(context.Background(), c, repos)
	require.NoError(t, err)
	return svc
}

// logStatuses extracts the Status column of a log cursor, oldest first.
func logStatuses(t *testing.T, cur *trust.Cursor[trust.LogEntry]) []string {
	t.Helper()
	entries, err := trust.Collect(cur)
	require.NoError(t, err)
	statuses := make([]string, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.Status)
	}
	return statuses
}
