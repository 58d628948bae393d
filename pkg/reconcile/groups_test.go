// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reconcile

import (
	"context"
	"testing"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/stretchr/testify/require"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/capability/fake"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
)

func squadMatrixWithAdmin(t *testing.T) *matrix.Matrix {
	t.Helper()
	kinds := orderedmap.NewOrderedMap[string, matrix.KindConfig]()
	kinds.Set("squad", matrix.KindConfig{
		Standard: matrix.ChannelBlock{ProviderGroupPattern: "grp-{base_name}"},
		Admin:    &matrix.ChannelBlock{ProviderGroupPattern: "grp-{base_name}-admins"},
	})
	return &matrix.Matrix{Kinds: kinds}
}

func TestGroupsReconciler_UpsertSync_CreatesGroupAndAddsMembers(t *testing.T) {
	provider := fake.NewIdentityProvider()
	provider.UsersByEmail["a@example.com"] = "nid1"
	provider.UsersByEmail["b@example.com"] = "nid2"

	r := &GroupsReconciler{Provider: provider, Matrix: squadMatrixWithAdmin(t), Excl: exclude.Empty()}
	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"},
		"b@example.com": {Username: "bob", ChatUserID: "u2", IsAdminChannelMember: true},
	})
	require.Len(t, recs, 3) // standard add x2, admin add x1

	groups, err := provider.ListGroups(context.Background())
	require.NoError(t, err)
	byName := map[string]capability.ProviderGroup{}
	for _, g := range groups {
		byName[g.Name] = g
	}
	require.Len(t, byName["grp-payments"].Users, 2)
	require.Len(t, byName["grp-payments-admins"].Users, 1)
	require.Equal(t, "nid2", byName["grp-payments-admins"].Users[0].ID)
}

func TestGroupsReconciler_UpsertSync_SkipsUserWithNoNativeAccount(t *testing.T) {
	provider := fake.NewIdentityProvider()

	r := &GroupsReconciler{Provider: provider, Matrix: squadMatrixWithAdmin(t), Excl: exclude.Empty()}
	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"ghost@example.com": {Username: "ghost", ChatUserID: "u9"},
	})
	require.Len(t, recs, 1)
	require.Equal(t, "SKIPPED_USER_NOT_IN_PROVIDER", string(recs[0].ActionTag))
}

func TestGroupsReconciler_LookupNativeID_BuildsIndexOnceAcrossConcurrentCallers(t *testing.T) {
	provider := fake.NewIdentityProvider()
	provider.UsersByEmail["a@example.com"] = "nid1"

	r := &GroupsReconciler{Provider: provider, Matrix: squadMatrixWithAdmin(t), Excl: exclude.Empty()}

	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			id, ok := r.lookupNativeID(context.Background(), "a@example.com")
			require.True(t, ok)
			done <- id
		}()
	}
	for i := 0; i < 8; i++ {
		require.Equal(t, "nid1", <-done)
	}
}
