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

package orchestrator

import (
	"context"
	"testing"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/stretchr/testify/require"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/capability/fake"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/reconcile"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

func oneKindMatrix(t *testing.T) *matrix.Matrix {
	t.Helper()
	kinds := orderedmap.NewOrderedMap[string, matrix.KindConfig]()
	kinds.Set("squad", matrix.KindConfig{
		Standard: matrix.ChannelBlock{
			ChannelNamePattern:   "squad-{base_name}",
			ProviderGroupPattern: "grp-{base_name}",
		},
	})
	return &matrix.Matrix{Kinds: kinds}
}

func TestOrchestrate_ChatToTools_AddsNewGroupMember(t *testing.T) {
	chat := fake.NewChatPlatform()
	chat.Channels = []capability.ChatChannel{{ID: "ch1", Slug: "squad-payments", DisplayName: "squad-payments", Type: "O"}}
	chat.Members["ch1"] = []capability.ChatUser{{UserID: "u1", Username: "alice", Email: "a@example.com"}}

	provider := fake.NewIdentityProvider()
	provider.UsersByEmail["a@example.com"] = "nid1"

	m := oneKindMatrix(t)
	excl := exclude.Empty()
	orch := &Orchestrator{
		Chat:   chat,
		Matrix: m,
		Excl:   excl,
		Reconcilers: []reconcile.Reconciler{
			&reconcile.GroupsReconciler{Provider: provider, Matrix: m, Excl: excl},
		},
	}

	ok, recs := orch.Orchestrate(context.Background(), "team1", ModeChatToTools, nil)
	require.True(t, ok)
	require.Len(t, recs, 1)
	require.Equal(t, result.StatusSuccess, recs[0].Status)
	require.Equal(t, "USER_ADDED_TO_GROUP", string(recs[0].ActionTag))

	groups, err := provider.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "grp-payments", groups[0].Name)
}

func TestOrchestrate_SkipServices_SkipsReconciler(t *testing.T) {
	chat := fake.NewChatPlatform()
	chat.Channels = []capability.ChatChannel{{ID: "ch1", Slug: "squad-payments", DisplayName: "squad-payments"}}
	chat.Members["ch1"] = []capability.ChatUser{{UserID: "u1", Username: "alice", Email: "a@example.com"}}

	provider := fake.NewIdentityProvider()
	provider.UsersByEmail["a@example.com"] = "nid1"

	m := oneKindMatrix(t)
	excl := exclude.Empty()
	orch := &Orchestrator{
		Chat:   chat,
		Matrix: m,
		Excl:   excl,
		Reconcilers: []reconcile.Reconciler{
			&reconcile.GroupsReconciler{Provider: provider, Matrix: m, Excl: excl},
		},
	}

	ok, recs := orch.Orchestrate(context.Background(), "team1", ModeChatToTools, map[string]bool{"provider": true})
	require.True(t, ok)
	require.Empty(t, recs)
}

func TestDifferentialSync_RemovesMemberAbsentFromChannel(t *testing.T) {
	chat := fake.NewChatPlatform()
	chat.Channels = []capability.ChatChannel{{ID: "ch1", Slug: "squad-payments", DisplayName: "squad-payments"}}
	chat.Members["ch1"] = []capability.ChatUser{{UserID: "u1", Username: "alice", Email: "a@example.com"}}

	provider := fake.NewIdentityProvider()
	provider.UsersByEmail["a@example.com"] = "nid1"
	provider.UsersByEmail["b@example.com"] = "nid2"
	provider.Groups["grp-payments"] = &capability.ProviderGroup{
		ID: "grp-payments", Name: "grp-payments",
		Users: []capability.ProviderUser{
			{ID: "nid1", Username: "alice", Email: "a@example.com"},
			{ID: "nid2", Username: "bob", Email: "b@example.com"},
		},
	}

	m := oneKindMatrix(t)
	excl := exclude.Empty()
	orch := &Orchestrator{
		Chat:   chat,
		Matrix: m,
		Excl:   excl,
		Reconcilers: []reconcile.Reconciler{
			&reconcile.GroupsReconciler{Provider: provider, Matrix: m, Excl: excl},
		},
	}

	ok, recs := orch.DifferentialSync(context.Background(), "team1", nil)
	require.True(t, ok)

	var removed, kept bool
	for _, r := range recs {
		switch r.SubjectIdentifier {
		case "b@example.com":
			require.Equal(t, "USER_REMOVED_FROM_GROUP", string(r.ActionTag))
			removed = true
		case "a@example.com":
			require.Equal(t, "USER_ALREADY_IN_GROUP", string(r.ActionTag))
			kept = true
		}
	}
	require.True(t, removed, "expected bob to be removed")
	require.True(t, kept, "expected alice to be reported already in group")

	group, err := provider.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, group[0].Users, 1)
	require.Equal(t, "nid1", group[0].Users[0].ID)
}

func TestOrchestrate_NoEntitiesDiscovered_ReturnsOKWithNoRecords(t *testing.T) {
	chat := fake.NewChatPlatform() // no channels at all
	m := oneKindMatrix(t)
	orch := &Orchestrator{Chat: chat, Matrix: m, Excl: exclude.Empty()}

	ok, recs := orch.Orchestrate(context.Background(), "team1", ModeChatToTools, nil)
	require.True(t, ok)
	require.Empty(t, recs)
}

func TestOrchestrate_NoTeamID_ReturnsNotOK(t *testing.T) {
	orch := &Orchestrator{Chat: fake.NewChatPlatform(), Matrix: oneKindMatrix(t), Excl: exclude.Empty()}
	ok, recs := orch.Orchestrate(context.Background(), "", ModeChatToTools, nil)
	require.False(t, ok)
	require.Nil(t, recs)
}
