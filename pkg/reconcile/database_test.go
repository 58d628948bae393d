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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/stretchr/testify/require"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/capability/fake"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
)

func excludeSet(t *testing.T, usernames ...string) *exclude.Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "excluded_users.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(usernames, "\n")+"\n"), 0o600))
	set, err := exclude.Load(path)
	require.NoError(t, err)
	return set
}

func squadMatrix(t *testing.T) *matrix.Matrix {
	t.Helper()
	kinds := orderedmap.NewOrderedMap[string, matrix.KindConfig]()
	kinds.Set("squad", matrix.KindConfig{
		Standard: matrix.ChannelBlock{ChannelNamePattern: "squad-{base_name}"},
		NocoDB: &matrix.NocoDBBlock{
			BaseTitlePattern: "{base_name} Base",
			DefaultAccess:    "editor",
			AdminAccess:      "owner",
		},
	})
	return &matrix.Matrix{Kinds: kinds}
}

func TestDatabaseReconciler_UpsertSync_InvitesMissingAndSkipsMissingBase(t *testing.T) {
	db := fake.NewDatabase()
	r := &DatabaseReconciler{DB: db, Matrix: squadMatrix(t), Excl: exclude.Empty()}

	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"},
	})
	require.Len(t, recs, 1)
	require.Equal(t, "SKIPPED_BASE_NOT_FOUND", string(recs[0].ActionTag))

	db.Bases["payments Base"] = "base-1"
	recs = r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"},
		"b@example.com": {Username: "bob", ChatUserID: "u2", IsAdminChannelMember: true},
	})
	require.Len(t, recs, 2)

	users, err := db.ListBaseUsers(context.Background(), "base-1")
	require.NoError(t, err)
	byEmail := map[string]string{}
	for _, u := range users {
		byEmail[u.Email] = u.Role
	}
	require.Equal(t, "editor", byEmail["a@example.com"])
	require.Equal(t, "owner", byEmail["b@example.com"])
}

func TestDatabaseReconciler_UpsertSync_UpdatesDivergentRole(t *testing.T) {
	db := fake.NewDatabase()
	db.Bases["payments Base"] = "base-1"
	db.Users["base-1"] = []capability.DBBaseUser{{Email: "a@example.com", ID: "a@example.com", Role: "owner"}}

	r := &DatabaseReconciler{DB: db, Matrix: squadMatrix(t), Excl: exclude.Empty()}
	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"}, // not admin -> wants editor
	})
	require.Len(t, recs, 1)
	require.Equal(t, "USER_ROLE_UPDATED_TO_EDITOR", string(recs[0].ActionTag))
}

func TestDatabaseReconciler_DifferentialSync_DemotesAbsentMembersToNoAccess(t *testing.T) {
	db := fake.NewDatabase()
	db.Bases["payments Base"] = "base-1"
	db.Users["base-1"] = []capability.DBBaseUser{
		{Email: "a@example.com", ID: "a@example.com", Role: "editor"}, // still wanted
		{Email: "c@example.com", ID: "c@example.com", Role: "editor"}, // no longer wanted
		{Email: "d@example.com", ID: "d@example.com", Role: "no-access"}, // already demoted
	}

	m := squadMatrix(t)
	r := &DatabaseReconciler{DB: db, Matrix: m, Excl: exclude.Empty()}

	input := DifferentialInput{
		ByEntity: ByEntity{
			{Kind: "squad", BaseName: "payments"}: Membership{
				"a@example.com": {Username: "alice", ChatUserID: "u1"},
			},
		},
		Usernames: UsernameIndex{},
	}
	recs := r.DifferentialSync(context.Background(), input)

	var demoted, unchanged int
	for _, rec := range recs {
		if rec.SubjectIdentifier == "c@example.com" {
			require.Equal(t, "USER_ROLE_UPDATED_TO_NO_ACCESS", string(rec.ActionTag))
			demoted++
		}
		if rec.SubjectIdentifier == "a@example.com" {
			require.Equal(t, "USER_ALREADY_IN_BASE_WITH_CORRECT_ROLE", string(rec.ActionTag))
			unchanged++
		}
	}
	require.Equal(t, 1, demoted)
	require.Equal(t, 1, unchanged)

	users, _ := db.ListBaseUsers(context.Background(), "base-1")
	for _, u := range users {
		if u.Email == "d@example.com" {
			require.Equal(t, "no-access", u.Role) // untouched, already demoted
		}
	}
}

func TestDatabaseReconciler_DifferentialSync_PreservesExcludedMember(t *testing.T) {
	db := fake.NewDatabase()
	db.Bases["payments Base"] = "base-1"
	db.Users["base-1"] = []capability.DBBaseUser{
		{Email: "e@example.com", ID: "e@example.com", Role: "editor"},
	}

	excl := excludeSet(t, "evan")

	r := &DatabaseReconciler{DB: db, Matrix: squadMatrix(t), Excl: excl}
	input := DifferentialInput{
		ByEntity:  ByEntity{},
		Usernames: UsernameIndex{"e@example.com": "evan"},
	}
	recs := r.DifferentialSync(context.Background(), input)
	require.Empty(t, recs) // excluded member neither invited nor demoted

	users, _ := db.ListBaseUsers(context.Background(), "base-1")
	require.Equal(t, "editor", users[0].Role)
}
