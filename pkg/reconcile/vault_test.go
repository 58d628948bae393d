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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/stretchr/testify/require"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/capability/fake"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

// vaultMatrix returns a one-kind matrix with a Vaultwarden block, plus
// the token endpoint's access token for the OAuth test server this
// test file spins up to stand in for a Vaultwarden instance.
func vaultMatrix(t *testing.T) *matrix.Matrix {
	t.Helper()
	kinds := orderedmap.NewOrderedMap[string, matrix.KindConfig]()
	kinds.Set("squad", matrix.KindConfig{
		Standard:    matrix.ChannelBlock{ChannelNamePattern: "squad-{base_name}"},
		Vaultwarden: &matrix.VaultwardenBlock{CollectionNamePattern: "{base_name} Secrets"},
	})
	return &matrix.Matrix{Kinds: kinds}
}

// newTokenServer returns an httptest.Server standing in for
// Vaultwarden's /identity/connect/token endpoint, always issuing
// accessToken.
func newTokenServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","expires_in":3600}`, accessToken)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultReconciler_UpsertSync_SkipsMissingCollection(t *testing.T) {
	srv := newTokenServer(t, "tok-1")
	store := fake.NewPasswordStore()
	r := &VaultReconciler{
		Store: store, Matrix: vaultMatrix(t), Excl: exclude.Empty(),
		Token: TokenConfig{ServerURL: srv.URL, Username: "api", Password: "secret"},
	}
	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"},
	})
	require.Len(t, recs, 1)
	require.Equal(t, "SKIPPED_COLLECTION_NOT_FOUND", string(recs[0].ActionTag))
}

func TestVaultReconciler_UpsertSync_InvitesNewMember(t *testing.T) {
	srv := newTokenServer(t, "tok-1")
	store := fake.NewPasswordStore()
	store.Collections["payments Secrets"] = &capability.VaultCollection{ID: "c1", OrgID: "org1", Name: "payments Secrets"}

	r := &VaultReconciler{
		Store: store, Matrix: vaultMatrix(t), Excl: exclude.Empty(),
		Token: TokenConfig{ServerURL: srv.URL, Username: "api", Password: "secret"},
	}
	recs := r.UpsertSync(context.Background(), "squad", "payments", Membership{
		"a@example.com": {Username: "alice", ChatUserID: "u1"},
	})
	require.Len(t, recs, 1)
	require.Equal(t, result.StatusSuccess, recs[0].Status)
	require.Contains(t, string(recs[0].ActionTag), "USER_INVITED_TO_VAULT_COLLECTION")

	coll, err := store.GetCollection(context.Background(), "tok-1", "c1")
	require.NoError(t, err)
	require.Len(t, coll.Users, 1)
	require.Equal(t, "a@example.com", coll.Users[0].Email)
}

func TestVaultReconciler_InviteOne_RefreshesTokenOn401(t *testing.T) {
	srv := newTokenServer(t, "fresh-token")
	store := fake.NewPasswordStore()
	store.Collections["payments Secrets"] = &capability.VaultCollection{ID: "c1", OrgID: "org1", Name: "payments Secrets"}
	store.Unauthorized = true
	store.ValidToken = "fresh-token"

	r := &VaultReconciler{
		Store: store, Matrix: vaultMatrix(t), Excl: exclude.Empty(),
		Token: TokenConfig{ServerURL: srv.URL, Username: "api", Password: "secret"},
	}
	// Seed a stale cached token so the first InviteUser attempt is
	// rejected with 401 and forces exactly one refresh-and-retry.
	r.cachedToken = "stale-token"
	r.expiry = time.Now().Add(time.Hour)

	recs := r.inviteOne(context.Background(), "c1", "org1", "payments Secrets", "a@example.com", Member{ChatUserID: "u1"})
	require.Len(t, recs, 1)
	require.Equal(t, result.StatusSuccess, recs[0].Status)

	coll, err := store.GetCollection(context.Background(), "fresh-token", "c1")
	require.NoError(t, err)
	require.Len(t, coll.Users, 1)
}

func TestVaultReconciler_DifferentialSync_RemovesAbsentKeepsExcluded(t *testing.T) {
	srv := newTokenServer(t, "tok-1")
	store := fake.NewPasswordStore()
	store.Collections["payments Secrets"] = &capability.VaultCollection{
		ID: "c1", OrgID: "org1", Name: "payments Secrets",
		Users: []capability.VaultUser{
			{Email: "a@example.com", ID: "a@example.com"}, // still wanted
			{Email: "c@example.com", ID: "c@example.com"}, // no longer wanted, not excluded
			{Email: "e@example.com", ID: "e@example.com"}, // no longer wanted, excluded
		},
	}

	excl := excludeSet(t, "evan")
	r := &VaultReconciler{
		Store: store, Matrix: vaultMatrix(t), Excl: excl,
		Token: TokenConfig{ServerURL: srv.URL, Username: "api", Password: "secret"},
	}

	input := DifferentialInput{
		ByEntity: ByEntity{
			{Kind: "squad", BaseName: "payments"}: Membership{
				"a@example.com": {Username: "alice", ChatUserID: "u1"},
			},
		},
		Usernames: UsernameIndex{"e@example.com": "evan"},
	}
	r.DifferentialSync(context.Background(), input)

	coll, err := store.GetCollection(context.Background(), "tok-1", "c1")
	require.NoError(t, err)
	emails := make(map[string]bool, len(coll.Users))
	for _, u := range coll.Users {
		emails[u.Email] = true
	}
	require.True(t, emails["a@example.com"])
	require.True(t, emails["e@example.com"]) // preserved: excluded
	require.False(t, emails["c@example.com"]) // removed: not wanted, not excluded
}

func TestIsIdempotentInviteBody(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"top level message", `{"errorModel":{"message":"User is already a member of this organization."}}`, true},
		{"validation errors array", `{"ValidationErrors":{"":["Invitation already invited to this collection."]}}`, true},
		{"unrelated error", `{"errorModel":{"message":"Base title not found."}}`, false},
		{"empty body", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isIdempotentInviteBody([]byte(tc.body)))
		})
	}
}
