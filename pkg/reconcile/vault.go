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
	"strings"
	"sync"
	"time"

	"github.com/spyzhov/ajson"
	"golang.org/x/oauth2"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/identity"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

const serviceVaultwarden = "VAULTWARDEN"

var idempotentInvitePhrases = []string{
	"already a member",
	"already invited",
	"already confirmed",
	"already in this collection",
	"is already a member",
}

// TokenConfig is the password-grant configuration for the shared
// bearer token, grounded on VaultwardenClient._get_api_token.
type TokenConfig struct {
	ServerURL string
	Username  string
	Password  string
}

// VaultReconciler converges password-vault collection membership,
// grounded on the original implementation's vaultwarden.py and
// vaultwarden_client.py. It owns the single shared bearer token as a
// mutex-guarded cell (spec.md §5: "the password-store bearer token is
// shared across concurrent invitations within one run; access is
// serialized through a critical section that checks expiry and
// refreshes if needed").
type VaultReconciler struct {
	Store  capability.PasswordStore
	Chat   capability.ChatPlatform
	Matrix *matrix.Matrix
	Excl   *exclude.Set
	Token  TokenConfig

	mu          sync.Mutex
	cachedToken string
	expiry      time.Time
	oauthCfg    *oauth2.Config
}

func (r *VaultReconciler) Service() string { return serviceVaultwarden }

func (r *VaultReconciler) UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record {
	if r.Store == nil {
		return nil
	}
	cfg, ok := r.Matrix.Get(entityKind)
	if !ok || cfg.Vaultwarden == nil {
		return nil
	}
	name := pattern.Render(cfg.Vaultwarden.CollectionNamePattern, baseName)

	token, err := r.acquireToken(ctx)
	if err != nil {
		return []result.Record{{
			Service: serviceVaultwarden, TargetResourceName: name,
			Status: result.StatusFailure, ActionTag: result.Failed("GET_VW_API_TOKEN"),
			ErrorMessage: err.Error(),
		}}
	}
	collectionID, orgID, found, err := r.Store.ResolveCollectionByName(ctx, token, name)
	if err != nil {
		return []result.Record{{
			Service: serviceVaultwarden, TargetResourceName: name,
			Status: result.StatusFailure, ActionTag: result.Failed("RESOLVE_COLLECTION"),
			ErrorMessage: err.Error(),
		}}
	}
	if !found {
		return []result.Record{{
			Service: serviceVaultwarden, TargetResourceName: name,
			Status: result.StatusSkipped, ActionTag: result.TagSkippedCollectionNotFound,
		}}
	}

	return r.inviteAll(ctx, collectionID, orgID, name, membership)
}

func (r *VaultReconciler) DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record {
	if r.Store == nil {
		return nil
	}
	token, err := r.acquireToken(ctx)
	if err != nil {
		return []result.Record{{
			Service: serviceVaultwarden, Status: result.StatusFailure,
			ActionTag: result.Failed("GET_VW_API_TOKEN"), ErrorMessage: err.Error(),
		}}
	}
	collections, err := r.Store.ListCollections(ctx, token)
	if err != nil {
		return []result.Record{{
			Service: serviceVaultwarden, Status: result.StatusFailure,
			ActionTag: result.Failed("LIST_COLLECTIONS"), ErrorMessage: err.Error(),
		}}
	}

	var recs []result.Record
	for _, c := range collections {
		match, ok := r.Matrix.MatchVaultwardenCollection(c.Name)
		if !ok || match.Config.Vaultwarden == nil {
			continue
		}
		target := input.ByEntity[EntityKey{Kind: match.Kind, BaseName: match.BaseName}]

		keep := make([]capability.VaultUser, 0, len(c.Users))
		missing := make(Membership, len(target))
		for email, member := range target {
			missing[email] = member
		}
		for _, u := range c.Users {
			email := identity.Canonical(u.Email)
			if _, wanted := target[email]; wanted {
				keep = append(keep, u)
				delete(missing, email)
				recs = append(recs, result.Record{
					Service: serviceVaultwarden, TargetResourceName: c.Name,
					SubjectIdentifier: email, Status: result.StatusSuccess,
					ActionTag: result.TagUserAlreadyInvited,
				})
				continue
			}
			if input.Excluded(r.Excl, email) {
				keep = append(keep, u)
				continue
			}
		}

		if len(keep) != len(c.Users) {
			if err := r.Store.PutCollectionUsers(ctx, token, c.ID, keep); err != nil {
				recs = append(recs, result.Record{
					Service: serviceVaultwarden, TargetResourceName: c.Name,
					Status: result.StatusFailure, ActionTag: result.Failed("REMOVE_FROM_COLLECTION"),
					ErrorMessage: err.Error(),
				})
			} else {
				recs = append(recs, result.Record{
					Service: serviceVaultwarden, TargetResourceName: c.Name,
					Status: result.StatusSuccess, ActionTag: result.TagUserRemovedFromVaultCollection,
				})
			}
		}

		recs = append(recs, r.inviteAll(ctx, c.ID, c.OrgID, c.Name, missing)...)
	}
	return recs
}

// inviteAll attempts to invite every member of membership, treating
// idempotent 400 responses as success (USER_ALREADY_INVITED) and
// retrying once, with a forced token refresh, on 401.
func (r *VaultReconciler) inviteAll(ctx context.Context, collectionID, orgID, collectionName string, membership Membership) []result.Record {
	var recs []result.Record
	for email, member := range membership {
		recs = append(recs, r.inviteOne(ctx, collectionID, orgID, collectionName, email, member)...)
	}
	return recs
}

func (r *VaultReconciler) inviteOne(ctx context.Context, collectionID, orgID, collectionName, email string, member Member) []result.Record {
	token, err := r.acquireToken(ctx)
	if err != nil {
		return []result.Record{{
			Service: serviceVaultwarden, TargetResourceName: collectionName,
			SubjectIdentifier: email, Status: result.StatusFailure,
			ActionTag: result.Failed("GET_VW_API_TOKEN"), ErrorMessage: err.Error(),
		}}
	}

	err = r.Store.InviteUser(ctx, token, collectionID, orgID, email)
	if inviteErr, ok := err.(*capability.InviteError); ok && inviteErr.StatusCode == 401 {
		token, refreshErr := r.forceRefreshToken(ctx)
		if refreshErr != nil {
			return []result.Record{{
				Service: serviceVaultwarden, TargetResourceName: collectionName,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("GET_VW_API_TOKEN"), ErrorMessage: refreshErr.Error(),
			}}
		}
		err = r.Store.InviteUser(ctx, token, collectionID, orgID, email)
	}

	if err != nil {
		if inviteErr, ok := err.(*capability.InviteError); ok && inviteErr.StatusCode == 400 && isIdempotentInviteBody(inviteErr.Body) {
			return []result.Record{{
				Service: serviceVaultwarden, TargetResourceName: collectionName,
				SubjectIdentifier: email, Status: result.StatusSuccess,
				ActionTag: result.TagUserAlreadyInvited,
			}}
		}
		return []result.Record{{
			Service: serviceVaultwarden, TargetResourceName: collectionName,
			SubjectIdentifier: email, Status: result.StatusFailure,
			ActionTag: result.Failed("INVITE_TO_COLLECTION"), ErrorMessage: err.Error(),
		}}
	}

	decision := SendDMWithSuffix(ctx, r.Chat, member.ChatUserID,
		fmt.Sprintf("You've been invited to the %q password-vault collection", collectionName), r.Token.ServerURL)
	return []result.Record{{
		Service: serviceVaultwarden, TargetResourceName: collectionName,
		SubjectIdentifier: email, Status: result.StatusSuccess,
		ActionTag: result.UserInvitedToVaultCollection(decision.Outcome),
	}}
}

// acquireToken returns the cached bearer token if still valid, or
// performs the password-grant exchange under the critical section
// guarding {token, expiry} (spec.md §5).
func (r *VaultReconciler) acquireToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedToken != "" && time.Now().Before(r.expiry) {
		return r.cachedToken, nil
	}
	return r.refreshTokenLocked(ctx)
}

// forceRefreshToken discards the cached token and acquires a new one,
// for the single refresh-and-retry triggered by a 401.
func (r *VaultReconciler) forceRefreshToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedToken = ""
	return r.refreshTokenLocked(ctx)
}

func (r *VaultReconciler) refreshTokenLocked(ctx context.Context) (string, error) {
	if r.oauthCfg == nil {
		r.oauthCfg = &oauth2.Config{
			ClientID: "w",
			Endpoint: oauth2.Endpoint{
				TokenURL: strings.TrimRight(r.Token.ServerURL, "/") + "/identity/connect/token",
			},
			Scopes: []string{"api", "offline_access"},
		}
	}
	tok, err := r.oauthCfg.PasswordCredentialsToken(ctx, r.Token.Username, r.Token.Password)
	if err != nil {
		return "", fmt.Errorf("acquire vaultwarden token: %w", err)
	}
	r.cachedToken = tok.AccessToken
	r.expiry = tok.Expiry
	return r.cachedToken, nil
}

// isIdempotentInviteBody inspects a 400 response body for the
// already-a-member phrases the original client checks in both the
// top-level errorModel.message and the ValidationErrors map, per
// vaultwarden_client.py's invite_user_to_collection.
func isIdempotentInviteBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	root, err := ajson.Unmarshal(body)
	if err != nil {
		return false
	}

	if em, err := root.GetKey("errorModel"); err == nil {
		if msg, err := em.GetKey("message"); err == nil {
			if s, err := msg.GetString(); err == nil && containsIdempotentPhrase(s) {
				return true
			}
		}
	}

	ve, err := root.GetKey("ValidationErrors")
	if err != nil || !ve.IsObject() {
		return false
	}
	keys, err := ve.Keys()
	if err != nil {
		return false
	}
	for _, k := range keys {
		list, err := ve.GetKey(k)
		if err != nil || !list.IsArray() {
			continue
		}
		for _, item := range list.MustArray() {
			if item.IsString() && containsIdempotentPhrase(item.MustString()) {
				return true
			}
		}
	}
	return false
}

func containsIdempotentPhrase(s string) bool {
	s = strings.ToLower(s)
	for _, phrase := range idempotentInvitePhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}
