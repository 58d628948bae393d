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

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/identity"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

const (
	serviceNocoDB = "NOCODB"
	noAccessRole  = "no-access"
)

// DatabaseReconciler converges low-code-database base membership,
// grounded on the original implementation's nocodb.py. Unlike the other
// reconcilers, it never creates the underlying resource: a base that
// does not already exist by title is skipped (TagSkippedBaseNotFound),
// and "removal" during differential sync is expressed as demoting the
// member's role to no-access, since the database capability has no
// first-class remove-user operation.
type DatabaseReconciler struct {
	DB     capability.Database
	Chat   capability.ChatPlatform
	Matrix *matrix.Matrix
	Excl   *exclude.Set
}

func (r *DatabaseReconciler) Service() string { return serviceNocoDB }

func (r *DatabaseReconciler) UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record {
	if r.DB == nil {
		return nil
	}
	cfg, ok := r.Matrix.Get(entityKind)
	if !ok || cfg.NocoDB == nil {
		return nil
	}
	title := pattern.Render(cfg.NocoDB.BaseTitlePattern, baseName)
	baseID, found, err := r.DB.FindBaseByTitle(ctx, title)
	if err != nil {
		return []result.Record{{
			Service: serviceNocoDB, TargetResourceName: title,
			Status: result.StatusFailure, ActionTag: result.Failed("FIND_BASE"),
			ErrorMessage: err.Error(),
		}}
	}
	if !found {
		return []result.Record{{
			Service: serviceNocoDB, TargetResourceName: title,
			Status: result.StatusSkipped, ActionTag: result.TagSkippedBaseNotFound,
		}}
	}
	return r.syncBase(ctx, baseID, title, cfg.NocoDB, membership, nil)
}

func (r *DatabaseReconciler) DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record {
	if r.DB == nil {
		return nil
	}
	bases, err := r.DB.ListBases(ctx)
	if err != nil {
		return []result.Record{{
			Service: serviceNocoDB, Status: result.StatusFailure,
			ActionTag: result.Failed("LIST_BASES"), ErrorMessage: err.Error(),
		}}
	}

	var recs []result.Record
	for _, b := range bases {
		match, ok := r.Matrix.MatchNocoDBBase(b.Title)
		if !ok || match.Config.NocoDB == nil {
			continue
		}
		target := input.ByEntity[EntityKey{Kind: match.Kind, BaseName: match.BaseName}]
		recs = append(recs, r.syncBase(ctx, b.ID, b.Title, match.Config.NocoDB, target, &input)...)
	}
	return recs
}

// syncBase runs the invite/update pass for membership, and — when input
// is non-nil (differential mode) — demotes to no-access everyone
// currently in the base but absent from membership and not excluded.
func (r *DatabaseReconciler) syncBase(ctx context.Context, baseID, title string, cfg *matrix.NocoDBBlock, membership Membership, input *DifferentialInput) []result.Record {
	existing, err := r.DB.ListBaseUsers(ctx, baseID)
	if err != nil {
		return []result.Record{{
			Service: serviceNocoDB, TargetResourceName: title,
			Status: result.StatusFailure, ActionTag: result.Failed("LIST_BASE_USERS"),
			ErrorMessage: err.Error(),
		}}
	}
	byEmail := make(map[string]capability.DBBaseUser, len(existing))
	for _, u := range existing {
		byEmail[normalizeEmail(u.Email)] = u
	}

	var recs []result.Record
	for email, member := range membership {
		role := cfg.DefaultAccess
		if member.IsAdminChannelMember {
			role = cfg.AdminAccess
		}

		current, present := byEmail[email]
		if !present {
			if err := r.DB.InviteUser(ctx, baseID, email, role); err != nil {
				recs = append(recs, result.Record{
					Service: serviceNocoDB, TargetResourceName: title,
					SubjectIdentifier: email, Status: result.StatusFailure,
					ActionTag: result.Failed("INVITE_USER"), ErrorMessage: err.Error(),
				})
				continue
			}
			decision := SendDMWithSuffix(ctx, r.Chat, member.ChatUserID,
				"You've been granted access to the "+title+" database base", "")
			recs = append(recs, result.Record{
				Service: serviceNocoDB, TargetResourceName: title,
				SubjectIdentifier: email, Status: result.StatusSuccess,
				ActionTag: result.UserInvitedAsRole(role, decision.Outcome),
			})
			continue
		}

		if current.Role == role {
			recs = append(recs, result.Record{
				Service: serviceNocoDB, TargetResourceName: title,
				SubjectIdentifier: email, Status: result.StatusSuccess,
				ActionTag: result.TagUserAlreadyInBaseWithCorrectRole,
			})
			continue
		}

		if err := r.DB.UpdateUserRole(ctx, baseID, current.ID, role); err != nil {
			recs = append(recs, result.Record{
				Service: serviceNocoDB, TargetResourceName: title,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("UPDATE_ROLE"), ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceNocoDB, TargetResourceName: title,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.UserRoleUpdatedTo(role),
		})
	}

	if input == nil {
		return recs
	}
	for email, u := range byEmail {
		if _, wanted := membership[email]; wanted {
			continue
		}
		if u.Role == noAccessRole {
			continue
		}
		if input.Excluded(r.Excl, email) {
			continue
		}
		if err := r.DB.UpdateUserRole(ctx, baseID, u.ID, noAccessRole); err != nil {
			recs = append(recs, result.Record{
				Service: serviceNocoDB, TargetResourceName: title,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("REVOKE_ACCESS"), ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceNocoDB, TargetResourceName: title,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.UserRoleUpdatedTo(noAccessRole),
		})
	}
	return recs
}

func normalizeEmail(s string) string {
	return identity.Canonical(s)
}
