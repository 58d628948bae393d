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

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/identity"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

const serviceOutline = "OUTLINE"

// DocsReconciler converges documentation-collection membership,
// grounded on the original implementation's outline.py.
type DocsReconciler struct {
	Docs   capability.Documentation
	Chat   capability.ChatPlatform
	Matrix *matrix.Matrix
	Excl   *exclude.Set
}

func (r *DocsReconciler) Service() string { return serviceOutline }

func (r *DocsReconciler) UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record {
	if r.Docs == nil {
		return nil
	}
	cfg, ok := r.Matrix.Get(entityKind)
	if !ok || cfg.Outline == nil {
		return nil
	}
	name := pattern.Render(cfg.Outline.CollectionNamePattern, baseName)
	c, failRec := r.ensureCollection(ctx, name)
	if failRec != nil {
		return []result.Record{*failRec}
	}
	return r.syncCollectionByID(ctx, c, cfg.Outline, membership, nil)
}

func (r *DocsReconciler) DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record {
	if r.Docs == nil {
		return nil
	}
	collections, err := r.Docs.ListCollections(ctx)
	if err != nil {
		return []result.Record{{
			Service: serviceOutline, Status: result.StatusFailure,
			ActionTag: result.Failed("LIST_COLLECTIONS"), ErrorMessage: err.Error(),
		}}
	}

	var recs []result.Record
	for _, c := range collections {
		match, ok := r.Matrix.MatchOutlineCollection(c.Name)
		if !ok || match.Config.Outline == nil {
			continue
		}
		target := input.ByEntity[EntityKey{Kind: match.Kind, BaseName: match.BaseName}]
		recs = append(recs, r.syncCollectionByID(ctx, c, match.Config.Outline, target, &input)...)
	}
	return recs
}

func (r *DocsReconciler) ensureCollection(ctx context.Context, name string) (capability.DocCollection, *result.Record) {
	collections, err := r.Docs.ListCollections(ctx)
	if err == nil {
		for _, c := range collections {
			if c.Name == name {
				return c, nil
			}
		}
	}
	c, err := r.Docs.CreateCollection(ctx, name)
	if err != nil {
		return capability.DocCollection{}, &result.Record{
			Service: serviceOutline, TargetResourceName: name,
			Status: result.StatusFailure, ActionTag: result.TagFailedToEnsureCollection,
			ErrorMessage: err.Error(),
		}
	}
	return c, nil
}

// syncCollectionByID runs the add/update pass for membership, and —
// when input is non-nil (differential mode) — the removal pass
// against everyone currently in the collection but not in membership.
func (r *DocsReconciler) syncCollectionByID(ctx context.Context, c capability.DocCollection, cfg *matrix.OutlineBlock, membership Membership, input *DifferentialInput) []result.Record {
	existing, err := r.Docs.ListCollectionMembers(ctx, c.ID)
	if err != nil {
		return []result.Record{{
			Service: serviceOutline, TargetResourceName: c.Name,
			Status: result.StatusFailure, ActionTag: result.Failed("LIST_COLLECTION_MEMBERS"),
			ErrorMessage: err.Error(),
		}}
	}
	currentlyMember := make(map[string]bool, len(existing))
	for _, m := range existing {
		currentlyMember[m.ID] = true
	}

	var recs []result.Record
	for email, member := range membership {
		uid, found, err := r.Docs.GetUserByEmail(ctx, email)
		if err != nil || !found {
			recs = append(recs, result.Record{
				Service: serviceOutline, TargetResourceName: c.Name,
				SubjectIdentifier: email, Status: result.StatusSkipped,
				ActionTag: result.SkippedUserNotIn(serviceOutline),
			})
			continue
		}

		permission := cfg.DefaultAccess
		if member.IsAdminChannelMember {
			permission = cfg.AdminAccess
		}
		firstTime := !currentlyMember[uid]

		if err := r.Docs.AddUserToCollection(ctx, c.ID, uid, permission); err != nil {
			recs = append(recs, result.Record{
				Service: serviceOutline, TargetResourceName: c.Name,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("ADD_TO_COLLECTION"), ErrorMessage: err.Error(),
			})
			continue
		}

		dm := result.DMNotApplicable
		if firstTime {
			url, _ := r.Docs.CollectionURL(ctx, c.ID)
			decision := SendDMWithSuffix(ctx, r.Chat, member.ChatUserID,
				fmt.Sprintf("You've been granted access to the %q documentation collection: %s", c.Name, url), url)
			dm = decision.Outcome
		}
		recs = append(recs, result.Record{
			Service: serviceOutline, TargetResourceName: c.Name,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.UserAddedToCollection(permission, dm),
		})
	}

	if input == nil {
		return recs
	}
	for _, m := range existing {
		email := identity.Canonical(m.Email)
		if _, wanted := membership[email]; wanted {
			continue
		}
		if input.Excluded(r.Excl, email) {
			continue
		}
		if err := r.Docs.RemoveUserFromCollection(ctx, c.ID, m.ID); err != nil {
			recs = append(recs, result.Record{
				Service: serviceOutline, TargetResourceName: c.Name,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("REMOVE_FROM_COLLECTION"), ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceOutline, TargetResourceName: c.Name,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.TagUserRemovedFromCollection,
		})
	}
	return recs
}
