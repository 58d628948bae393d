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
	"sync"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/identity"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

const serviceProvider = "PROVIDER"

// GroupsReconciler converges identity-provider groups to the standard
// and (when configured) admin membership of each entity, grounded on
// the original implementation's authentik.py.
type GroupsReconciler struct {
	Provider capability.IdentityProvider
	Matrix   *matrix.Matrix
	Excl     *exclude.Set

	resolverOnce sync.Once
	resolver     *identity.Resolver // built once, read-only thereafter
}

func (r *GroupsReconciler) Service() string { return serviceProvider }

func (r *GroupsReconciler) UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record {
	if r.Provider == nil {
		return nil
	}
	cfg, ok := r.Matrix.Get(entityKind)
	if !ok {
		return nil
	}

	var recs []result.Record
	standardName := pattern.Render(cfg.Standard.ProviderGroupPattern, baseName)
	recs = append(recs, r.syncGroupUpsert(ctx, standardName, membership)...)

	if cfg.Admin != nil {
		adminMembership := adminSubset(membership)
		adminName := pattern.Render(cfg.Admin.ProviderGroupPattern, baseName)
		recs = append(recs, r.syncGroupUpsert(ctx, adminName, adminMembership)...)
	}
	return recs
}

func (r *GroupsReconciler) DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record {
	if r.Provider == nil {
		return nil
	}
	groups, err := r.Provider.ListGroups(ctx)
	if err != nil {
		return []result.Record{{
			Service:      serviceProvider,
			Status:       result.StatusFailure,
			ActionTag:    result.Failed("LIST_GROUPS"),
			ErrorMessage: err.Error(),
		}}
	}

	var recs []result.Record
	for _, g := range groups {
		match, ok := r.Matrix.MatchProviderGroup(g.Name)
		if !ok {
			continue
		}
		target := input.ByEntity[EntityKey{Kind: match.Kind, BaseName: match.BaseName}]
		if match.IsAdmin {
			target = adminSubset(target)
		}
		recs = append(recs, r.diffGroup(ctx, g, target, input)...)
	}
	return recs
}

func adminSubset(m Membership) Membership {
	out := make(Membership)
	for email, member := range m {
		if member.IsAdminChannelMember {
			out[email] = member
		}
	}
	return out
}

func (r *GroupsReconciler) ensureGroup(ctx context.Context, name string) (capability.ProviderGroup, *result.Record) {
	groups, err := r.Provider.ListGroups(ctx)
	if err != nil {
		return capability.ProviderGroup{}, &result.Record{
			Service: serviceProvider, TargetResourceName: name,
			Status: result.StatusFailure, ActionTag: result.TagFailedToEnsureGroup,
			ErrorMessage: err.Error(),
		}
	}
	for _, g := range groups {
		if g.Name == name {
			return g, nil
		}
	}
	g, err := r.Provider.CreateGroup(ctx, name)
	if err != nil {
		return capability.ProviderGroup{}, &result.Record{
			Service: serviceProvider, TargetResourceName: name,
			Status: result.StatusFailure, ActionTag: result.TagFailedToEnsureGroup,
			ErrorMessage: err.Error(),
		}
	}
	return g, nil
}

func (r *GroupsReconciler) syncGroupUpsert(ctx context.Context, groupName string, membership Membership) []result.Record {
	group, failRec := r.ensureGroup(ctx, groupName)
	if failRec != nil {
		return []result.Record{*failRec}
	}

	inGroup := make(map[string]bool, len(group.Users))
	for _, u := range group.Users {
		inGroup[u.ID] = true
	}

	var recs []result.Record
	for email := range membership {
		nativeID, ok := r.lookupNativeID(ctx, email)
		if !ok {
			recs = append(recs, result.Record{
				Service: serviceProvider, TargetResourceName: groupName,
				SubjectIdentifier: email, Status: result.StatusSkipped,
				ActionTag: result.SkippedUserNotIn(serviceProvider),
			})
			continue
		}
		if inGroup[nativeID] {
			recs = append(recs, result.Record{
				Service: serviceProvider, TargetResourceName: groupName,
				SubjectIdentifier: email, Status: result.StatusSuccess,
				ActionTag: result.TagUserAlreadyInGroup,
			})
			continue
		}
		if err := r.Provider.AddUserToGroup(ctx, group.ID, nativeID); err != nil {
			recs = append(recs, result.Record{
				Service: serviceProvider, TargetResourceName: groupName,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("ADD_TO_GROUP"), ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceProvider, TargetResourceName: groupName,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.TagUserAddedToGroup,
		})
	}
	return recs
}

func (r *GroupsReconciler) diffGroup(ctx context.Context, group capability.ProviderGroup, target Membership, _ DifferentialInput) []result.Record {
	recs := r.syncGroupUpsert(ctx, group.Name, target)

	for _, u := range group.Users {
		email := identity.Canonical(u.Email)
		if _, wanted := target[email]; wanted {
			continue
		}
		if r.Excl.Contains(u.Username) {
			continue
		}
		if err := r.Provider.RemoveUserFromGroup(ctx, group.ID, u.ID); err != nil {
			recs = append(recs, result.Record{
				Service: serviceProvider, TargetResourceName: group.Name,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.Failed("REMOVE_FROM_GROUP"), ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceProvider, TargetResourceName: group.Name,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.TagUserRemovedFromGroup,
		})
	}
	return recs
}

// lookupNativeID resolves email through the provider's email index.
// UpsertSync fans out one goroutine per entity against the same
// *GroupsReconciler (orchestrator.go), so the index is built exactly
// once via resolverOnce and every concurrent caller reads the same
// fully-populated, never-mutated Resolver afterward.
func (r *GroupsReconciler) lookupNativeID(ctx context.Context, email string) (string, bool) {
	r.resolverOnce.Do(func() {
		byEmail, err := r.Provider.ListAllUsers(ctx)
		if err != nil {
			byEmail = map[string]string{}
		}
		res := identity.NewResolver()
		res.IndexNativeIDs(serviceProvider, byEmail)
		r.resolver = res
	})
	return r.resolver.NativeID(serviceProvider, email)
}
