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

// Package reconcile implements the per-service reconciliation
// algorithms that converge one downstream service's membership to an
// entity's authoritative membership set. No reconciler inherits from
// another; shared behavior lives in free functions in this file.
package reconcile

import (
	"context"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/identity"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

// EntityKey identifies one (kind, base_name) entity.
type EntityKey struct {
	Kind     string
	BaseName string
}

// ByEntity is the prefetched, per-entity Authoritative Membership Set
// the orchestrator builds once in differential mode by matching every
// chat-platform channel to an entity and grouping standard/admin
// rosters together (spec.md §4.5: "pre-fetches chat-platform members
// for every channel... so reconcilers do not re-query the chat
// platform per entity").
type ByEntity map[EntityKey]Membership

// UsernameIndex maps every chat-platform member's canonical email to
// their username, built from the unfiltered roster of every matched
// channel (including excluded users, who are dropped from Membership
// itself but whose username a reconciler must still recover to honor
// exclusion-monotonicity during a removal pass — spec.md §4.3: an
// excluded user who already holds access must be preserved, which
// requires knowing their username even though they never appear in
// any Membership).
type UsernameIndex map[string]string

// DifferentialInput bundles what a reconciler's DifferentialSync needs
// beyond the raw resource enumeration it does itself: the prefetched
// per-entity authoritative sets and the username index for exclusion
// checks against resource members the downstream service only knows by
// email or native id.
type DifferentialInput struct {
	ByEntity  ByEntity
	Usernames UsernameIndex
}

// Excluded reports whether the member at email must be preserved
// during a removal pass, per spec.md §4.3's monotonicity rule.
func (d DifferentialInput) Excluded(excl *exclude.Set, email string) bool {
	username, ok := d.Usernames[identity.Canonical(email)]
	if !ok {
		return false
	}
	return excl.Contains(username)
}

// Member is one entry of an entity's Authoritative Membership Set.
type Member struct {
	Username             string
	ChatUserID           string
	IsAdminChannelMember bool
}

// Membership is the per-entity Authoritative Membership Set: a mapping
// from canonical (lowercase) email to the chat-platform facts about
// that member.
type Membership map[string]Member

// BuildMembership assembles the Authoritative Membership Set for one
// entity from its standard and (optional) admin channel rosters,
// applying the invariants in spec.md §3: empty-email members are
// dropped (with a SKIPPED_NO_EMAIL record), a member present in the
// admin roster always has IsAdminChannelMember=true even if they also
// appear in the standard roster, excluded usernames never appear in
// the set, and the admin roster is implicitly merged into the standard
// set so admin members are never missing from the superset (spec.md
// §4.4.1: "standard is always a superset").
func BuildMembership(standard, admin []capability.ChatUser, excl *exclude.Set) (Membership, []result.Record) {
	m := make(Membership)
	var skipped []result.Record

	add := func(u capability.ChatUser, isAdmin bool) {
		if u.Email == "" {
			skipped = append(skipped, result.Record{
				SubjectIdentifier: u.Username,
				Status:            result.StatusSkipped,
				ActionTag:         result.TagSkippedNoEmail,
			})
			return
		}
		if excl.Contains(u.Username) {
			return
		}
		email := identity.Canonical(u.Email)
		existing, ok := m[email]
		if ok && existing.IsAdminChannelMember {
			isAdmin = true
		}
		m[email] = Member{
			Username:             u.Username,
			ChatUserID:           u.UserID,
			IsAdminChannelMember: isAdmin,
		}
	}

	for _, u := range standard {
		add(u, false)
	}
	for _, u := range admin {
		add(u, true)
	}
	return m, skipped
}

// IndexUsernames builds the UsernameIndex from the unfiltered rosters
// of every matched channel, so excluded users (who never appear in any
// Membership) can still be recognized by username during removal.
func IndexUsernames(rosters ...[]capability.ChatUser) UsernameIndex {
	idx := make(UsernameIndex)
	for _, roster := range rosters {
		for _, u := range roster {
			if u.Email == "" {
				continue
			}
			idx[identity.Canonical(u.Email)] = u.Username
		}
	}
	return idx
}

// DMDecision is the outcome of an attempted post-add notification.
type DMDecision struct {
	Outcome result.DMOutcome
	Err     error
}

// SendDMWithSuffix attempts a direct message announcing newly-granted
// access to resourceURL and reports the outcome as a DM-suffix, per
// spec.md §4.4.2 step 4 / §4.4.4 step 3: failure of the DM never
// invalidates the underlying add.
func SendDMWithSuffix(ctx context.Context, chat capability.ChatPlatform, chatUserID, message, resourceURL string) DMDecision {
	if chat == nil {
		return DMDecision{Outcome: result.DMSkippedUnknownReason}
	}
	if resourceURL == "" {
		return DMDecision{Outcome: result.DMSkippedNoURL}
	}
	if err := chat.SendDirectMessage(ctx, chatUserID, message); err != nil {
		return DMDecision{Outcome: result.DMFailed, Err: err}
	}
	return DMDecision{Outcome: result.DMSent}
}

// Reconciler is the common per-service contract: add-only upsert and
// full differential reconciliation with removals. A registry of
// configured Reconcilers is what the orchestrator iterates — there is
// no shared base type, only this interface (spec.md §9).
type Reconciler interface {
	// Service names this reconciler for Result Record / skip-services
	// purposes (e.g. "PROVIDER", "OUTLINE", "BREVO", "NOCODB", "VAULTWARDEN";
	// the orchestrator lower-cases it when matching skip-services).
	Service() string

	// UpsertSync adds missing users and updates divergent permissions
	// for one entity. Never removes. Idempotent.
	UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record

	// DifferentialSync enumerates every resource this service owns that
	// maps to a known entity kind (via the permissions matrix),
	// looks up each one's authoritative membership in input.ByEntity,
	// and adds/updates/removes to converge — including removing
	// members absent from the authoritative set and not excluded.
	DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record
}
