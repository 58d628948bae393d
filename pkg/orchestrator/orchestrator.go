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

// Package orchestrator drives entity discovery and fans reconciliation
// out across the configured reconcilers, grounded on the original
// implementation's group_sync_services.py.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/reconcile"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

// Mode selects how orchestrate discovers entities.
type Mode string

const (
	// ModeWithProvider discovers entities by enumerating identity-provider
	// groups and reverse-matching names, admin pattern first.
	ModeWithProvider Mode = "WITH_PROVIDER"
	// ModeChatToTools discovers entities by enumerating chat-platform
	// channels and reverse-matching display names, then slugs.
	ModeChatToTools Mode = "CHAT_TO_TOOLS"
)

const defaultConcurrency = 4

// Orchestrator owns the entity discovery and fan-out that every
// reconciler run shares. It holds no mutable state across runs beyond
// what its fields point to: the matrix and exclusion set are read-only
// after init (spec.md §5).
type Orchestrator struct {
	Chat        capability.ChatPlatform
	Provider    capability.IdentityProvider // discovery source for ModeWithProvider
	Matrix      *matrix.Matrix
	Excl        *exclude.Set
	Reconcilers []reconcile.Reconciler

	// Concurrency bounds the number of entities (Orchestrate) or
	// reconcilers (DifferentialSync) run at once. Zero means
	// defaultConcurrency.
	Concurrency int
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultConcurrency
}

// Orchestrate runs upsert_sync for every configured, non-skipped
// reconciler against every entity discovered per mode. skipServices is
// keyed by lower-case service name: each reconciler's Service() is
// lower-cased before the lookup, the keys themselves are used as given.
func (o *Orchestrator) Orchestrate(ctx context.Context, teamID string, mode Mode, skipServices map[string]bool) (bool, []result.Record) {
	if o.Chat == nil || teamID == "" {
		return false, nil
	}

	channels, err := o.Chat.ListChannelsForTeam(ctx, teamID)
	if err != nil {
		return false, nil
	}

	var entities map[reconcile.EntityKey]bool
	switch mode {
	case ModeWithProvider:
		entities, err = o.discoverFromProviderGroups(ctx)
		if err != nil {
			return false, nil
		}
	case ModeChatToTools:
		entities = discoverFromChannels(channels, o.Matrix)
	default:
		return false, nil
	}
	if len(entities) == 0 {
		return true, nil
	}

	collector := result.NewCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for key := range entities {
		key := key
		g.Go(func() error {
			membership, skipped, err := o.membershipForEntity(gctx, channels, key.Kind, key.BaseName)
			if err != nil {
				collector.Append(result.Record{
					Service: "ORCHESTRATOR", TargetResourceName: key.BaseName,
					Status: result.StatusFailure, ActionTag: result.Failed("BUILD_MEMBERSHIP"),
					ErrorMessage: err.Error(),
				})
				return nil
			}
			collector.AppendAll(skipped)
			for _, r := range o.Reconcilers {
				if skipServices[strings.ToLower(r.Service())] {
					continue
				}
				collector.AppendAll(safeUpsert(gctx, r, key.Kind, key.BaseName, membership))
			}
			return nil
		})
	}
	_ = g.Wait() // per-entity goroutines never return a non-nil error; failures become Result Records

	return true, collector.Snapshot()
}

// DifferentialSync pre-fetches every chat-platform channel's members
// that maps to a known entity, builds one authoritative set per
// entity, and runs differential_sync on every configured, non-skipped
// reconciler.
func (o *Orchestrator) DifferentialSync(ctx context.Context, teamID string, skipServices map[string]bool) (bool, []result.Record) {
	if o.Chat == nil || teamID == "" {
		return false, nil
	}

	channels, err := o.Chat.ListChannelsForTeam(ctx, teamID)
	if err != nil {
		return false, nil
	}

	type rosterPair struct {
		standard []capability.ChatUser
		admin    []capability.ChatUser
	}
	rostersByEntity := make(map[reconcile.EntityKey]*rosterPair)
	var allRosters [][]capability.ChatUser

	for _, c := range channels {
		match, ok := o.Matrix.MatchChannel(c.DisplayName, c.Slug)
		if !ok {
			continue
		}
		users, err := o.Chat.ListChannelMembers(ctx, c.ID)
		if err != nil {
			continue
		}
		allRosters = append(allRosters, users)

		key := reconcile.EntityKey{Kind: match.Kind, BaseName: match.BaseName}
		rp, ok := rostersByEntity[key]
		if !ok {
			rp = &rosterPair{}
			rostersByEntity[key] = rp
		}
		if match.IsAdmin {
			rp.admin = append(rp.admin, users...)
		} else {
			rp.standard = append(rp.standard, users...)
		}
	}

	byEntity := make(reconcile.ByEntity, len(rostersByEntity))
	collector := result.NewCollector()
	for key, rp := range rostersByEntity {
		membership, skipped := reconcile.BuildMembership(rp.standard, rp.admin, o.Excl)
		byEntity[key] = membership
		collector.AppendAll(skipped)
	}

	input := reconcile.DifferentialInput{
		ByEntity:  byEntity,
		Usernames: reconcile.IndexUsernames(allRosters...),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())
	for _, r := range o.Reconcilers {
		r := r
		if skipServices[strings.ToLower(r.Service())] {
			continue
		}
		g.Go(func() error {
			collector.AppendAll(safeDifferential(gctx, r, input))
			return nil
		})
	}
	_ = g.Wait()

	return true, collector.Snapshot()
}

// safeUpsert isolates one reconciler's upsert_sync so a panic in one
// service never takes down the others' fan-out (spec.md §4.5: "a
// reconciler raising an unexpected exception appends a FAILURE Result
// and the orchestrator continues with remaining reconcilers").
func safeUpsert(ctx context.Context, r reconcile.Reconciler, kind, baseName string, membership reconcile.Membership) (recs []result.Record) {
	defer func() {
		if p := recover(); p != nil {
			recs = []result.Record{{
				Service: r.Service(), TargetResourceName: baseName,
				Status: result.StatusFailure, ActionTag: result.TagUnexpectedError,
				ErrorMessage: fmt.Sprintf("panic: %v", p),
			}}
		}
	}()
	return r.UpsertSync(ctx, kind, baseName, membership)
}

func safeDifferential(ctx context.Context, r reconcile.Reconciler, input reconcile.DifferentialInput) (recs []result.Record) {
	defer func() {
		if p := recover(); p != nil {
			recs = []result.Record{{
				Service: r.Service(), Status: result.StatusFailure,
				ActionTag: result.TagUnexpectedError, ErrorMessage: fmt.Sprintf("panic: %v", p),
			}}
		}
	}()
	return r.DifferentialSync(ctx, input)
}

// discoverFromChannels implements ModeChatToTools discovery.
func discoverFromChannels(channels []capability.ChatChannel, m *matrix.Matrix) map[reconcile.EntityKey]bool {
	found := make(map[reconcile.EntityKey]bool)
	for _, c := range channels {
		match, ok := m.MatchChannel(c.DisplayName, c.Slug)
		if !ok {
			continue
		}
		found[reconcile.EntityKey{Kind: match.Kind, BaseName: match.BaseName}] = true
	}
	return found
}

// discoverFromProviderGroups implements ModeWithProvider discovery.
func (o *Orchestrator) discoverFromProviderGroups(ctx context.Context) (map[reconcile.EntityKey]bool, error) {
	if o.Provider == nil {
		return nil, fmt.Errorf("identity provider not configured for %s discovery", ModeWithProvider)
	}
	groups, err := o.Provider.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider groups: %w", err)
	}
	found := make(map[reconcile.EntityKey]bool)
	for _, g := range groups {
		match, ok := o.Matrix.MatchProviderGroup(g.Name)
		if !ok {
			continue
		}
		found[reconcile.EntityKey{Kind: match.Kind, BaseName: match.BaseName}] = true
	}
	return found, nil
}

// membershipForEntity renders the standard and (if configured) admin
// channel names for one entity, resolves them against the prefetched
// channel list, and builds the Authoritative Membership Set.
func (o *Orchestrator) membershipForEntity(ctx context.Context, channels []capability.ChatChannel, kind, baseName string) (reconcile.Membership, []result.Record, error) {
	cfg, ok := o.Matrix.Get(kind)
	if !ok {
		return nil, nil, fmt.Errorf("unknown entity kind %q", kind)
	}

	var combinedErr error

	standardName := pattern.Render(cfg.Standard.ChannelNamePattern, baseName)
	var standardUsers []capability.ChatUser
	if ch, ok := findChannel(channels, standardName); ok {
		users, err := o.Chat.ListChannelMembers(ctx, ch.ID)
		if err != nil {
			combinedErr = multierr.Append(combinedErr, fmt.Errorf("list members of %q: %w", standardName, err))
		} else {
			standardUsers = users
		}
	}

	var adminUsers []capability.ChatUser
	if cfg.Admin != nil {
		adminName := pattern.Render(cfg.Admin.ChannelNamePattern, baseName)
		if ch, ok := findChannel(channels, adminName); ok {
			users, err := o.Chat.ListChannelMembers(ctx, ch.ID)
			if err != nil {
				combinedErr = multierr.Append(combinedErr, fmt.Errorf("list members of %q: %w", adminName, err))
			} else {
				adminUsers = users
			}
		}
	}

	if combinedErr != nil {
		return nil, nil, combinedErr
	}

	membership, skipped := reconcile.BuildMembership(standardUsers, adminUsers, o.Excl)
	return membership, skipped, nil
}

// findChannel resolves a rendered channel name against the prefetched
// channel list by display name, falling back to the first channel
// whose slug equals the slugification of name.
func findChannel(channels []capability.ChatChannel, name string) (capability.ChatChannel, bool) {
	slug := pattern.Slugify(name)
	for _, c := range channels {
		if c.DisplayName == name {
			return c, true
		}
	}
	for _, c := range channels {
		if c.Slug == slug {
			return c, true
		}
	}
	return capability.ChatChannel{}, false
}
