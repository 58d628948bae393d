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

package matrix

import "github.com/dataforgoodfr/accessync/pkg/pattern"

// Match is what MatchChannel and the other Match* methods return: the
// entity a concrete name resolved to.
type Match struct {
	Kind     string
	BaseName string
	IsAdmin  bool
	Config   KindConfig
}

// MatchChannel resolves a chat-platform channel to the entity it
// belongs to, trying the display name against every kind's admin
// pattern before any kind's standard pattern (admin patterns are more
// specific and must be tried first to disambiguate overlapping
// patterns — see the Name Pattern Resolver's admin-first rule). Only
// if no pattern matches the display name does it fall back to the
// channel's slug, and then only when the slug is its own slugification
// (pattern.IsSlugOf), i.e. the rendered name it matches is itself a
// valid slug.
func (m *Matrix) MatchChannel(displayName, slug string) (Match, bool) {
	if match, ok := m.matchAdminFirst(displayName, func(cfg KindConfig) (string, bool) {
		if cfg.Admin == nil {
			return "", false
		}
		return cfg.Admin.ChannelNamePattern, true
	}, func(cfg KindConfig) (string, bool) {
		return cfg.Standard.ChannelNamePattern, true
	}); ok {
		return match, true
	}

	// Slug fallback: only patterns whose rendering is itself a slug are
	// eligible, since an arbitrary display-name pattern need not survive
	// slugification losslessly. A pattern that extracts from slug renders
	// back to slug, so the check is that slug is its own slugification.
	if !pattern.IsSlugOf(slug, slug) {
		return Match{}, false
	}
	return m.matchAdminFirst(slug, func(cfg KindConfig) (string, bool) {
		if cfg.Admin == nil {
			return "", false
		}
		return cfg.Admin.ChannelNamePattern, true
	}, func(cfg KindConfig) (string, bool) {
		return cfg.Standard.ChannelNamePattern, true
	})
}

// MatchProviderGroup resolves an identity-provider group name to the
// entity it belongs to, admin pattern first.
func (m *Matrix) MatchProviderGroup(name string) (Match, bool) {
	return m.matchAdminFirst(name, func(cfg KindConfig) (string, bool) {
		if cfg.Admin == nil {
			return "", false
		}
		return cfg.Admin.ProviderGroupPattern, true
	}, func(cfg KindConfig) (string, bool) {
		return cfg.Standard.ProviderGroupPattern, true
	})
}

// MatchOutlineCollection resolves a documentation collection name.
func (m *Matrix) MatchOutlineCollection(name string) (Match, bool) {
	return m.matchSingle(name, func(cfg KindConfig) (string, bool) {
		if cfg.Outline == nil {
			return "", false
		}
		return cfg.Outline.CollectionNamePattern, true
	})
}

// MatchBrevoList resolves a contact list name.
func (m *Matrix) MatchBrevoList(name string) (Match, bool) {
	return m.matchSingle(name, func(cfg KindConfig) (string, bool) {
		if cfg.Brevo == nil {
			return "", false
		}
		return cfg.Brevo.ListNamePattern, true
	})
}

// MatchNocoDBBase resolves a database base title.
func (m *Matrix) MatchNocoDBBase(name string) (Match, bool) {
	return m.matchSingle(name, func(cfg KindConfig) (string, bool) {
		if cfg.NocoDB == nil {
			return "", false
		}
		return cfg.NocoDB.BaseTitlePattern, true
	})
}

// MatchVaultwardenCollection resolves a password-store collection name.
func (m *Matrix) MatchVaultwardenCollection(name string) (Match, bool) {
	return m.matchSingle(name, func(cfg KindConfig) (string, bool) {
		if cfg.Vaultwarden == nil {
			return "", false
		}
		return cfg.Vaultwarden.CollectionNamePattern, true
	})
}

// matchAdminFirst tries adminPatternOf against every kind (in matrix
// order) before trying standardPatternOf against any kind, so an admin
// pattern that could also be read as a standard pattern's output is
// always attributed to the admin side.
func (m *Matrix) matchAdminFirst(name string, adminPatternOf, standardPatternOf func(KindConfig) (string, bool)) (Match, bool) {
	var found Match
	var ok bool
	m.Each(func(kind string, cfg KindConfig) bool {
		p, has := adminPatternOf(cfg)
		if !has {
			return true
		}
		if baseName, match := pattern.Extract(name, p); match {
			found = Match{Kind: kind, BaseName: baseName, IsAdmin: true, Config: cfg}
			ok = true
			return false
		}
		return true
	})
	if ok {
		return found, true
	}

	m.Each(func(kind string, cfg KindConfig) bool {
		p, has := standardPatternOf(cfg)
		if !has {
			return true
		}
		if baseName, match := pattern.Extract(name, p); match {
			found = Match{Kind: kind, BaseName: baseName, IsAdmin: false, Config: cfg}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// matchSingle resolves a name against one pattern field per kind (no
// admin/standard split), still iterating in matrix order for
// determinism.
func (m *Matrix) matchSingle(name string, patternOf func(KindConfig) (string, bool)) (Match, bool) {
	var found Match
	var ok bool
	m.Each(func(kind string, cfg KindConfig) bool {
		p, has := patternOf(cfg)
		if !has {
			return true
		}
		if baseName, match := pattern.Extract(name, p); match {
			found = Match{Kind: kind, BaseName: baseName, Config: cfg}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}
