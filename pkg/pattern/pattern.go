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

// Package pattern implements bidirectional mapping between entity
// (kind, base_name) tuples and concrete resource names via {base_name}
// templates.
package pattern

import (
	"strings"

	"github.com/ettle/strcase"
)

// Placeholder is the literal substring every name pattern substitutes
// base_name into, exactly zero or one time.
const Placeholder = "{base_name}"

// Render performs literal substitution of the placeholder in pattern
// with baseName. A pattern with no placeholder renders to itself,
// unchanged, regardless of baseName — this is how a matrix entry
// specifies a fixed (non-templated) resource name.
func Render(pattern, baseName string) string {
	return strings.Replace(pattern, Placeholder, baseName, 1)
}

// Extract recovers base_name from an observed resource name given the
// pattern it should have been rendered from. It reports ok=false when
// actualName could not have come from pattern.
//
// A pattern containing no placeholder matches only when actualName
// equals the pattern exactly, extracting an empty base name.
func Extract(actualName, pattern string) (baseName string, ok bool) {
	idx := strings.Index(pattern, Placeholder)
	if idx < 0 {
		if actualName == pattern {
			return "", true
		}
		return "", false
	}

	prefix := pattern[:idx]
	suffix := pattern[idx+len(Placeholder):]

	if !strings.HasPrefix(actualName, prefix) || !strings.HasSuffix(actualName, suffix) {
		return "", false
	}
	if len(actualName) < len(prefix)+len(suffix) {
		return "", false
	}
	return actualName[len(prefix) : len(actualName)-len(suffix)], true
}

// Slugify normalizes a display name into a URL-safe channel slug: kebab
// case, truncated to the chat platform's channel-name limit, with a
// fallback for a result that ends up empty.
func Slugify(s string) string {
	slug := strcase.ToKebab(s)
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return defaultSlug
	}
	return slug
}

const (
	maxSlugLength = 64
	defaultSlug   = "default-channel-name"
)

// IsSlugOf reports whether slug is exactly the slugification of
// displayName, the rule §4.1 uses to decide a channel's slug is "clearly
// the pattern output" and thus eligible as a fallback match target.
func IsSlugOf(slug, displayName string) bool {
	return slug == Slugify(displayName)
}
