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

// Package matrix loads and validates the permissions matrix: the
// read-only-after-init configuration mapping each entity kind to the
// downstream resources that exist for it and their name patterns.
package matrix

import (
	"fmt"
	"os"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
	"gopkg.in/yaml.v3"

	"github.com/dataforgoodfr/accessync/pkg/pattern"
)

// ChannelBlock describes a chat-platform channel and the identity
// provider group paired with it.
type ChannelBlock struct {
	ChannelNamePattern   string `yaml:"channel_name_pattern"`
	ChannelType          string `yaml:"channel_type"`
	ProviderGroupPattern string `yaml:"provider_group_pattern"`
}

// OutlineBlock configures the Documentation Collections reconciler.
type OutlineBlock struct {
	CollectionNamePattern string `yaml:"collection_name_pattern"`
	DefaultAccess         string `yaml:"default_access"`
	AdminAccess           string `yaml:"admin_access"`
}

// BrevoBlock configures the Email Contact Lists reconciler.
type BrevoBlock struct {
	ListNamePattern string `yaml:"list_name_pattern"`
	FolderName      string `yaml:"folder_name,omitempty"`
}

// NocoDBBlock configures the Database Bases reconciler. A kind with no
// NocoDBBlock is never reconciled against the database service — this
// is the matrix-driven generalization of the original implementation's
// hard-coded entity-kind allow-list (see DESIGN.md).
type NocoDBBlock struct {
	BaseTitlePattern string `yaml:"base_title_pattern"`
	DefaultAccess    string `yaml:"default_access"`
	AdminAccess      string `yaml:"admin_access"`
}

// VaultwardenBlock configures the Password Collections reconciler.
type VaultwardenBlock struct {
	CollectionNamePattern string `yaml:"collection_name_pattern"`
}

// KindConfig is one entity kind's full configuration block.
type KindConfig struct {
	Standard    ChannelBlock      `yaml:"standard"`
	Admin       *ChannelBlock     `yaml:"admin,omitempty"`
	Outline     *OutlineBlock     `yaml:"outline,omitempty"`
	Brevo       *BrevoBlock       `yaml:"brevo,omitempty"`
	NocoDB      *NocoDBBlock      `yaml:"nocodb,omitempty"`
	Vaultwarden *VaultwardenBlock `yaml:"vaultwarden,omitempty"`
}

// Matrix is the loaded permissions matrix. Kinds preserves the order
// kinds appeared in the YAML document, since the Name Pattern Resolver
// iterates kinds in matrix order.
type Matrix struct {
	Kinds *orderedmap.OrderedMap[string, KindConfig]
}

type document struct {
	Permissions yaml.Node `yaml:"permissions"`
}

// Load reads and validates a permissions matrix file.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading permissions matrix %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing permissions matrix %s: %w", path, err)
	}
	if doc.Permissions.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("permissions matrix %s: missing or malformed top-level 'permissions' mapping", path)
	}

	kinds := orderedmap.NewOrderedMap[string, KindConfig]()
	content := doc.Permissions.Content
	for i := 0; i+1 < len(content); i += 2 {
		kindName := content[i].Value
		var kc KindConfig
		if err := content[i+1].Decode(&kc); err != nil {
			return nil, fmt.Errorf("permissions matrix %s: kind %q: %w", path, kindName, err)
		}
		if err := kc.validate(); err != nil {
			return nil, fmt.Errorf("permissions matrix %s: kind %q: %w", path, kindName, err)
		}
		kinds.Set(kindName, kc)
	}

	if kinds.Len() == 0 {
		return nil, fmt.Errorf("permissions matrix %s: no entity kinds configured", path)
	}
	return &Matrix{Kinds: kinds}, nil
}

func (k KindConfig) validate() error {
	patterns := []string{k.Standard.ChannelNamePattern, k.Standard.ProviderGroupPattern}
	if k.Admin != nil {
		patterns = append(patterns, k.Admin.ChannelNamePattern, k.Admin.ProviderGroupPattern)
	}
	if k.Outline != nil {
		patterns = append(patterns, k.Outline.CollectionNamePattern)
	}
	if k.Brevo != nil {
		patterns = append(patterns, k.Brevo.ListNamePattern)
	}
	if k.NocoDB != nil {
		patterns = append(patterns, k.NocoDB.BaseTitlePattern)
	}
	if k.Vaultwarden != nil {
		patterns = append(patterns, k.Vaultwarden.CollectionNamePattern)
	}
	if k.Standard.ChannelNamePattern == "" {
		return fmt.Errorf("standard.channel_name_pattern is required")
	}
	for _, p := range patterns {
		if strings.Count(p, pattern.Placeholder) > 1 {
			return fmt.Errorf("pattern %q contains %s more than once", p, pattern.Placeholder)
		}
	}
	return nil
}

// Get returns the configuration for kind, if any.
func (m *Matrix) Get(kind string) (KindConfig, bool) {
	return m.Kinds.Get(kind)
}

// Each iterates kinds in matrix declaration order, the order the Name
// Pattern Resolver must preserve to make admin-first disambiguation
// deterministic.
func (m *Matrix) Each(fn func(kind string, cfg KindConfig) bool) {
	for el := m.Kinds.Front(); el != nil; el = el.Next() {
		if !fn(el.Key, el.Value) {
			return
		}
	}
}
