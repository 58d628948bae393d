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

// Package exclude guards the configured set of usernames the engine
// must never add, update, or remove in any downstream service.
package exclude

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Set is an immutable, loaded-once set of excluded usernames.
type Set struct {
	usernames map[string]struct{}
}

// Load reads a newline-delimited UTF-8 file of usernames. Blank lines
// are trimmed and ignored.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading excluded-users file %s: %w", path, err)
	}
	defer f.Close()

	s := &Set{usernames: make(map[string]struct{})}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.usernames[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading excluded-users file %s: %w", path, err)
	}
	return s, nil
}

// Empty returns a Set excluding nobody, for callers that have no
// exclusion file configured.
func Empty() *Set {
	return &Set{usernames: make(map[string]struct{})}
}

// Contains reports whether username must never be added, updated, or
// removed by the engine. Matching is exact (the exclusion file stores
// the same username casing the services themselves use).
func (s *Set) Contains(username string) bool {
	if s == nil {
		return false
	}
	_, ok := s.usernames[username]
	return ok
}
