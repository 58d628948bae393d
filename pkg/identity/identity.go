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

// Package identity maps a chat-platform user, by case-folded email,
// to each downstream service's native user identifier. Email is the
// one join key every service is expected to share.
package identity

import "strings"

// ChatUser is the chat-platform's view of a member: what the
// Authoritative Membership Set is built from.
type ChatUser struct {
	ChatUserID string
	Username   string
	Email      string
}

// Canonical lower-cases and trims an email so it can be used as a join
// key across services.
func Canonical(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolver holds the two logically distinct identity mappings a run
// needs: the chat platform's own membership records, and each
// service's email-to-native-id index, built once per reconciler per
// run and read-only thereafter.
type Resolver struct {
	chatByEmail     map[string]ChatUser
	nativeByService map[string]map[string]string // service -> email -> native id
}

// NewResolver returns an empty Resolver ready for population.
func NewResolver() *Resolver {
	return &Resolver{
		chatByEmail:     make(map[string]ChatUser),
		nativeByService: make(map[string]map[string]string),
	}
}

// AddChatUser registers a chat-platform member under its canonical
// email. An empty email is the caller's signal to skip the user
// entirely (see Authoritative Membership Set invariants); AddChatUser
// does not itself special-case it.
func (r *Resolver) AddChatUser(u ChatUser) {
	r.chatByEmail[Canonical(u.Email)] = u
}

// ChatUser looks up a previously registered chat-platform member.
func (r *Resolver) ChatUser(email string) (ChatUser, bool) {
	u, ok := r.chatByEmail[Canonical(email)]
	return u, ok
}

// IndexNativeIDs loads a service's full email->native-id map in one
// batch, the "queried lazily or batched at orchestration start" mode
// spec.md calls for.
func (r *Resolver) IndexNativeIDs(service string, byEmail map[string]string) {
	idx := make(map[string]string, len(byEmail))
	for email, id := range byEmail {
		idx[Canonical(email)] = id
	}
	r.nativeByService[service] = idx
}

// NativeID resolves an email to a service's native user id. ok is
// false when the chat-platform user has no counterpart in that
// service — the caller is expected to emit a
// SKIPPED_USER_NOT_IN_<SERVICE> record, never treat this as fatal.
func (r *Resolver) NativeID(service, email string) (id string, ok bool) {
	idx, has := r.nativeByService[service]
	if !has {
		return "", false
	}
	id, ok = idx[Canonical(email)]
	return id, ok
}
