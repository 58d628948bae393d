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

// Package fake provides in-memory capability implementations for
// reconciler and orchestrator tests, the Go analogue of the original
// Python test suite's mock service clients.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dataforgoodfr/accessync/pkg/capability"
)

// ChatPlatform is an in-memory capability.ChatPlatform.
type ChatPlatform struct {
	mu       sync.Mutex
	Channels []capability.ChatChannel
	Members  map[string][]capability.ChatUser // channel id -> members
	DMs      []DirectMessage
	Bot      string
	FailDM   bool
}

// DirectMessage records one SendDirectMessage invocation.
type DirectMessage struct {
	UserID  string
	Message string
}

func NewChatPlatform() *ChatPlatform {
	return &ChatPlatform{Members: make(map[string][]capability.ChatUser)}
}

func (f *ChatPlatform) ListChannelsForTeam(_ context.Context, _ string) ([]capability.ChatChannel, error) {
	return f.Channels, nil
}

func (f *ChatPlatform) ListChannelMembers(_ context.Context, channelID string) ([]capability.ChatUser, error) {
	return f.Members[channelID], nil
}

func (f *ChatPlatform) SendDirectMessage(_ context.Context, userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDM {
		return fmt.Errorf("dm delivery failed")
	}
	f.DMs = append(f.DMs, DirectMessage{UserID: userID, Message: message})
	return nil
}

func (f *ChatPlatform) BotUserID(_ context.Context) (string, error) {
	return f.Bot, nil
}

// IdentityProvider is an in-memory capability.IdentityProvider.
type IdentityProvider struct {
	mu           sync.Mutex
	Groups       map[string]*capability.ProviderGroup // by name
	UsersByEmail map[string]string                     // lowercase email -> native id
	FailCreate   bool
}

func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{
		Groups:       make(map[string]*capability.ProviderGroup),
		UsersByEmail: make(map[string]string),
	}
}

func (f *IdentityProvider) ListGroups(_ context.Context) ([]capability.ProviderGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capability.ProviderGroup, 0, len(f.Groups))
	for _, g := range f.Groups {
		out = append(out, *g)
	}
	return out, nil
}

func (f *IdentityProvider) ListAllUsers(_ context.Context) (map[string]string, error) {
	return f.UsersByEmail, nil
}

func (f *IdentityProvider) CreateGroup(_ context.Context, name string) (capability.ProviderGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return capability.ProviderGroup{}, fmt.Errorf("group creation disabled")
	}
	g := &capability.ProviderGroup{ID: name, Name: name}
	f.Groups[name] = g
	return *g, nil
}

func (f *IdentityProvider) AddUserToGroup(_ context.Context, groupID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Groups[groupID]
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	for _, u := range g.Users {
		if u.ID == userID {
			return nil
		}
	}
	g.Users = append(g.Users, capability.ProviderUser{ID: userID})
	return nil
}

func (f *IdentityProvider) RemoveUserFromGroup(_ context.Context, groupID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Groups[groupID]
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	kept := g.Users[:0]
	for _, u := range g.Users {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	g.Users = kept
	return nil
}

// Documentation is an in-memory capability.Documentation.
type Documentation struct {
	mu           sync.Mutex
	Collections  map[string]*capability.DocCollection // by name
	Members      map[string][]capability.DocMember    // collection id -> members
	UsersByEmail map[string]string                    // lowercase email -> native id
	IDToEmail    map[string]string                    // native id -> lowercase email
	Permissions  map[string]map[string]string         // collection id -> user id -> permission
	FailCreate   bool
}

func NewDocumentation() *Documentation {
	return &Documentation{
		Collections:  make(map[string]*capability.DocCollection),
		Members:      make(map[string][]capability.DocMember),
		UsersByEmail: make(map[string]string),
		IDToEmail:    make(map[string]string),
		Permissions:  make(map[string]map[string]string),
	}
}

func (f *Documentation) ListCollections(_ context.Context) ([]capability.DocCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capability.DocCollection, 0, len(f.Collections))
	for _, c := range f.Collections {
		out = append(out, *c)
	}
	return out, nil
}

func (f *Documentation) CreateCollection(_ context.Context, name string) (capability.DocCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return capability.DocCollection{}, fmt.Errorf("collection creation disabled")
	}
	c := &capability.DocCollection{ID: name, Name: name, URL: "https://docs.example/" + name}
	f.Collections[name] = c
	return *c, nil
}

func (f *Documentation) ListCollectionMembers(_ context.Context, collectionID string) ([]capability.DocMember, error) {
	return f.Members[collectionID], nil
}

func (f *Documentation) GetUserByEmail(_ context.Context, email string) (string, bool, error) {
	id, ok := f.UsersByEmail[strings.ToLower(email)]
	return id, ok, nil
}

func (f *Documentation) AddUserToCollection(_ context.Context, collectionID, userID, permission string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Collections[collectionID]; !ok {
		return fmt.Errorf("collection %s not found", collectionID)
	}
	found := false
	for _, m := range f.Members[collectionID] {
		if m.ID == userID {
			found = true
			break
		}
	}
	if !found {
		f.Members[collectionID] = append(f.Members[collectionID], capability.DocMember{
			ID: userID, Email: f.IDToEmail[userID],
		})
	}
	if f.Permissions[collectionID] == nil {
		f.Permissions[collectionID] = make(map[string]string)
	}
	f.Permissions[collectionID][userID] = permission
	return nil
}

func (f *Documentation) RemoveUserFromCollection(_ context.Context, collectionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Collections[collectionID]; !ok {
		return fmt.Errorf("collection %s not found", collectionID)
	}
	kept := f.Members[collectionID][:0]
	for _, m := range f.Members[collectionID] {
		if m.ID != userID {
			kept = append(kept, m)
		}
	}
	f.Members[collectionID] = kept
	return nil
}

func (f *Documentation) CollectionURL(_ context.Context, collectionID string) (string, error) {
	c, ok := f.Collections[collectionID]
	if !ok {
		return "", fmt.Errorf("collection %s not found", collectionID)
	}
	return c.URL, nil
}

// EmailPlatform is an in-memory capability.EmailPlatform.
type EmailPlatform struct {
	mu         sync.Mutex
	Lists      map[string]string   // name -> id
	Contacts   map[string][]string // list id -> emails
	FailUpsert bool
}

func NewEmailPlatform() *EmailPlatform {
	return &EmailPlatform{Lists: make(map[string]string), Contacts: make(map[string][]string)}
}

func (f *EmailPlatform) FindListByName(_ context.Context, name string) (string, bool, error) {
	id, ok := f.Lists[name]
	return id, ok, nil
}

func (f *EmailPlatform) CreateList(_ context.Context, name, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists[name] = name
	return name, nil
}

func (f *EmailPlatform) UpsertContact(_ context.Context, email, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUpsert {
		return fmt.Errorf("upsert disabled")
	}
	for _, e := range f.Contacts[listID] {
		if e == email {
			return nil
		}
	}
	f.Contacts[listID] = append(f.Contacts[listID], email)
	return nil
}

// Database is an in-memory capability.Database.
type Database struct {
	mu    sync.Mutex
	Bases map[string]string                  // title -> id
	Users map[string][]capability.DBBaseUser // base id -> users
}

func NewDatabase() *Database {
	return &Database{Bases: make(map[string]string), Users: make(map[string][]capability.DBBaseUser)}
}

func (f *Database) ListBases(_ context.Context) ([]capability.DBBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bases := make([]capability.DBBase, 0, len(f.Bases))
	for title, id := range f.Bases {
		bases = append(bases, capability.DBBase{ID: id, Title: title})
	}
	return bases, nil
}

func (f *Database) FindBaseByTitle(_ context.Context, title string) (string, bool, error) {
	id, ok := f.Bases[title]
	return id, ok, nil
}

func (f *Database) ListBaseUsers(_ context.Context, baseID string) ([]capability.DBBaseUser, error) {
	return f.Users[baseID], nil
}

func (f *Database) InviteUser(_ context.Context, baseID, email, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[baseID] = append(f.Users[baseID], capability.DBBaseUser{Email: email, ID: email, Role: role})
	return nil
}

func (f *Database) UpdateUserRole(_ context.Context, baseID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.Users[baseID] {
		if u.ID == userID {
			f.Users[baseID][i].Role = role
			return nil
		}
	}
	return fmt.Errorf("user %s not found in base %s", userID, baseID)
}

// PasswordStore is an in-memory capability.PasswordStore.
type PasswordStore struct {
	mu           sync.Mutex
	Collections  map[string]*capability.VaultCollection // name -> collection
	InviteErr    error
	Unauthorized bool   // when true, InviteUser rejects any token except ValidToken with 401
	ValidToken   string
}

func NewPasswordStore() *PasswordStore {
	return &PasswordStore{Collections: make(map[string]*capability.VaultCollection)}
}

func (f *PasswordStore) ListCollections(_ context.Context, _ string) ([]capability.VaultCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capability.VaultCollection, 0, len(f.Collections))
	for _, c := range f.Collections {
		out = append(out, *c)
	}
	return out, nil
}

func (f *PasswordStore) ResolveCollectionByName(_ context.Context, _, name string) (string, string, bool, error) {
	c, ok := f.Collections[name]
	if !ok {
		return "", "", false, nil
	}
	return c.ID, c.OrgID, true, nil
}

// InviteUser returns *capability.InviteError with StatusCode 401 for
// every token other than f.ValidToken while f.Unauthorized is set, and
// otherwise returns f.InviteErr as is when it is non-nil (a test sets it
// to a 400 InviteError to simulate an idempotent-phrase body), so tests
// can exercise both the reconciler's idempotency detection and its
// token-refresh-and-retry path.
func (f *PasswordStore) InviteUser(_ context.Context, token, collectionID, _, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unauthorized && token != f.ValidToken {
		return &capability.InviteError{StatusCode: 401, Err: fmt.Errorf("unauthorized")}
	}
	if f.InviteErr != nil {
		return f.InviteErr
	}
	for _, c := range f.Collections {
		if c.ID == collectionID {
			for _, u := range c.Users {
				if u.Email == email {
					return nil
				}
			}
			c.Users = append(c.Users, capability.VaultUser{Email: email, ID: email})
			return nil
		}
	}
	return fmt.Errorf("collection %s not found", collectionID)
}

func (f *PasswordStore) GetCollection(_ context.Context, _, collectionID string) (capability.VaultCollection, error) {
	for _, c := range f.Collections {
		if c.ID == collectionID {
			return *c, nil
		}
	}
	return capability.VaultCollection{}, fmt.Errorf("collection %s not found", collectionID)
}

func (f *PasswordStore) PutCollectionUsers(_ context.Context, _, collectionID string, users []capability.VaultUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Collections {
		if c.ID == collectionID {
			c.Users = users
			return nil
		}
	}
	return fmt.Errorf("collection %s not found", collectionID)
}
