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

// Package capability defines the abstract contract every reconciler
// consumes for one external system. Reconcilers never see transport
// concerns: tests substitute in-memory fakes (see fake.go), production
// wires HTTP-backed implementors that are out of this module's scope.
package capability

import "context"

// ChatUser is one chat-platform channel member.
type ChatUser struct {
	UserID   string
	Username string
	Email    string
}

// ChatChannel is one chat-platform channel.
type ChatChannel struct {
	ID          string
	Slug        string
	DisplayName string
	Type        string // 'O' public, 'P' private
}

// ChatPlatform is the source-of-truth capability: list channels for a
// team, resolve channel members, and send direct messages.
type ChatPlatform interface {
	ListChannelsForTeam(ctx context.Context, teamID string) ([]ChatChannel, error)
	ListChannelMembers(ctx context.Context, channelID string) ([]ChatUser, error)
	SendDirectMessage(ctx context.Context, userID, message string) error
	BotUserID(ctx context.Context) (string, error)
}

// ProviderUser is one identity-provider user.
type ProviderUser struct {
	ID       string
	Username string
	Email    string
}

// ProviderGroup is one identity-provider group and its current users.
type ProviderGroup struct {
	ID    string
	Name  string
	Users []ProviderUser
}

// IdentityProvider manages groups whose membership mirrors channel
// membership.
type IdentityProvider interface {
	ListGroups(ctx context.Context) ([]ProviderGroup, error)
	ListAllUsers(ctx context.Context) (map[string]string, error) // email (lowercase) -> native id
	CreateGroup(ctx context.Context, name string) (ProviderGroup, error)
	AddUserToGroup(ctx context.Context, groupID, userID string) error
	RemoveUserFromGroup(ctx context.Context, groupID, userID string) error
}

// DocCollection is one documentation collection. Its members are
// listed separately via Documentation.ListCollectionMembers.
type DocCollection struct {
	ID   string
	Name string
	URL  string
}

// DocMember is one documentation collection's current member.
type DocMember struct {
	ID    string
	Email string
}

// Documentation manages wiki-style collections with per-user
// permission levels.
type Documentation interface {
	ListCollections(ctx context.Context) ([]DocCollection, error)
	CreateCollection(ctx context.Context, name string) (DocCollection, error)
	ListCollectionMembers(ctx context.Context, collectionID string) ([]DocMember, error)
	GetUserByEmail(ctx context.Context, email string) (id string, ok bool, err error)
	AddUserToCollection(ctx context.Context, collectionID, userID, permission string) error
	RemoveUserFromCollection(ctx context.Context, collectionID, userID string) error
	CollectionURL(ctx context.Context, collectionID string) (string, error)
}

// EmailPlatform manages marketing contact lists.
type EmailPlatform interface {
	FindListByName(ctx context.Context, name string) (id string, ok bool, err error)
	CreateList(ctx context.Context, name, folderName string) (id string, err error)
	UpsertContact(ctx context.Context, email, listID string) error
}

// DBBaseUser is one low-code-database base's user with their role.
type DBBaseUser struct {
	Email string
	ID    string
	Role  string
}

// DBBase is one low-code-database base.
type DBBase struct {
	ID    string
	Title string
}

// Database manages low-code-database bases and per-user roles.
type Database interface {
	ListBases(ctx context.Context) ([]DBBase, error)
	FindBaseByTitle(ctx context.Context, title string) (id string, ok bool, err error)
	ListBaseUsers(ctx context.Context, baseID string) ([]DBBaseUser, error)
	InviteUser(ctx context.Context, baseID, email, role string) error
	UpdateUserRole(ctx context.Context, baseID, userID, role string) error
}

// VaultUser is one password-store collection member.
type VaultUser struct {
	Email string
	ID    string
}

// VaultCollection is a password-store collection and its full
// current user list, as returned by the collection-details fetch that
// differential sync's all-or-nothing PUT depends on.
type VaultCollection struct {
	ID    string
	OrgID string
	Name  string
	Users []VaultUser
}

// InviteError, when returned by PasswordStore.InviteUser, lets the
// reconciler inspect the raw error body to recognize idempotent
// duplicate-invite responses (spec.md §4.4.5 step 2) without the
// capability interface having to special-case that policy itself.
type InviteError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *InviteError) Error() string { return e.Err.Error() }
func (e *InviteError) Unwrap() error { return e.Err }

// PasswordStore manages shared password-vault collections. Every
// operation below takes the bearer token explicitly: acquiring and
// refreshing it is the reconciler's own concern, serialized through a
// critical section around the token cache (spec.md §5), since the
// token is the one piece of mutable state shared across concurrent
// invitations within a run.
type PasswordStore interface {
	ListCollections(ctx context.Context, token string) ([]VaultCollection, error)
	ResolveCollectionByName(ctx context.Context, token, name string) (id string, orgID string, ok bool, err error)
	InviteUser(ctx context.Context, token, collectionID, orgID, email string) error
	GetCollection(ctx context.Context, token, collectionID string) (VaultCollection, error)
	PutCollectionUsers(ctx context.Context, token, collectionID string, users []VaultUser) error
}
