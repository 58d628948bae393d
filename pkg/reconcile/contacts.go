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

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/pattern"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

const serviceBrevo = "BREVO"

// ContactsReconciler converges email-marketing contact lists,
// grounded on the original implementation's brevo.py. It is additive
// only: differential mode runs the same ensure-logic as upsert and
// performs no removals (see DESIGN.md's resolution of the Brevo
// differential-sync ambiguity between spec.md and the original
// source).
type ContactsReconciler struct {
	Email  capability.EmailPlatform
	Matrix *matrix.Matrix
}

func (r *ContactsReconciler) Service() string { return serviceBrevo }

func (r *ContactsReconciler) UpsertSync(ctx context.Context, entityKind, baseName string, membership Membership) []result.Record {
	if r.Email == nil {
		return nil
	}
	cfg, ok := r.Matrix.Get(entityKind)
	if !ok || cfg.Brevo == nil {
		return nil
	}
	name := pattern.Render(cfg.Brevo.ListNamePattern, baseName)
	return r.syncList(ctx, name, cfg.Brevo.FolderName, membership)
}

func (r *ContactsReconciler) DifferentialSync(ctx context.Context, input DifferentialInput) []result.Record {
	if r.Email == nil {
		return nil
	}
	var recs []result.Record
	for key, membership := range input.ByEntity {
		cfg, ok := r.Matrix.Get(key.Kind)
		if !ok || cfg.Brevo == nil {
			continue
		}
		name := pattern.Render(cfg.Brevo.ListNamePattern, key.BaseName)
		recs = append(recs, r.syncList(ctx, name, cfg.Brevo.FolderName, membership)...)
	}
	return recs
}

func (r *ContactsReconciler) syncList(ctx context.Context, name, folderName string, membership Membership) []result.Record {
	listID, ok, err := r.Email.FindListByName(ctx, name)
	if err != nil || !ok {
		listID, err = r.Email.CreateList(ctx, name, folderName)
		if err != nil {
			return []result.Record{{
				Service: serviceBrevo, TargetResourceName: name,
				Status: result.StatusFailure, ActionTag: result.Failed("ENSURE_LIST"),
				ErrorMessage: err.Error(),
			}}
		}
	}

	var recs []result.Record
	for email := range membership {
		if err := r.Email.UpsertContact(ctx, email, listID); err != nil {
			recs = append(recs, result.Record{
				Service: serviceBrevo, TargetResourceName: name,
				SubjectIdentifier: email, Status: result.StatusFailure,
				ActionTag: result.TagFailedToEnsureContact, ErrorMessage: err.Error(),
			})
			continue
		}
		recs = append(recs, result.Record{
			Service: serviceBrevo, TargetResourceName: name,
			SubjectIdentifier: email, Status: result.StatusSuccess,
			ActionTag: result.TagUserEnsuredInList,
		})
	}
	return recs
}
