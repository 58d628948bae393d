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

// Package eventpub publishes a one-line run summary to a GCP Pub/Sub
// topic for dashboards, adapted from the teacher's pkg/pubsub.Publish.
// Unlike the teacher's per-apply status pings, a reconciliation run
// publishes exactly one Summary after every Result Record has been
// collected.
package eventpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/pubsub"

	"github.com/dataforgoodfr/accessync/pkg/result"
)

// Summary is the message body published once per run.
type Summary struct {
	TeamID        string    `json:"teamId"`
	Mode          string    `json:"mode"` // "upsert" or "differential"
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	OverallOK     bool      `json:"overallOk"`
	SuccessCount  int       `json:"successCount"`
	FailureCount  int       `json:"failureCount"`
	SkippedCount  int       `json:"skippedCount"`
	FailedActions []string  `json:"failedActions,omitempty"`
}

// Summarize tallies a run's Result Records into a Summary.
func Summarize(teamID, mode string, started, finished time.Time, overallOK bool, records []result.Record) Summary {
	s := Summary{
		TeamID: teamID, Mode: mode,
		StartedAt: started, FinishedAt: finished, OverallOK: overallOK,
	}
	for _, r := range records {
		switch r.Status {
		case result.StatusSuccess:
			s.SuccessCount++
		case result.StatusFailure:
			s.FailureCount++
			s.FailedActions = append(s.FailedActions, fmt.Sprintf("%s/%s: %s", r.Service, r.TargetResourceName, r.ActionTag))
		case result.StatusSkipped:
			s.SkippedCount++
		}
	}
	return s
}

// Publisher publishes a run Summary. cmd/reconciler's run always holds
// a non-nil Publisher — NoOp is the default when Pub/Sub is not
// configured.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// NoOp discards every Summary. It is the zero-configuration default.
type NoOp struct{}

func (NoOp) Publish(context.Context, Summary) error { return nil }

// PubSub publishes to one GCP Pub/Sub topic, grounded on the teacher's
// pkg/pubsub.Publish.
type PubSub struct {
	ProjectID string
	TopicID   string

	client *pubsub.Client
}

// ResolveProjectID returns ProjectID if set, else the ambient GCE
// metadata server's project (mirrors the teacher's
// pkg/util.GetProjectID fleet-membership-then-metadata fallback, minus
// the fleet-membership lookup this module has no Kubernetes client to
// perform).
func ResolveProjectID(projectID string) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	if metadata.OnGCE() {
		return metadata.ProjectID()
	}
	return "", fmt.Errorf("no Pub/Sub project configured and not running on GCE")
}

// NewPubSub dials the Pub/Sub client for projectID. Call Close when done.
func NewPubSub(ctx context.Context, projectID, topicID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	return &PubSub{ProjectID: projectID, TopicID: topicID, client: client}, nil
}

func (p *PubSub) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *PubSub) Publish(ctx context.Context, s Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	topic := p.client.Topic(p.TopicID)
	res := topic.Publish(ctx, &pubsub.Message{Data: b})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("pubsub: publish result: %w", err)
	}
	return nil
}
