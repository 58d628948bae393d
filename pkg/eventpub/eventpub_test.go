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

package eventpub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dataforgoodfr/accessync/pkg/result"
)

func TestSummarize_TalliesStatusesAndFailedActions(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	records := []result.Record{
		{Service: "PROVIDER", TargetResourceName: "grp-payments", Status: result.StatusSuccess, ActionTag: result.TagUserAddedToGroup},
		{Service: "PROVIDER", TargetResourceName: "grp-payments", Status: result.StatusFailure, ActionTag: result.Failed("ADD_TO_GROUP")},
		{Service: "OUTLINE", TargetResourceName: "payments", Status: result.StatusSkipped, ActionTag: result.TagSkippedNoEmail},
	}

	s := Summarize("team1", "upsert", started, finished, false, records)
	require.Equal(t, "team1", s.TeamID)
	require.Equal(t, "upsert", s.Mode)
	require.False(t, s.OverallOK)
	require.Equal(t, 1, s.SuccessCount)
	require.Equal(t, 1, s.FailureCount)
	require.Equal(t, 1, s.SkippedCount)
	require.Len(t, s.FailedActions, 1)
	require.Contains(t, s.FailedActions[0], "PROVIDER/grp-payments")
}

func TestNoOp_DiscardsSummary(t *testing.T) {
	var pub Publisher = NoOp{}
	require.NoError(t, pub.Publish(context.Background(), Summary{TeamID: "team1"}))
}
