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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHAT_TEAM_ID", "DEBUG", "RECONCILE_CONCURRENCY",
		"PERMISSIONS_MATRIX_FILE_PATH", "EXCLUDED_USERS_FILE_PATH",
		"AUTHENTIK_URL", "AUTHENTIK_TOKEN", "OUTLINE_URL", "OUTLINE_TOKEN",
		"BREVO_API_URL", "BREVO_API_KEY", "BREVO_DEFAULT_SENDER_EMAIL", "BREVO_DEFAULT_SENDER_NAME",
		"NOCODB_URL", "NOCODB_TOKEN",
		"VAULTWARDEN_ORGANIZATION_ID", "VAULTWARDEN_SERVER_URL", "VAULTWARDEN_API_USERNAME", "VAULTWARDEN_API_PASSWORD",
		"PUBSUB_PROJECT_ID", "PUBSUB_TOPIC_ID", "METRICS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_RequiresTeamID(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERMISSIONS_MATRIX_FILE_PATH", "matrix.yml")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAT_TEAM_ID")
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_TEAM_ID", "team1")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "team1", cfg.ChatTeamID)
	require.Equal(t, "config/permissions_matrix.yml", cfg.PermissionsMatrixPath)
	require.Equal(t, "https://api.brevo.com/v3", cfg.Brevo.APIURL)
	require.Equal(t, "Marty Bot", cfg.Brevo.DefaultSenderName)
	require.Equal(t, 4, cfg.Concurrency)
	require.False(t, cfg.Debug)

	t.Setenv("PERMISSIONS_MATRIX_FILE_PATH", "/etc/accessync/matrix.yml")
	t.Setenv("RECONCILE_CONCURRENCY", "8")
	t.Setenv("DEBUG", "true")
	t.Setenv("BREVO_API_URL", "https://brevo.internal/v3")

	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "/etc/accessync/matrix.yml", cfg.PermissionsMatrixPath)
	require.Equal(t, 8, cfg.Concurrency)
	require.True(t, cfg.Debug)
	require.Equal(t, "https://brevo.internal/v3", cfg.Brevo.APIURL)
}

func TestLoad_RejectsInvalidConcurrency(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_TEAM_ID", "team1")
	t.Setenv("RECONCILE_CONCURRENCY", "not-a-number")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "RECONCILE_CONCURRENCY")
}
