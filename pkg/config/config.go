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

// Package config loads run configuration from the environment, the
// way the original implementation's config package reads everything
// at import time from os.getenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AuthentikConfig configures the Identity-Provider Groups reconciler's
// client.
type AuthentikConfig struct {
	URL   string
	Token string
}

// OutlineConfig configures the Documentation Collections reconciler's
// client.
type OutlineConfig struct {
	URL   string
	Token string
}

// BrevoConfig configures the Email Contact Lists reconciler's client.
type BrevoConfig struct {
	APIURL             string
	APIKey             string
	DefaultSenderEmail string
	DefaultSenderName  string
}

// NocoDBConfig configures the Database Bases reconciler's client.
type NocoDBConfig struct {
	URL   string
	Token string
}

// VaultwardenConfig configures the Password Collections reconciler's
// client and its password-grant token exchange. The vault unlock
// master password (BW_PASSWORD in the original) is deliberately not
// read here, for the same reason the original never put it in its
// config object: it must not end up in anything that gets logged.
type VaultwardenConfig struct {
	OrganizationID string
	ServerURL      string
	APIUsername    string
	APIPassword    string
}

// Config is every run's full configuration, read once at startup.
type Config struct {
	ChatTeamID  string
	Debug       bool
	Concurrency int

	PermissionsMatrixPath string
	ExcludedUsersPath     string // empty means no exclusion file

	Authentik   AuthentikConfig
	Outline     OutlineConfig
	Brevo       BrevoConfig
	NocoDB      NocoDBConfig
	Vaultwarden VaultwardenConfig

	PubSubProjectID string // empty disables eventpub.PubSub
	PubSubTopicID   string

	MetricsAddr string // empty disables the Prometheus /metrics listener
}

// Load reads Config from the environment. CHAT_TEAM_ID is required;
// PERMISSIONS_MATRIX_FILE_PATH defaults to config/permissions_matrix.yml;
// everything else has a default or may legitimately be empty (a reconciler whose client URL
// is unset is simply not wired, per the capability layer's nil-is-off
// convention).
func Load() (*Config, error) {
	cfg := &Config{
		ChatTeamID:  os.Getenv("CHAT_TEAM_ID"),
		Debug:       strings.EqualFold(os.Getenv("DEBUG"), "true"),
		Concurrency: 4,

		PermissionsMatrixPath: envOr("PERMISSIONS_MATRIX_FILE_PATH", "config/permissions_matrix.yml"),
		ExcludedUsersPath:     os.Getenv("EXCLUDED_USERS_FILE_PATH"),

		Authentik: AuthentikConfig{
			URL:   os.Getenv("AUTHENTIK_URL"),
			Token: os.Getenv("AUTHENTIK_TOKEN"),
		},
		Outline: OutlineConfig{
			URL:   os.Getenv("OUTLINE_URL"),
			Token: os.Getenv("OUTLINE_TOKEN"),
		},
		Brevo: BrevoConfig{
			APIURL:             envOr("BREVO_API_URL", "https://api.brevo.com/v3"),
			APIKey:             os.Getenv("BREVO_API_KEY"),
			DefaultSenderEmail: os.Getenv("BREVO_DEFAULT_SENDER_EMAIL"),
			DefaultSenderName:  envOr("BREVO_DEFAULT_SENDER_NAME", "Marty Bot"),
		},
		NocoDB: NocoDBConfig{
			URL:   os.Getenv("NOCODB_URL"),
			Token: os.Getenv("NOCODB_TOKEN"),
		},
		Vaultwarden: VaultwardenConfig{
			OrganizationID: os.Getenv("VAULTWARDEN_ORGANIZATION_ID"),
			ServerURL:      os.Getenv("VAULTWARDEN_SERVER_URL"),
			APIUsername:    os.Getenv("VAULTWARDEN_API_USERNAME"),
			APIPassword:    os.Getenv("VAULTWARDEN_API_PASSWORD"),
		},

		PubSubProjectID: os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubTopicID:   os.Getenv("PUBSUB_TOPIC_ID"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if v := os.Getenv("RECONCILE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RECONCILE_CONCURRENCY must be a positive integer, got %q", v)
		}
		cfg.Concurrency = n
	}

	if cfg.ChatTeamID == "" {
		return nil, fmt.Errorf("CHAT_TEAM_ID must be set")
	}
	if cfg.PermissionsMatrixPath == "" {
		return nil, fmt.Errorf("PERMISSIONS_MATRIX_FILE_PATH must be set")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
