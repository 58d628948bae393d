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

// Command reconciler runs one synchronization pass: sync for additive
// convergence, diff for full reconciliation including removals.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dataforgoodfr/accessync/pkg/capability"
	"github.com/dataforgoodfr/accessync/pkg/config"
	"github.com/dataforgoodfr/accessync/pkg/eventpub"
	"github.com/dataforgoodfr/accessync/pkg/exclude"
	"github.com/dataforgoodfr/accessync/pkg/logging"
	"github.com/dataforgoodfr/accessync/pkg/matrix"
	"github.com/dataforgoodfr/accessync/pkg/metrics"
	"github.com/dataforgoodfr/accessync/pkg/orchestrator"
	"github.com/dataforgoodfr/accessync/pkg/reconcile"
	"github.com/dataforgoodfr/accessync/pkg/result"
)

// Clients is every capability a run's reconcilers consume. A nil field
// leaves the matching reconciler wired but inert: each reconciler's
// UpsertSync/DifferentialSync already no-ops when its capability is
// nil, so a deployment can light up services incrementally.
type Clients struct {
	Chat     capability.ChatPlatform
	Provider capability.IdentityProvider
	Docs     capability.Documentation
	Email    capability.EmailPlatform
	DB       capability.Database
	Vault    capability.PasswordStore
}

// BuildClients is the factory seam production wiring fills in: it
// constructs the HTTP-backed capability clients for cfg's configured
// service URLs and credentials. Building those clients is out of
// scope here, so every field comes back nil.
func BuildClients(_ *config.Config) (*Clients, error) {
	return &Clients{}, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Synchronizes chat-platform channel membership to downstream services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSyncCmd(), newDiffCmd())
	return root
}

func newSyncCmd() *cobra.Command {
	var mode string
	var skip []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs upsert_sync: additive convergence, no removals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), mode, skip, false)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(orchestrator.ModeChatToTools),
		"entity discovery mode: WITH_PROVIDER or CHAT_TO_TOOLS")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "service names to skip, case-insensitive")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var skip []string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Runs differential_sync: full reconciliation including removals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), "", skip, true)
		},
	}
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "service names to skip, case-insensitive")
	return cmd
}

func run(ctx context.Context, mode string, skip []string, differential bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	baseLog, flush, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer flush()

	correlationID := uuid.NewString()
	runMode := "upsert"
	if differential {
		runMode = "differential"
	}
	log := logging.WithRun(baseLog, correlationID, cfg.ChatTeamID, runMode)

	if cfg.MetricsAddr != "" {
		stopMetrics, err := metrics.Serve(cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("starting metrics listener: %w", err)
		}
		defer func() { _ = stopMetrics(ctx) }()
	}

	m, err := matrix.Load(cfg.PermissionsMatrixPath)
	if err != nil {
		return fmt.Errorf("loading permissions matrix: %w", err)
	}

	excl := exclude.Empty()
	if cfg.ExcludedUsersPath != "" {
		excl, err = exclude.Load(cfg.ExcludedUsersPath)
		if err != nil {
			return fmt.Errorf("loading exclusion file: %w", err)
		}
	}

	clients, err := BuildClients(cfg)
	if err != nil {
		return fmt.Errorf("building capability clients: %w", err)
	}

	var pub eventpub.Publisher = eventpub.NoOp{}
	if cfg.PubSubProjectID != "" && cfg.PubSubTopicID != "" {
		ps, err := eventpub.NewPubSub(ctx, cfg.PubSubProjectID, cfg.PubSubTopicID)
		if err != nil {
			return fmt.Errorf("connecting to pub/sub: %w", err)
		}
		defer ps.Close()
		pub = ps
	}

	orch := &orchestrator.Orchestrator{
		Chat:     clients.Chat,
		Provider: clients.Provider,
		Matrix:   m,
		Excl:     excl,
		Reconcilers: []reconcile.Reconciler{
			&reconcile.GroupsReconciler{Provider: clients.Provider, Matrix: m, Excl: excl},
			&reconcile.DocsReconciler{Docs: clients.Docs, Chat: clients.Chat, Matrix: m, Excl: excl},
			&reconcile.ContactsReconciler{Email: clients.Email, Matrix: m},
			&reconcile.DatabaseReconciler{DB: clients.DB, Chat: clients.Chat, Matrix: m, Excl: excl},
			&reconcile.VaultReconciler{
				Store:  clients.Vault,
				Chat:   clients.Chat,
				Matrix: m,
				Excl:   excl,
				Token: reconcile.TokenConfig{
					ServerURL: cfg.Vaultwarden.ServerURL,
					Username:  cfg.Vaultwarden.APIUsername,
					Password:  cfg.Vaultwarden.APIPassword,
				},
			},
		},
		Concurrency: cfg.Concurrency,
	}

	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[strings.ToLower(s)] = true
	}

	started := time.Now()
	var ok bool
	var records []result.Record
	if differential {
		ok, records = orch.DifferentialSync(ctx, cfg.ChatTeamID, skipSet)
	} else {
		ok, records = orch.Orchestrate(ctx, cfg.ChatTeamID, orchestrator.Mode(mode), skipSet)
	}
	finished := time.Now()
	metrics.RecordRun(runMode, ok, finished.Sub(started), records)

	for _, r := range records {
		if r.Status == result.StatusFailure {
			log.Info("reconciliation step failed",
				"service", r.Service, "resource", r.TargetResourceName,
				"tag", r.ActionTag, "error", r.ErrorMessage)
		}
	}

	summary := eventpub.Summarize(cfg.ChatTeamID, runMode, started, finished, ok, records)
	if err := pub.Publish(ctx, summary); err != nil {
		log.Error(err, "publishing run summary")
	}

	log.Info("run complete",
		"ok", ok, "success", summary.SuccessCount,
		"failure", summary.FailureCount, "skipped", summary.SkippedCount)

	// Per-Record failures are logged and published above but never
	// affect the exit code: only a fatal, run-level error (ok == false)
	// does. A FAILED_TO_* record for one entity must not fail the
	// process for every other entity that converged cleanly.
	if !ok {
		return fmt.Errorf("reconciliation run failed")
	}
	return nil
}
