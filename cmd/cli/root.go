// Package cli implements the gatekeeper-admin command-line tool for operating
// the API key store directly: issuing, rotating, deactivating, and auditing
// keys, plus running the lifecycle sweeps on demand.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/merchware/gatekeeper/internal/application"
	"github.com/merchware/gatekeeper/internal/config"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/memory"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/postgres"
	"github.com/merchware/gatekeeper/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gatekeeper-admin",
	Short: "Administer the Gatekeeper API key store",
	Long: `gatekeeper-admin operates directly on the key store: it issues and
rotates API keys, deactivates and reactivates them, runs the lifecycle
sweeps, and produces compliance reports.`,
	SilenceUsage: true,
}

// Execute runs the CLI. Errors are printed by cobra; we only set the exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")
	rootCmd.AddCommand(newKeyCmd(), newSweepCmd(), newReportCmd())
}

// newRotationService builds a RotationService against the configured database.
// The CLI talks to the store directly, so cached verdicts are purged through
// an in-process stand-in; a deactivated key still leaves the gateway caches
// within the validation TTL.
func newRotationService(ctx context.Context) (*application.RotationService, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New("warn")
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.Connect(ctx, &cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	svc := application.NewRotationService(
		postgres.NewAPIKeyRepository(db),
		postgres.NewAuditLog(db),
		memory.NewKVStore(),
		application.RotationConfig{
			ExpiryMonths:     cfg.Rotation.ExpiryMonths,
			TransitionDays:   cfg.Rotation.TransitionDays,
			ExpiringSoonDays: cfg.Rotation.ExpiringSoonDays,
			UnusedDays:       cfg.Rotation.UnusedDays,
			RotatedDays:      cfg.Rotation.RotatedDays,
		},
		log,
	)
	return svc, cleanup, nil
}
