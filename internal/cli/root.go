// Package cli implements the cruisesync command line: the long-running
// server plus the operator commands that share its wiring.
package cli

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/iliyamo/cruisesync/internal/config"
)

// NewRootCmd assembles every subcommand.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cruisesync",
		Short: "Traveltek cruise catalogue and pricing sync",
		Long: `cruisesync ingests the supplier's per-sailing documents into MySQL.

Runs are scoped to one cruise line and serialized by a Redis lock, so a
webhook, an operator and this CLI can never write the same line at once.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newLocksCmd(),
		newMigrateCmd(),
		newResummarizeCmd(),
		newTokenCmd(),
	)
	return root
}

// loadConfig is swapped by tests.
var loadConfig = config.Load

// withApp starts a quiet app holding only what the targets need, runs fn
// and stops the app again.  targets are pointers as for fx.Populate.
func withApp(ctx context.Context, fn func() error, targets ...any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app := fx.New(
		fx.Supply(cfg),
		fx.NopLogger,
		InfraModule,
		SyncModule,
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return errors.Wrap(err, "start app")
	}
	runErr := fn()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return errors.Wrap(err, "stop app")
	}
	return runErr
}
