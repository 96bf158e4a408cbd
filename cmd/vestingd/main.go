// Command vestingd operates a vesting ledger: it serves the read-only query
// API and runs admin and beneficiary operations against the configured store
// and Hedera token vault.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/config"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// application carries the state shared by every command in one invocation.
// Tests preset logger, backend and clock.
type application struct {
	configPath string
	verbose    bool
	caller     string

	cfg      *config.Config
	logger   *zap.Logger
	backend  vesting.TransferBackend
	clock    vesting.Clock
	shutdown []func(ctx context.Context) error
}

func newRootCommand(app *application) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vestingd",
		Short: "Operate a token vesting ledger",
		Long: `vestingd manages cliff-and-linear vesting schedules paid out of a Hedera
token vault. Schedules live in the configured store (sqlite, postgres, redis
or memory); every committed change can be published to an audit topic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close(context.WithoutCancel(cmd.Context()))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "vestingd.yaml", "path to the YAML config file")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&app.caller, "as", "", "account acting as caller (defaults to the operator account)")

	rootCmd.AddCommand(
		newServeCommand(app),
		newInitCommand(app),
		newScheduleCommand(app),
		newClaimCommand(app),
		newPauseCommand(app, true),
		newPauseCommand(app, false),
		newAdminCommand(app),
		newStatusCommand(app),
		newVaultCommand(app),
		newAuditCommand(app),
	)
	return rootCmd
}

func (app *application) setup(ctx context.Context) error {
	cfg, err := config.Load(app.configPath)
	if err != nil {
		return err
	}
	app.cfg = cfg

	if app.logger == nil {
		logger, err := buildLogger(cfg.Logging, app.verbose)
		if err != nil {
			return err
		}
		app.logger = logger
		app.shutdown = append(app.shutdown, func(context.Context) error {
			_ = logger.Sync()
			return nil
		})
	}

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	app.shutdown = append(app.shutdown, shutdownTelemetry)
	return nil
}

func (app *application) close(ctx context.Context) error {
	var firstErr error
	for index := len(app.shutdown) - 1; index >= 0; index-- {
		if err := app.shutdown[index](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	app.shutdown = nil
	return firstErr
}

func buildLogger(logging config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if logging.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if logging.Level != "" {
		level, err := zapcore.ParseLevel(logging.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", logging.Level, err)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &application{}
	err := newRootCommand(app).ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	if closeErr := app.close(context.Background()); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
