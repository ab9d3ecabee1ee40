// Package cli implements the smartalerts command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/audit"
	"github.com/saashqdev/ops-center-sub002/internal/config"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/logging"
	"github.com/saashqdev/ops-center-sub002/internal/smartalerts"
)

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
)

type app struct {
	configPath string
	out        io.Writer
	errOut     io.Writer
}

// NewRootCommand builds the smartalerts command tree on the process stdio.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds the command tree writing to out and errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:           "smartalerts",
		Short:         "Anomaly detection, correlation and predictive alerting for device metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(a),
		newProcessCmd(a),
		newFalsePositiveCmd(a),
		newAlertsCmd(a),
		newSummaryCmd(a),
		newTrainCmd(a),
		newCorrelateCmd(a),
		newPredictCmd(a),
		newCleanupCmd(a),
		newMigrateCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// loadConfig loads and validates the configuration.
func (a *app) loadConfig(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

// runtime is everything a command needs to drive the service.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
	store  *db.SQLStore
	audit  audit.Logger
	svc    *smartalerts.Service
}

func (a *app) bootstrap(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger, level, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := db.Open(ctx, cfg.DBOptions())
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	auditLog, err := audit.NewLogger(cfg.AuditConfig(), logger)
	if err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	svc := smartalerts.New(store, cfg.ServiceConfig(), smartalerts.Deps{Audit: auditLog}, logger)
	return &runtime{
		cfg:    cfg,
		logger: logger,
		level:  level,
		store:  store,
		audit:  auditLog,
		svc:    svc,
	}, nil
}

// Close flushes the audit trail and closes the store.
func (r *runtime) Close() error {
	err := multierr.Combine(
		r.audit.Close(),
		r.store.Close(),
	)
	// Sync on a terminal returns EINVAL on some platforms.
	_ = r.logger.Sync()
	return err
}
