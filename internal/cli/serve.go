package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/saashqdev/ops-center-sub002/internal/audit"
	"github.com/saashqdev/ops-center-sub002/internal/config"
	"github.com/saashqdev/ops-center-sub002/internal/server"
	"github.com/saashqdev/ops-center-sub002/internal/supervisor"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background loops and the ops servers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) (err error) {
	mgr, cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	rt, err := a.bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()
	logger := rt.logger

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingConfig())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, shutdownTracing(sctx))
	}()

	sup := supervisor.New(logger)
	rt.svc.Register(sup)

	srv := server.New(server.Config{
		HTTPPort:        cfg.Server.HTTPPort,
		GRPCPort:        cfg.Server.GRPCPort,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Version:         Version,
	}, rt.store, sup, rt.svc, logger)

	_ = rt.audit.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithDescription("configuration loaded").
		WithMetadata("database", cfg.Database.Type))
	_ = rt.audit.LogServiceStarted(ctx, Version)
	logger.Info("smart alerts service starting",
		zap.String("version", Version),
		zap.String("database", cfg.Database.Type),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
	)

	changes := mgr.Watch(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-changes:
				rt.applyConfig(gctx, &next)
			}
		}
	})

	runErr := g.Wait()
	_ = rt.audit.LogServiceShutdown(context.Background())
	logger.Info("smart alerts service stopped")
	return runErr
}

// applyConfig applies the settings that can change without a restart. Only
// the log level is live; other changes are logged and take effect on the
// next start.
func (r *runtime) applyConfig(ctx context.Context, next *config.Config) {
	if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil && lvl != r.level.Level() {
		r.logger.Info("log level changed", zap.Stringer("from", r.level.Level()), zap.Stringer("to", lvl))
		r.level.SetLevel(lvl)
	}
	r.logger.Info("configuration reloaded; restart to apply non-logging changes")
	_ = r.audit.Log(ctx, audit.NewEvent(audit.EventConfigChanged).
		WithDescription("configuration file changed").
		WithMetadata("log_level", next.Logging.Level))
	r.cfg = next
}
