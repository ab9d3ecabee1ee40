package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// withRuntime loads config, bootstraps the service, runs fn and closes
// everything.
func (a *app) withRuntime(ctx context.Context, fn func(*runtime) error) (err error) {
	_, cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	rt, err := a.bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		device, metric string
		value          float64
		at             string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run a single metric sample through anomaly detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ts time.Time
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				ts = parsed
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				det := rt.svc.ProcessMetric(cmd.Context(), device, metric, value, ts)
				if det == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s=%g: normal\n", device, metric, value)
					return nil
				}
				return printJSON(cmd.OutOrStdout(), det)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id")
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	cmd.Flags().Float64Var(&value, "value", 0, "metric value")
	cmd.Flags().StringVar(&at, "at", "", "sample timestamp (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("metric")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newFalsePositiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "false-positive DETECTION_ID",
		Short: "Flag a detection as a false positive and close its alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.svc.MarkFalsePositive(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, db.ErrNotFound) {
						return fmt.Errorf("detection %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "detection %s marked as false positive\n", args[0])
				return nil
			})
		},
	}
}

func newAlertsCmd(a *app) *cobra.Command {
	var (
		q        db.AlertQuery
		severity string
		since    time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List stored alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if severity != "" {
				sev, ok := models.ParseSeverity(severity)
				if !ok {
					return fmt.Errorf("invalid --severity %q", severity)
				}
				q.Severity = sev
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				alerts, err := rt.svc.Alerts(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), alerts)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-36s  %-16s  %-8s  %-10s  %6s  %s\n", "ID", "DEVICE", "SEVERITY", "TYPE", "PRIO", "TITLE")
				for _, al := range alerts {
					fmt.Fprintf(out, "%-36s  %-16s  %-8s  %-10s  %6.1f  %s\n",
						al.ID, al.DeviceID, al.Severity, al.AlertType, al.PriorityScore, al.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.DeviceID, "device", "", "filter by device id")
	cmd.Flags().StringVar(&q.AlertType, "type", "", "filter by alert type (anomaly, predictive)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().Float64Var(&q.MinPriority, "min-priority", 0, "minimum priority score")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only alerts created within this window (0 for all)")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTrainCmd(a *app) *cobra.Command {
	var device, metric string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain one (device, metric) model, or run a full training sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (device == "") != (metric == "") {
				return errors.New("--device and --metric must be given together")
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				out := cmd.OutOrStdout()
				if device != "" {
					m, err := rt.svc.TrainModel(cmd.Context(), device, metric)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "trained %s/%s version %d on %d samples (fpr %.3f)\n",
						m.DeviceID, m.MetricName, m.Version, m.TrainingSamples, m.FalsePositiveRate)
					return nil
				}
				report, err := rt.svc.TrainAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "trained %d, skipped %d, failed %d in %s\n",
					report.Trained, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id")
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	return cmd
}

func newCorrelateCmd(a *app) *cobra.Command {
	var (
		window time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Correlate recent alerts into groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 {
				return fmt.Errorf("--window must be positive, got %s", window)
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				groups, err := rt.svc.Correlate(cmd.Context(), window)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), groups)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d correlation group(s) in the last %s\n", len(groups), window)
				for _, g := range groups {
					fmt.Fprintf(out, "  %s  %-14s  alerts=%d  impact=%.1f  confidence=%.2f  root=%s\n",
						g.CorrelationGroupID, g.CorrelationType, len(g.AlertIDs), g.ImpactScore, g.Confidence, g.RootCauseAlertID)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 15*time.Minute, "look-back window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "predict",
		Short: "Run one predictive alerting sweep over the active devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.svc.RunPredictions(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "prediction sweep finished")
				return nil
			})
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired detections and samples and prune old model versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.svc.Cleanup(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cleanup finished")
				return nil
			})
		},
	}
}

func newSummaryCmd(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize detections by severity and model type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				sum, err := rt.svc.AnomalySummary(cmd.Context(), time.Now().Add(-since))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "summary window")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			_, cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			store, err := db.Open(cmd.Context(), cfg.DBOptions())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { err = multierr.Append(err, store.Close()) }()

			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", store.Driver(), v)
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "smartalerts %s (commit %s)\n", Version, Commit)
			return nil
		},
	}
}
