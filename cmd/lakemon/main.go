// Command lakemon monitors Databricks jobs and clusters through the system
// tables and writes reports, exports and alerts.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/stdlog"
	"github.com/vk-rv/lakemon/internal/svc/cluster"
	"github.com/vk-rv/lakemon/internal/svc/collector"
	"github.com/vk-rv/lakemon/internal/svc/job"
	"github.com/vk-rv/lakemon/internal/svcotel"
	"github.com/vk-rv/lakemon/internal/warehouse"
)

const (
	failed         = 1
	defaultEnvFile = ".env"
	defaultDays    = 7
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("lakemon failed", slog.Any("error", err))
		os.Exit(failed)
	}
}

// app is the state shared by every command.
type app struct {
	cfg      *config
	logger   *slog.Logger
	closeLog func() error
	now      func() time.Time
	envFile  string
	fl       flags
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:           "lakemon",
		Short:         "Databricks job and cluster monitor built on the system tables",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runReport(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.IntVar(&a.fl.days, "days", defaultDays, "number of days to analyze")
	pf.Float64Var(&a.fl.cpuThreshold, "cpu-threshold", 0, "CPU utilization threshold in percent (default from ALERT_CPU_THRESHOLD)")
	pf.Float64Var(&a.fl.memoryThreshold, "memory-threshold", 0, "memory utilization threshold in percent (default from ALERT_MEMORY_THRESHOLD)")
	pf.StringVar(&a.fl.outputDir, "output-dir", "", "directory for reports and exports (default from OUTPUT_DIR)")
	pf.StringVar(&a.envFile, "env-file", defaultEnvFile, "dotenv file to load before reading the environment")
	root.Flags().BoolVar(&a.fl.text, "text", false, "write the flat text report instead of Markdown")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Full job and cluster report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runReport(cmd)
		},
	}
	reportCmd.Flags().BoolVar(&a.fl.text, "text", false, "write the flat text report instead of Markdown")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Test the warehouse connection and list the system tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCheck(cmd)
		},
	}
	checkCmd.Flags().StringVar(&a.fl.describe, "describe", "", "describe the columns of a table, e.g. system.lakeflow.jobs")

	root.AddCommand(
		reportCmd,
		&cobra.Command{
			Use:   "jobs",
			Short: "Job monitoring report",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runJobs(cmd)
			},
		},
		&cobra.Command{
			Use:   "cluster",
			Short: "Cluster performance analysis",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runCluster(cmd)
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Export every metric table as CSV plus a JSON summary",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runExport(cmd)
			},
		},
		checkCmd,
		&cobra.Command{
			Use:   "watch",
			Short: "Refresh periodically, dispatch alerts and serve Prometheus metrics",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runWatch(cmd)
			},
		},
	)

	return root
}

func (a *app) init() error {
	cfg, err := loadConfig(a.envFile)
	if err != nil {
		return err
	}
	cfg.apply(&a.fl)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if a.fl.days <= 0 {
		return fmt.Errorf("--days %d: %w", a.fl.days, lakemon.ErrInvalidDays)
	}

	logger, closeLog, err := stdlog.Open(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(stdlog.NewLogger(logger).Logf)); err != nil {
		_ = closeLog()
		return fmt.Errorf("maxprocs set error: %w", err)
	}

	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog

	logger.Info("lakemon starting",
		slog.Int("days", a.fl.days),
		slog.String("host", cfg.Warehouse.Hostname()),
		slog.String("cluster_id", cfg.Warehouse.ClusterID),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("runtime", runtime.Version()))
	return nil
}

// session is an open warehouse connection with the services built on it.
type session struct {
	db         *sql.DB
	store      *warehouse.Store
	tracing    svcotel.TracerProvider
	thresholds *lakemon.ThresholdStore
	jobs       *job.Monitor
	clusters   *cluster.Monitor
	collector  *collector.Collector
	closeDB    func() error
}

func (a *app) open(ctx context.Context) (*session, error) {
	tp, err := svcotel.Start(ctx, a.cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("start tracing: %w", err)
	}

	db, closeDB, err := warehouse.ConnectLoop(ctx, a.cfg.Warehouse, a.logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	store := warehouse.NewStore(db, tp, a.now, a.logger.With(slog.String("service", "warehouse")))
	thresholds := lakemon.NewThresholdStore(a.cfg.Thresholds())
	jobs := job.NewMonitor(store, thresholds, a.logger.With(slog.String("service", "job")))
	clusters := cluster.NewMonitor(store, thresholds, a.logger.With(slog.String("service", "cluster")))

	return &session{
		db:         db,
		store:      store,
		tracing:    tp,
		thresholds: thresholds,
		jobs:       jobs,
		clusters:   clusters,
		collector: collector.New(
			[]lakemon.Monitor{jobs, clusters},
			collector.Config{TTL: a.cfg.RefreshInterval(), MonitorTimeout: a.cfg.Monitor.Timeout},
			a.now,
			a.logger.With(slog.String("service", "collector")),
		),
		closeDB: closeDB,
	}, nil
}

func (s *session) close(logger *slog.Logger) {
	if err := s.closeDB(); err != nil {
		logger.Error("close warehouse connection pool", slog.Any("error", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tracing.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("shutdown tracer provider", slog.Any("error", err))
	}
}
