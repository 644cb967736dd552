package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vk-rv/lakemon/internal/kafka"
	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/lakeprometheus"
	"github.com/vk-rv/lakemon/internal/notifier"
	"github.com/vk-rv/lakemon/internal/report"
	"github.com/vk-rv/lakemon/internal/svc/cluster"
	"github.com/vk-rv/lakemon/internal/svc/collector"
	"github.com/vk-rv/lakemon/internal/svc/job"
	"github.com/vk-rv/lakemon/internal/systables"
	"github.com/vk-rv/lakemon/internal/worker"
)

func (a *app) runReport(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	snap := s.collector.GetAllMetrics(ctx, a.fl.days, true)
	doc := newDocument(snap, s.collector, s.clusters, s.thresholds.Load(), a.now())

	content, ext := report.Markdown(doc), "md"
	if a.fl.text {
		content, ext = report.Text(doc), "txt"
	}
	path, err := report.WriteFile(a.cfg.OutputDir, "databricks_report", ext, content, a.now())
	if err != nil {
		return err
	}

	a.logger.Info("report written",
		slog.String("path", path),
		slog.String("health", string(doc.Summary.Health.Status)),
		slog.Int("alerts", doc.Alerts.Total()))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

// newDocument assembles the full report from a collected snapshot.
func newDocument(
	snap *lakemon.Snapshot,
	col *collector.Collector,
	clusters *cluster.Monitor,
	thresholds lakemon.Thresholds,
	generatedAt time.Time,
) *report.Document {
	ut := snap.Set(cluster.Name).Table(cluster.TableUtilization)
	return &report.Document{
		GeneratedAt:     generatedAt,
		Title:           "Databricks Monitoring Report",
		Description:     "Job and cluster health derived from the Databricks system tables.",
		RunID:           snap.ID,
		Days:            snap.Days,
		Thresholds:      thresholds,
		Summary:         col.Summarize(snap),
		Alerts:          col.Alerts(snap),
		Utilization:     ut,
		JobRuntime:      snap.Set(job.Name).Table(job.TableRuntime),
		Sets:            snap.Sets,
		Issues:          clusters.AnalyzeIssues(ut),
		Recommendations: clusters.Recommend(ut),
		Queries:         systables.All(),
	}
}

func (a *app) runJobs(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	set := s.jobs.GetMetrics(ctx, a.fl.days)
	anomalies := s.jobs.DetectAnomalies(set)
	content := s.jobs.GenerateReport(set, anomalies, a.now())

	path, err := report.WriteFile(a.cfg.OutputDir, "job_monitoring_report", "txt", content, a.now())
	if err != nil {
		return err
	}
	a.logger.Info("job report written", slog.String("path", path), slog.Int("anomalies", anomalies.Count()))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

func (a *app) runCluster(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	set := s.clusters.GetMetrics(ctx, a.fl.days)
	anomalies := s.clusters.DetectAnomalies(set)
	content := s.clusters.GenerateReport(set, anomalies, a.now())

	path, err := report.WriteFile(a.cfg.OutputDir, "cluster_performance_report", "md", content, a.now())
	if err != nil {
		return err
	}
	a.logger.Info("cluster report written", slog.String("path", path), slog.Int("anomalies", anomalies.Count()))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

func (a *app) runExport(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	files, err := s.collector.ExportMetrics(ctx, a.fl.days, a.cfg.OutputDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, key := range slices.Sorted(maps.Keys(files)) {
		if _, err := fmt.Fprintf(out, "%s\t%s\n", key, files[key]); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runCheck(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	out := cmd.OutOrStdout()
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Connection: OK")

	for _, schema := range systables.SystemSchemas {
		res := s.store.ListTables(ctx, schema)
		if !res.Ok() {
			fmt.Fprintf(out, "\n%s: unavailable (%v)\n", schema, res.Err)
			continue
		}
		fmt.Fprintf(out, "\n%s: %d tables\n", schema, res.Table.Len())
		fmt.Fprint(out, report.TextTable(res.Table.Select("tableName", "isTemporary"), -1))
	}

	activity := s.store.Query(ctx, systables.RecentJobActivity.Name,
		systables.RecentJobActivity.Render(systables.Params{Days: a.cfg.Monitor.RetentionDays}))
	if activity.Ok() {
		fmt.Fprintf(out, "\nJob runs in the last %d days: %.0f\n",
			a.cfg.Monitor.RetentionDays, activity.Table.Sum("total_runs"))
	} else {
		fmt.Fprintf(out, "\nJob activity probe failed: %v\n", activity.Err)
	}

	if a.fl.describe != "" {
		res := s.store.DescribeTable(ctx, a.fl.describe)
		if !res.Ok() {
			return res.Err
		}
		fmt.Fprintf(out, "\n%s\n", a.fl.describe)
		fmt.Fprint(out, report.TextTable(res.Table, -1))
	}
	return nil
}

func (a *app) runWatch(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(a.logger)

	promCollector := lakeprometheus.NewCollector(s.collector)
	reg := prometheus.NewRegistry()
	regCollectors := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewDBStatsCollector(s.db, "databricks"),
		promCollector,
	}
	for i := range regCollectors {
		if err := reg.Register(regCollectors[i]); err != nil {
			return fmt.Errorf("register prometheus collector: %w", err)
		}
	}

	sinks, closeSinks, err := a.alertSinks(reg, s)
	if err != nil {
		return err
	}
	defer closeSinks()

	router := http.NewServeMux()
	router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(a.logger.With(slog.String("service", "prometheus")).Handler(), slog.LevelError),
		Timeout:  time.Second,
	}))
	metricsSrv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Metrics.Host, a.cfg.Metrics.Port),
		Handler:           otelhttp.NewHandler(router, "/", otelhttp.WithTracerProvider(s.tracing)),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog: slog.NewLogLogger(
			a.logger.With(slog.String("service", "metrics_server")).Handler(), slog.LevelError),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("listen on specified port for metrics", slog.Any("error", err))
			cancel()
		}
	}()

	w := worker.NewRefreshWorker(s.collector, promCollector, sinks, a.fl.days,
		a.cfg.RefreshInterval(), a.now, a.logger.With(slog.String("service", "worker")))
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	a.logger.Info("watching",
		slog.String("metrics_addr", metricsSrv.Addr),
		slog.Duration("interval", a.cfg.RefreshInterval()),
		slog.Int("sinks", len(sinks)))

	<-ctx.Done()
	w.Stop()
	<-done

	ctxShutDown, cancelShutDown := context.WithTimeout(context.Background(), a.cfg.Metrics.CloseTimeout)
	defer cancelShutDown()
	if err := metricsSrv.Shutdown(ctxShutDown); err != nil {
		return fmt.Errorf("graceful shutdown for metrics failed: %w", err)
	}

	a.logger.Info("watch exited properly")
	return nil
}

// alertSinks builds the configured sinks. The returned function releases
// them.
func (a *app) alertSinks(reg prometheus.Registerer, s *session) ([]lakemon.AlertSink, func(), error) {
	var (
		sinks   []lakemon.AlertSink
		closers []io.Closer
	)
	if a.cfg.Alert.WebhookURL != "" {
		httpClient := &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(s.tracing)),
		}
		sinks = append(sinks, notifier.NewWebhookNotifier(
			a.cfg.Alert.WebhookURL, a.cfg.Alert.WebhookSecret, httpClient, a.now,
			a.logger.With(slog.String("service", "webhook"))))
	}
	if len(a.cfg.Alert.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			CommonConfig: kafka.CommonConfig{
				Brokers:        a.cfg.Alert.KafkaBrokers,
				ClientID:       "lakemon",
				TracerProvider: s.tracing,
				Logger:         a.logger.With(slog.String("service", "kafka")),
			},
			Reg:  reg,
			Sync: true,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, producer)
		sinks = append(sinks, kafka.NewAlertPublisher(producer, a.cfg.Alert.KafkaTopic,
			a.logger.With(slog.String("service", "kafka"))))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				a.logger.Error("close alert sink", slog.Any("error", err))
			}
		}
	}
	return sinks, closeAll, nil
}
