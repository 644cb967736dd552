// Package worker provides the background refresh loop of watch mode.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

const sinkTimeout = 30 * time.Second

// MetricsSource collects snapshots and derives summaries and alerts.
type MetricsSource interface {
	GetAllMetrics(ctx context.Context, days int, useCache bool) *lakemon.Snapshot
	Summarize(snap *lakemon.Snapshot) lakemon.Summary
	Alerts(snap *lakemon.Snapshot) lakemon.Alerts
}

// SnapshotObserver receives every refreshed snapshot.
type SnapshotObserver interface {
	Observe(snap *lakemon.Snapshot, summary lakemon.Summary, alerts lakemon.Alerts)
}

// RefreshWorker periodically refreshes the metrics and dispatches alerts.
//
//nolint:govet // grouped by role
type RefreshWorker struct {
	source   MetricsSource
	observer SnapshotObserver
	sinks    []lakemon.AlertSink
	logger   *slog.Logger
	stopCh   chan struct{}
	now      func() time.Time
	interval time.Duration
	days     int
	mu       sync.Mutex
	running  bool
}

// NewRefreshWorker creates a new refresh worker.
func NewRefreshWorker(
	source MetricsSource,
	observer SnapshotObserver,
	sinks []lakemon.AlertSink,
	days int,
	interval time.Duration,
	now func() time.Time,
	logger *slog.Logger,
) *RefreshWorker {
	return &RefreshWorker{
		source:   source,
		observer: observer,
		sinks:    sinks,
		days:     days,
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// Start refreshes immediately and then on every tick until ctx is done or
// Stop is called. It blocks. A stopped worker can be started again.
func (w *RefreshWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.stopCh = stop
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.stopCh == stop {
			w.running = false
		}
		w.mu.Unlock()
	}()

	w.logger.Info("refresh worker started",
		slog.Duration("interval", w.interval), slog.Int("days", w.days), slog.Int("sinks", len(w.sinks)))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("refresh worker stopped due to context cancellation")
			return
		case <-stop:
			w.logger.Info("refresh worker stopped")
			return
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}

// Stop stops the worker.
func (w *RefreshWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.stopCh = nil
	w.running = false
}

// Refresh forces a fresh collection, publishes it to the observer and
// sends critical and warning alerts to every sink. Sink failures are
// logged only.
func (w *RefreshWorker) Refresh(ctx context.Context) {
	snap := w.source.GetAllMetrics(ctx, w.days, false)
	summary := w.source.Summarize(snap)
	alerts := w.source.Alerts(snap)
	if w.observer != nil {
		w.observer.Observe(snap, summary, alerts)
	}

	w.logger.Info("metrics refreshed",
		slog.String("snapshot_id", snap.ID),
		slog.String("health", string(summary.Health.Status)),
		slog.Int("critical", len(alerts.Critical)),
		slog.Int("warning", len(alerts.Warning)),
		slog.Int("info", len(alerts.Info)),
	)

	urgent := make([]lakemon.Alert, 0, len(alerts.Critical)+len(alerts.Warning))
	urgent = append(urgent, alerts.Critical...)
	urgent = append(urgent, alerts.Warning...)
	if len(urgent) == 0 || len(w.sinks) == 0 {
		return
	}

	batch := &lakemon.AlertBatch{
		GeneratedAt: w.now(),
		SnapshotID:  snap.ID,
		Health:      summary.Health,
		Alerts:      urgent,
		Days:        snap.Days,
	}
	if err := w.dispatch(ctx, batch); err != nil {
		w.logger.Error("failed to dispatch alerts", slog.Any("error", err))
	}
}

// dispatch sends the batch to every sink concurrently. One failing sink
// does not cancel the others.
func (w *RefreshWorker) dispatch(ctx context.Context, batch *lakemon.AlertBatch) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range w.sinks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			defer cancel()

			if err := sink.Send(sctx, batch); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker: sink %s: %w", sink.Name(), err))
				mu.Unlock()
				return nil
			}
			w.logger.Debug("alerts dispatched", slog.String("sink", sink.Name()), slog.Int("alerts", len(batch.Alerts)))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
