package mock

import (
	"context"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// MetricsSource is a mock implementation of worker.MetricsSource.
type MetricsSource struct {
	GetAllMetricsFn func(ctx context.Context, days int, useCache bool) *lakemon.Snapshot
	SummarizeFn     func(snap *lakemon.Snapshot) lakemon.Summary
	AlertsFn        func(snap *lakemon.Snapshot) lakemon.Alerts
}

func (m *MetricsSource) GetAllMetrics(ctx context.Context, days int, useCache bool) *lakemon.Snapshot {
	return m.GetAllMetricsFn(ctx, days, useCache)
}

func (m *MetricsSource) Summarize(snap *lakemon.Snapshot) lakemon.Summary {
	if m.SummarizeFn == nil {
		return lakemon.Summary{}
	}
	return m.SummarizeFn(snap)
}

func (m *MetricsSource) Alerts(snap *lakemon.Snapshot) lakemon.Alerts {
	if m.AlertsFn == nil {
		return lakemon.Alerts{}
	}
	return m.AlertsFn(snap)
}

// SnapshotObserver is a mock implementation of worker.SnapshotObserver.
type SnapshotObserver struct {
	ObserveFn func(snap *lakemon.Snapshot, summary lakemon.Summary, alerts lakemon.Alerts)
}

func (m *SnapshotObserver) Observe(snap *lakemon.Snapshot, summary lakemon.Summary, alerts lakemon.Alerts) {
	m.ObserveFn(snap, summary, alerts)
}
