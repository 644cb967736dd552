package mock

import (
	"context"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// Monitor is a mock implementation of lakemon.Monitor.
type Monitor struct {
	GetMetricsFn      func(ctx context.Context, days int) lakemon.MetricSet
	DetectAnomaliesFn func(set lakemon.MetricSet) lakemon.Anomalies
	SummarizeFn       func(set lakemon.MetricSet) lakemon.Stats
	GenerateReportFn  func(set lakemon.MetricSet, anomalies lakemon.Anomalies, generatedAt time.Time) string
	MonitorName       string
}

func (m *Monitor) Name() string {
	return m.MonitorName
}

func (m *Monitor) GetMetrics(ctx context.Context, days int) lakemon.MetricSet {
	return m.GetMetricsFn(ctx, days)
}

func (m *Monitor) DetectAnomalies(set lakemon.MetricSet) lakemon.Anomalies {
	if m.DetectAnomaliesFn == nil {
		return lakemon.Anomalies{}
	}
	return m.DetectAnomaliesFn(set)
}

func (m *Monitor) Summarize(set lakemon.MetricSet) lakemon.Stats {
	if m.SummarizeFn == nil {
		return lakemon.Stats{}
	}
	return m.SummarizeFn(set)
}

func (m *Monitor) GenerateReport(set lakemon.MetricSet, anomalies lakemon.Anomalies, generatedAt time.Time) string {
	return m.GenerateReportFn(set, anomalies, generatedAt)
}

// AlertSink is a mock implementation of lakemon.AlertSink.
type AlertSink struct {
	SendFn   func(ctx context.Context, batch *lakemon.AlertBatch) error
	SinkName string
}

func (m *AlertSink) Name() string {
	return m.SinkName
}

func (m *AlertSink) Send(ctx context.Context, batch *lakemon.AlertBatch) error {
	return m.SendFn(ctx, batch)
}
