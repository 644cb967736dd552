// Package lakemon holds the domain model of the Databricks system tables
// monitor: result tables, metric sets, anomalies, alerts, thresholds and the
// health score, plus the interfaces the services are wired through.
package lakemon

import (
	"context"
	"time"
)

// QueryRunner executes SQL against the warehouse. Failures are reported
// inside the Result rather than as a second return value so that callers
// can keep going with the remaining queries.
type QueryRunner interface {
	Query(ctx context.Context, name, query string) Result
}

// Monitor fetches one domain of system tables and flags anomalies in it.
type Monitor interface {
	// Name identifies the monitor, e.g. "job" or "cluster".
	Name() string
	// GetMetrics fetches every table of the domain for the last days.
	GetMetrics(ctx context.Context, days int) MetricSet
	// DetectAnomalies flags rows that cross the configured thresholds.
	DetectAnomalies(set MetricSet) Anomalies
	// Summarize condenses the tables into named statistics.
	Summarize(set MetricSet) Stats
	// GenerateReport renders already fetched metrics as text.
	GenerateReport(set MetricSet, anomalies Anomalies, generatedAt time.Time) string
}

// AlertSink delivers alerts outside of the process.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, batch *AlertBatch) error
}

// AlertBatch is the unit of alert delivery.
type AlertBatch struct {
	GeneratedAt time.Time `json:"generated_at"`
	SnapshotID  string    `json:"snapshot_id"`
	Health      Health    `json:"health"`
	Alerts      []Alert   `json:"alerts"`
	Days        int       `json:"days"`
}

// Record is a message to be published to a queue.
type Record struct {
	Topic       string
	OrderingKey []byte
	Value       []byte
}
