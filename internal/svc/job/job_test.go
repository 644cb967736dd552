package job_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/mock"
	"github.com/vk-rv/lakemon/internal/svc/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runtimeTable() *lakemon.Table {
	return lakemon.NewTable(job.TableRuntime,
		[]string{"job_id", "job_name", "total_runs", "avg_duration_seconds", "max_duration_seconds"},
		[]any{"1", "nightly-etl", int64(10), 600.0, 900.0},
		[]any{"2", "backfill", int64(4), 4200.0, 7200.0},
		[]any{"3", nil, int64(2), 3600.0, 3600.0},
	)
}

func failureTable() *lakemon.Table {
	return lakemon.NewTable(job.TableFailures,
		[]string{"job_id", "job_name", "total_runs", "failed_runs", "success_rate_percent", "failure_rate_percent"},
		[]any{"1", "nightly-etl", int64(10), int64(0), 100.0, 0.0},
		[]any{"2", "backfill", int64(4), int64(1), 75.0, 25.0},
	)
}

func costTable() *lakemon.Table {
	rows := make([][]any, 0, 10)
	for i := 1; i <= 10; i++ {
		rows = append(rows, []any{string(rune('a' + i - 1)), "JOBS_COMPUTE", float64(i)})
	}
	return lakemon.NewTable(job.TableCosts, []string{"job_id", "sku_name", "total_usage"}, rows...)
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	runner := mock.TableRunner(map[string]*lakemon.Table{
		job.TableRuntime: runtimeTable(),
		job.TableCosts:   costTable(),
	}, map[string]error{
		job.TableFailures: errors.New("warehouse: query failure_analysis: timeout"),
	})

	m := job.NewMonitor(runner, lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	set := m.GetMetrics(t.Context(), 7)

	assert.Equal(t, job.Name, set.Monitor)
	assert.Equal(t, 7, set.Days)
	assert.Equal(t, []string{
		job.TableRuntime, job.TableFailures, job.TableClusterCPU, job.TableCosts, job.TableRecentActivity,
	}, runner.Calls())

	failures := set.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, job.TableFailures, failures[0].Name)
	assert.True(t, set.Table(job.TableFailures).Empty())

	rt := set.Table(job.TableRuntime)
	require.Equal(t, 3, rt.Len())
	assert.Equal(t, "backfill", rt.Text(0, "job_name"))
	assert.Equal(t, "1", rt.Text(2, "job_id"))

	costs := set.Table(job.TableCosts)
	first, _ := costs.Float(0, "total_usage")
	assert.InDelta(t, 10.0, first, 1e-9)
}

func TestGetMetricsClampsDays(t *testing.T) {
	t.Parallel()

	var queries []string
	runner := &mock.QueryRunner{QueryFn: func(_ context.Context, name, query string) lakemon.Result {
		queries = append(queries, query)
		return lakemon.Result{Name: name, Query: query, Table: &lakemon.Table{Name: name}}
	}}

	m := job.NewMonitor(runner, lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	set := m.GetMetrics(t.Context(), 365)

	assert.Equal(t, 90, set.Days)
	require.NotEmpty(t, queries)
	assert.Contains(t, queries[0], "date_sub(current_timestamp(), 90)")
	assert.True(t, set.Empty())
	assert.Empty(t, set.Failures())
}

func TestDetectAnomalies(t *testing.T) {
	t.Parallel()

	set := lakemon.MetricSet{Monitor: job.Name, Days: 7, Results: []lakemon.Result{
		{Name: job.TableRuntime, Table: runtimeTable()},
		{Name: job.TableFailures, Table: failureTable()},
		{Name: job.TableCosts, Table: costTable()},
	}}

	store := lakemon.NewThresholdStore(lakemon.DefaultThresholds())
	m := job.NewMonitor(mock.TableRunner(nil, nil), store, discardLogger())

	anomalies := m.DetectAnomalies(set)

	long := anomalies[lakemon.LongRunningJobs]
	require.Len(t, long, 1)
	assert.Equal(t, "2", long[0].ID)
	assert.Equal(t, "backfill", long[0].Name)
	assert.InDelta(t, 70.0, long[0].Values["avg_duration_minutes"], 1e-9)
	assert.InDelta(t, 120.0, long[0].Values["max_duration_minutes"], 1e-9)

	failing := anomalies[lakemon.HighFailureRates]
	require.Len(t, failing, 1)
	assert.Equal(t, "2", failing[0].ID)
	assert.InDelta(t, 25.0, failing[0].Values["failure_rate_percent"], 1e-9)

	expensive := anomalies[lakemon.ResourceIntensiveJobs]
	require.Len(t, expensive, 1)
	assert.Equal(t, "j", expensive[0].ID)

	// thresholds are read on every call
	th := lakemon.DefaultThresholds()
	th.JobDurationMinutes = 120
	th.FailureRate = 0.5
	store.Store(th)

	anomalies = m.DetectAnomalies(set)
	assert.Empty(t, anomalies[lakemon.LongRunningJobs])
	assert.Empty(t, anomalies[lakemon.HighFailureRates])
}

func TestDetectAnomaliesEmptySet(t *testing.T) {
	t.Parallel()

	m := job.NewMonitor(mock.TableRunner(nil, nil), lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	anomalies := m.DetectAnomalies(lakemon.MetricSet{Monitor: job.Name})

	assert.Equal(t, 0, anomalies.Count())
	assert.Equal(t, []lakemon.Category{
		lakemon.HighFailureRates, lakemon.LongRunningJobs, lakemon.ResourceIntensiveJobs,
	}, anomalies.Categories())
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	m := job.NewMonitor(mock.TableRunner(nil, nil), lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	stats := m.Summarize(lakemon.MetricSet{Results: []lakemon.Result{
		{Name: job.TableRuntime, Table: runtimeTable()},
		{Name: job.TableFailures, Table: failureTable()},
	}})

	assert.InDelta(t, 3.0, stats["total_jobs"], 1e-9)
	assert.InDelta(t, 2800.0/60, stats["avg_runtime_minutes"], 1e-9)
	assert.InDelta(t, 16.0, stats["total_runs"], 1e-9)
	assert.InDelta(t, 87.5, stats[lakemon.StatAvgSuccessRate], 1e-9)
	assert.InDelta(t, 1.0, stats["total_failures"], 1e-9)

	assert.Empty(t, m.Summarize(lakemon.MetricSet{}))
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()

	m := job.NewMonitor(mock.TableRunner(nil, nil), lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())
	generatedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	set := lakemon.MetricSet{Monitor: job.Name, Days: 7, Results: []lakemon.Result{
		{Name: job.TableRuntime, Table: runtimeTable()},
		{Name: job.TableFailures, Table: failureTable()},
		{Name: job.TableCosts, Table: &lakemon.Table{Name: job.TableCosts}, Err: errors.New("permission denied")},
	}}

	out := m.GenerateReport(set, m.DetectAnomalies(set), generatedAt)

	assert.Contains(t, out, "# Databricks Job Monitoring Report")
	assert.Contains(t, out, "Generated: 2025-06-01 12:30:00")
	assert.Contains(t, out, "Period: Last 7 days")
	assert.Contains(t, out, "- Total Jobs Monitored: 3")
	assert.Contains(t, out, "- Average Success Rate: 87.50%")
	assert.Contains(t, out, "### Long Running Jobs (1 detected)")
	assert.Contains(t, out, "- **backfill** (ID: 2): Avg 1.2h, max 2.0h")
	assert.Contains(t, out, "### High Failure Rate Jobs (1 detected)")
	assert.Contains(t, out, "- job_costs: permission denied")
	assert.Contains(t, out, "nightly-etl")
}

func TestGenerateReportEmpty(t *testing.T) {
	t.Parallel()

	m := job.NewMonitor(mock.TableRunner(nil, nil), lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	out := m.GenerateReport(lakemon.MetricSet{Monitor: job.Name, Days: 1}, lakemon.Anomalies{}, time.Time{})

	assert.Contains(t, out, "No anomalies detected.")
	assert.Equal(t, 6, strings.Count(out, "No data available"))
	assert.NotContains(t, out, "Failed Queries")
}
