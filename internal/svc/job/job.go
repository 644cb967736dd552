// Package job implements lakemon.Monitor over the job run history.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/report"
	"github.com/vk-rv/lakemon/internal/systables"
)

// Name identifies the job monitor.
const Name = "job"

// Tables fetched by the job monitor.
const (
	TableRuntime        = "runtime_metrics"
	TableFailures       = "failure_analysis"
	TableClusterCPU     = "cluster_utilization"
	TableCosts          = "job_costs"
	TableRecentActivity = "recent_activity"
)

const topAnomalies = 5

var sources = []systables.Source{
	{Query: systables.JobRuntime, SortBy: "avg_duration_seconds"},
	{Query: systables.JobFailures, SortBy: "failure_rate_percent"},
	{Query: systables.ClusterCPU, SortBy: "avg_cpu_utilization"},
	{Query: systables.JobCosts, SortBy: "total_usage"},
	{Query: systables.RecentJobActivity},
}

// Monitor implements lakemon.Monitor for jobs.
type Monitor struct {
	runner     lakemon.QueryRunner
	thresholds lakemon.ThresholdSource
	logger     *slog.Logger
}

// NewMonitor is a constructor of Monitor.
func NewMonitor(runner lakemon.QueryRunner, thresholds lakemon.ThresholdSource, logger *slog.Logger) *Monitor {
	return &Monitor{
		runner:     runner,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Name returns the monitor name.
func (m *Monitor) Name() string {
	return Name
}

// GetMetrics fetches the job tables for the last days.
func (m *Monitor) GetMetrics(ctx context.Context, days int) lakemon.MetricSet {
	clamped, adjusted := lakemon.ClampDays(days)
	if adjusted {
		m.logger.Warn("day window out of range, clamped",
			slog.Int("requested", days), slog.Int("days", clamped))
	}

	th := m.thresholds.Load()
	set := systables.Fetch(ctx, m.runner, Name, sources,
		systables.Params{Days: clamped, MinPoints: th.MinDataPoints}, m.logger)

	m.logger.Info("job metrics fetched",
		slog.Int("days", clamped),
		slog.Int("rows", set.TotalRows()),
		slog.Int("failed_tables", len(set.Failures())))

	return set
}

// DetectAnomalies flags long running, failing and expensive jobs.
func (m *Monitor) DetectAnomalies(set lakemon.MetricSet) lakemon.Anomalies {
	th := m.thresholds.Load()
	res := lakemon.NewAnomalies(lakemon.LongRunningJobs, lakemon.HighFailureRates, lakemon.ResourceIntensiveJobs)

	rt := set.Table(TableRuntime)
	limit := th.JobDurationMinutes * 60
	for i := range rt.Len() {
		avg, ok := rt.Float(i, "avg_duration_seconds")
		if !ok || avg <= limit {
			continue
		}
		maxDuration, _ := rt.Float(i, "max_duration_seconds")
		res[lakemon.LongRunningJobs] = append(res[lakemon.LongRunningJobs], lakemon.Anomaly{
			Category: lakemon.LongRunningJobs,
			ID:       rt.Text(i, "job_id"),
			Name:     jobName(rt, i),
			Values: map[string]float64{
				"avg_duration_minutes": lakemon.Round(avg/60, 2),
				"max_duration_minutes": lakemon.Round(maxDuration/60, 2),
			},
		})
	}

	fa := set.Table(TableFailures)
	for i := range fa.Len() {
		rate, ok := fa.Float(i, "failure_rate_percent")
		if !ok || rate <= th.FailureRate*100 {
			continue
		}
		failed, _ := fa.Float(i, "failed_runs")
		total, _ := fa.Float(i, "total_runs")
		res[lakemon.HighFailureRates] = append(res[lakemon.HighFailureRates], lakemon.Anomaly{
			Category: lakemon.HighFailureRates,
			ID:       fa.Text(i, "job_id"),
			Name:     jobName(fa, i),
			Values: map[string]float64{
				"failure_rate_percent": rate,
				"failed_runs":          failed,
				"total_runs":           total,
			},
		})
	}

	costs := set.Table(TableCosts)
	if costs.Len() > 1 {
		if cut, ok := costs.Quantile("total_usage", th.ExpensiveQuantile); ok {
			for i := range costs.Len() {
				usage, ok := costs.Float(i, "total_usage")
				if !ok || usage <= cut {
					continue
				}
				res[lakemon.ResourceIntensiveJobs] = append(res[lakemon.ResourceIntensiveJobs], lakemon.Anomaly{
					Category: lakemon.ResourceIntensiveJobs,
					ID:       costs.Text(i, "job_id"),
					Name:     costs.Text(i, "sku_name"),
					Values:   map[string]float64{"total_usage": usage},
				})
			}
		}
	}

	return res
}

// Summarize computes job counts, runtimes and success rates.
func (m *Monitor) Summarize(set lakemon.MetricSet) lakemon.Stats {
	stats := lakemon.Stats{}

	if rt := set.Table(TableRuntime); !rt.Empty() {
		stats["total_jobs"] = float64(rt.Len())
		if avg, ok := rt.Mean("avg_duration_seconds"); ok {
			stats["avg_runtime_minutes"] = avg / 60
		}
		stats["total_runs"] = rt.Sum("total_runs")
	}

	if fa := set.Table(TableFailures); !fa.Empty() {
		if avg, ok := fa.Mean("success_rate_percent"); ok {
			stats[lakemon.StatAvgSuccessRate] = avg
		}
		stats["total_failures"] = fa.Sum("failed_runs")
	}

	return stats
}

// GenerateReport renders already fetched job metrics.
func (m *Monitor) GenerateReport(set lakemon.MetricSet, anomalies lakemon.Anomalies, generatedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Databricks Job Monitoring Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "Period: Last %d days\n\n", set.Days)

	b.WriteString("## Summary Statistics\n")
	summary := summaryLines(set)
	if len(summary) == 0 {
		b.WriteString("- " + report.NoData + "\n")
	}
	for _, line := range summary {
		b.WriteString("- " + line + "\n")
	}

	b.WriteString("\n## Detected Anomalies\n")
	if anomalies.Count() == 0 {
		b.WriteString("\nNo anomalies detected.\n")
	}
	writeAnomalies(&b, "Long Running Jobs", anomalies[lakemon.LongRunningJobs], func(a lakemon.Anomaly) string {
		return "Avg " + lakemon.FormatDuration(a.Values["avg_duration_minutes"]*60) +
			", max " + lakemon.FormatDuration(a.Values["max_duration_minutes"]*60)
	})
	writeAnomalies(&b, "High Failure Rate Jobs", anomalies[lakemon.HighFailureRates], func(a lakemon.Anomaly) string {
		return fmt.Sprintf("%.2f%% failure rate", a.Values["failure_rate_percent"])
	})
	writeAnomalies(&b, "Resource Intensive Jobs", anomalies[lakemon.ResourceIntensiveJobs], func(a lakemon.Anomaly) string {
		return fmt.Sprintf("%.2f units", a.Values["total_usage"])
	})

	for _, section := range []struct {
		title string
		table string
	}{
		{"Job Runtime Details", TableRuntime},
		{"Job Failure Analysis", TableFailures},
		{"Cluster Utilization", TableClusterCPU},
		{"Job Costs", TableCosts},
		{"Recent Activity", TableRecentActivity},
	} {
		fmt.Fprintf(&b, "\n## %s\n", section.title)
		b.WriteString(report.TextTable(set.Table(section.table), -1))
	}

	if failures := set.Failures(); len(failures) > 0 {
		b.WriteString("\n## Failed Queries\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "- %s: %v\n", f.Name, f.Err)
		}
	}

	return b.String()
}

func summaryLines(set lakemon.MetricSet) []string {
	var lines []string

	if rt := set.Table(TableRuntime); !rt.Empty() {
		avg, _ := rt.Mean("avg_duration_seconds")
		lines = append(lines,
			fmt.Sprintf("Total Jobs Monitored: %d", rt.Len()),
			fmt.Sprintf("Average Job Runtime: %.2f minutes", avg/60))
	}

	if fa := set.Table(TableFailures); !fa.Empty() {
		rate, _ := fa.Mean("success_rate_percent")
		lines = append(lines,
			fmt.Sprintf("Average Success Rate: %.2f%%", rate),
			fmt.Sprintf("Total Job Runs: %.0f", fa.Sum("total_runs")),
			fmt.Sprintf("Total Failures: %.0f", fa.Sum("failed_runs")))
	}

	if cu := set.Table(TableClusterCPU); !cu.Empty() {
		cpu, _ := cu.Mean("avg_cpu_utilization")
		mem, _ := cu.Mean("avg_memory_utilization")
		lines = append(lines,
			fmt.Sprintf("Average CPU Utilization: %.2f%%", cpu),
			fmt.Sprintf("Average Memory Utilization: %.2f%%", mem))
	}

	return lines
}

func writeAnomalies(b *strings.Builder, title string, items []lakemon.Anomaly, detail func(lakemon.Anomaly) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s (%d detected)\n", title, len(items))
	for _, a := range items[:min(len(items), topAnomalies)] {
		fmt.Fprintf(b, "- **%s** (ID: %s): %s\n", a.Name, a.ID, detail(a))
	}
}

func jobName(t *lakemon.Table, row int) string {
	if t.Value(row, "job_name") == nil {
		return "Unknown"
	}
	return t.Text(row, "job_name")
}
