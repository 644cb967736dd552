// Package cluster implements lakemon.Monitor over cluster node telemetry
// and billing usage.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/report"
	"github.com/vk-rv/lakemon/internal/systables"
)

// Name identifies the cluster monitor.
const Name = "cluster"

// Tables fetched by the cluster monitor.
const (
	TableUtilization = "cluster_utilization"
	TableNodeTypes   = "node_types"
	TableEfficiency  = "efficiency_metrics"
	TableCosts       = "cost_analysis"
)

const (
	// NoClusterData is reported by the analysis when there is nothing to analyse.
	NoClusterData = "No cluster data available for analysis"
	// NoIssues is reported when the analysis found nothing.
	NoIssues = "No significant performance issues detected"
	// WellOptimized is the recommendation given when no rule fires.
	WellOptimized = "System appears well-optimized"
)

const topAnomalies = 5

var sources = []systables.Source{
	{Query: systables.ClusterUtilization, SortBy: "avg_cpu_utilization"},
	{Query: systables.NodeTypes},
	{Query: systables.ClusterEfficiency, SortBy: "avg_cpu_utilization"},
	{Query: systables.ClusterCosts, SortBy: "total_usage"},
}

// Monitor implements lakemon.Monitor for clusters.
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

// GetMetrics fetches the cluster tables for the last days.
func (m *Monitor) GetMetrics(ctx context.Context, days int) lakemon.MetricSet {
	clamped, adjusted := lakemon.ClampDays(days)
	if adjusted {
		m.logger.Warn("day window out of range, clamped",
			slog.Int("requested", days), slog.Int("days", clamped))
	}

	th := m.thresholds.Load()
	set := systables.Fetch(ctx, m.runner, Name, sources,
		systables.Params{Days: clamped, MinPoints: th.MinDataPoints}, m.logger)

	m.logger.Info("cluster metrics fetched",
		slog.Int("days", clamped),
		slog.Int("rows", set.TotalRows()),
		slog.Int("failed_tables", len(set.Failures())))

	return set
}

// DetectAnomalies flags under and over utilised, inefficient and expensive
// clusters.
func (m *Monitor) DetectAnomalies(set lakemon.MetricSet) lakemon.Anomalies {
	th := m.thresholds.Load()
	res := lakemon.NewAnomalies(
		lakemon.UnderutilizedClusters,
		lakemon.OverutilizedClusters,
		lakemon.ExpensiveClusters,
		lakemon.InefficientClusters,
	)

	ut := set.Table(TableUtilization)
	for i := range ut.Len() {
		cpu, okCPU := ut.Float(i, "avg_cpu_utilization")
		mem, okMem := ut.Float(i, "avg_memory_utilization")
		if !okCPU && !okMem {
			continue
		}
		a := lakemon.Anomaly{
			ID:     ut.Text(i, "cluster_id"),
			Name:   clusterName(ut, i),
			Values: make(map[string]float64, 2),
		}
		if okCPU {
			a.Values["avg_cpu_utilization"] = lakemon.Round(cpu, 2)
		}
		if okMem {
			a.Values["avg_memory_utilization"] = lakemon.Round(mem, 2)
		}
		if okCPU && okMem && cpu < th.UnderutilizedCPU && mem < th.UnderutilizedMemory {
			a.Category = lakemon.UnderutilizedClusters
			res[a.Category] = append(res[a.Category], a)
		}
		if (okCPU && cpu > th.OverutilizedCPU) || (okMem && mem > th.OverutilizedMemory) {
			a.Category = lakemon.OverutilizedClusters
			res[a.Category] = append(res[a.Category], a)
		}
	}

	eff := set.Table(TableEfficiency)
	for i := range eff.Len() {
		if eff.Text(i, "efficiency_category") != "Underutilized" {
			continue
		}
		cpu, _ := eff.Float(i, "avg_cpu_utilization")
		lowCPU, _ := eff.Float(i, "low_cpu_percent")
		lowMem, _ := eff.Float(i, "low_memory_percent")
		res[lakemon.InefficientClusters] = append(res[lakemon.InefficientClusters], lakemon.Anomaly{
			Category: lakemon.InefficientClusters,
			ID:       eff.Text(i, "cluster_id"),
			Name:     eff.Text(i, "cluster_id"),
			Values: map[string]float64{
				"avg_cpu_utilization": lakemon.Round(cpu, 2),
				"low_cpu_percent":     lowCPU,
				"low_memory_percent":  lowMem,
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
				res[lakemon.ExpensiveClusters] = append(res[lakemon.ExpensiveClusters], lakemon.Anomaly{
					Category: lakemon.ExpensiveClusters,
					ID:       costs.Text(i, "cluster_id"),
					Name:     clusterName(costs, i),
					Values:   map[string]float64{"total_usage": lakemon.Round(usage, 2)},
				})
			}
		}
	}

	return res
}

// Summarize computes cluster counts and utilisation averages and peaks.
func (m *Monitor) Summarize(set lakemon.MetricSet) lakemon.Stats {
	stats := lakemon.Stats{}

	ut := set.Table(TableUtilization)
	if ut.Empty() {
		return stats
	}

	stats["total_clusters"] = float64(ut.NUnique("cluster_id"))
	if v, ok := ut.Mean("avg_cpu_utilization"); ok {
		stats[lakemon.StatAvgCPU] = v
	}
	if v, ok := ut.Mean("avg_memory_utilization"); ok {
		stats["avg_memory_utilization"] = v
	}
	if v, ok := ut.Max("peak_cpu_utilization"); ok {
		stats["peak_cpu_utilization"] = v
	}
	if v, ok := ut.Max("peak_memory_utilization"); ok {
		stats["peak_memory_utilization"] = v
	}

	return stats
}

// AnalyzeIssues inspects per instance utilisation and reports saturated,
// waiting and idle clusters. It returns nil when nothing was found.
func (m *Monitor) AnalyzeIssues(ut *lakemon.Table) []lakemon.Issue {
	th := m.thresholds.Load()
	var issues []lakemon.Issue

	for i := range ut.Len() {
		id := ut.Text(i, "cluster_id")
		if cpu, ok := ut.Float(i, "avg_cpu_utilization"); ok && cpu > th.CPUPercent {
			issues = append(issues, lakemon.Issue{
				Severity: severityAbove(cpu, th.CriticalCPU),
				Text:     fmt.Sprintf("High CPU: Cluster %s - %.1f%%", id, cpu),
			})
		}
		if mem, ok := ut.Float(i, "avg_memory_utilization"); ok && mem > th.MemoryPercent {
			issues = append(issues, lakemon.Issue{
				Severity: severityAbove(mem, th.CriticalMemory),
				Text:     fmt.Sprintf("High Memory: Cluster %s - %.1f%%", id, mem),
			})
		}
	}

	for i := range ut.Len() {
		if wait, ok := ut.Float(i, "avg_cpu_wait"); ok && wait > th.CPUWaitPercent {
			issues = append(issues, lakemon.Issue{
				Severity: lakemon.SeverityWarning,
				Text:     fmt.Sprintf("High CPU Wait: Cluster %s - %.1f%%", ut.Text(i, "cluster_id"), wait),
			})
		}
	}

	for i := range ut.Len() {
		if cpu, ok := ut.Float(i, "avg_cpu_utilization"); ok && cpu < th.UnderutilizedCPU {
			issues = append(issues, lakemon.Issue{
				Severity: lakemon.SeverityInfo,
				Text:     fmt.Sprintf("Underutilized: Cluster %s - Only %.1f%% CPU", ut.Text(i, "cluster_id"), cpu),
			})
		}
	}

	return issues
}

// Recommend derives sizing advice from per instance utilisation. It returns
// nil for an empty table.
func (m *Monitor) Recommend(ut *lakemon.Table) []lakemon.Recommendation {
	if ut.Empty() {
		return nil
	}
	th := m.thresholds.Load()

	var lowUsage, highUsage, highMemory, imbalanced int
	for i := range ut.Len() {
		cpu, okCPU := ut.Float(i, "avg_cpu_utilization")
		mem, okMem := ut.Float(i, "avg_memory_utilization")
		if okCPU && cpu < th.LowUsageCPU {
			lowUsage++
		}
		if okCPU && cpu > th.OverutilizedCPU {
			highUsage++
		}
		if okMem && mem > th.OverutilizedMemory {
			highMemory++
		}
		if okCPU && okMem && math.Abs(cpu-mem) > th.ImbalancePercent {
			imbalanced++
		}
	}

	var recs []lakemon.Recommendation
	if lowUsage > 0 {
		recs = append(recs, lakemon.Recommendation{Theme: lakemon.ThemeCost,
			Text: fmt.Sprintf("%d clusters with <%.0f%% CPU usage could be downsized", lowUsage, th.LowUsageCPU)})
	}
	if highUsage > 0 {
		recs = append(recs, lakemon.Recommendation{Theme: lakemon.ThemePerformance,
			Text: fmt.Sprintf("%d clusters with >%.0f%% CPU usage may need scaling", highUsage, th.OverutilizedCPU)})
	}
	if highMemory > 0 {
		recs = append(recs, lakemon.Recommendation{Theme: lakemon.ThemeMemory,
			Text: fmt.Sprintf("%d clusters with >%.0f%% memory usage need attention", highMemory, th.OverutilizedMemory)})
	}
	if imbalanced > 0 {
		recs = append(recs, lakemon.Recommendation{Theme: lakemon.ThemeBalance,
			Text: fmt.Sprintf("%d clusters show CPU/Memory imbalance", imbalanced)})
	}
	if len(recs) == 0 {
		recs = append(recs, lakemon.Recommendation{Theme: lakemon.ThemeOther, Text: WellOptimized})
	}
	return recs
}

// GenerateReport renders already fetched cluster metrics.
func (m *Monitor) GenerateReport(set lakemon.MetricSet, anomalies lakemon.Anomalies, generatedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cluster Monitoring Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "Period: Last %d days\n\n", set.Days)

	b.WriteString("## Cluster Summary\n")
	ut := set.Table(TableUtilization)
	if ut.Empty() {
		b.WriteString("- " + report.NoData + "\n")
	} else {
		cpu, _ := ut.Mean("avg_cpu_utilization")
		mem, _ := ut.Mean("avg_memory_utilization")
		fmt.Fprintf(&b, "- Total Clusters Monitored: %d\n", ut.NUnique("cluster_id"))
		fmt.Fprintf(&b, "- Average CPU Utilization: %.1f%%\n", cpu)
		fmt.Fprintf(&b, "- Average Memory Utilization: %.1f%%\n", mem)
	}

	b.WriteString("\n## Detected Issues\n")
	if anomalies.Count() == 0 {
		b.WriteString("\nNo anomalies detected.\n")
	}
	utilization := func(a lakemon.Anomaly) string {
		var parts []string
		if v, ok := a.Values["avg_cpu_utilization"]; ok {
			parts = append(parts, fmt.Sprintf("CPU %.2f%%", v))
		}
		if v, ok := a.Values["avg_memory_utilization"]; ok {
			parts = append(parts, fmt.Sprintf("Memory %.2f%%", v))
		}
		return strings.Join(parts, ", ")
	}
	writeAnomalies(&b, "Underutilized Clusters", anomalies[lakemon.UnderutilizedClusters], utilization)
	writeAnomalies(&b, "Overutilized Clusters", anomalies[lakemon.OverutilizedClusters], utilization)
	writeAnomalies(&b, "Inefficient Clusters", anomalies[lakemon.InefficientClusters], func(a lakemon.Anomaly) string {
		return fmt.Sprintf("low CPU %.2f%% of the time", a.Values["low_cpu_percent"])
	})
	writeAnomalies(&b, "Expensive Clusters", anomalies[lakemon.ExpensiveClusters], func(a lakemon.Anomaly) string {
		return fmt.Sprintf("%.2f units", a.Values["total_usage"])
	})

	b.WriteString("\n## Performance Issues\n")
	issues := m.AnalyzeIssues(ut)
	switch {
	case ut.Empty():
		b.WriteString(NoClusterData + "\n")
	case len(issues) == 0:
		b.WriteString(NoIssues + "\n")
	}
	for _, issue := range issues {
		fmt.Fprintf(&b, "- [%s] %s\n", strings.ToUpper(string(issue.Severity)), issue.Text)
	}

	b.WriteString("\n## Recommendations\n")
	recs := m.Recommend(ut)
	if len(recs) == 0 {
		b.WriteString(report.NoData + "\n")
	}
	for _, rec := range recs {
		fmt.Fprintf(&b, "- %s: %s\n", rec.Theme, rec.Text)
	}

	for _, section := range []struct {
		title string
		table string
	}{
		{"Cluster Utilization", TableUtilization},
		{"Efficiency Metrics", TableEfficiency},
		{"Cost Analysis", TableCosts},
		{"Node Types", TableNodeTypes},
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

func severityAbove(v, critical float64) lakemon.Severity {
	if v > critical {
		return lakemon.SeverityCritical
	}
	return lakemon.SeverityWarning
}

func writeAnomalies(b *strings.Builder, title string, items []lakemon.Anomaly, detail func(lakemon.Anomaly) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s (%d found)\n", title, len(items))
	for _, a := range items[:min(len(items), topAnomalies)] {
		fmt.Fprintf(b, "- **%s** (ID: %s): %s\n", a.Name, a.ID, detail(a))
	}
}

func clusterName(t *lakemon.Table, row int) string {
	if t.Value(row, "cluster_name") == nil {
		return "Unknown"
	}
	return t.Text(row, "cluster_name")
}
