package cluster_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/mock"
	"github.com/vk-rv/lakemon/internal/svc/cluster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMonitor(store *lakemon.ThresholdStore) *cluster.Monitor {
	if store == nil {
		store = lakemon.NewThresholdStore(lakemon.DefaultThresholds())
	}
	return cluster.NewMonitor(mock.TableRunner(nil, nil), store, discardLogger())
}

var utilizationColumns = []string{
	"cluster_id", "cluster_name", "avg_cpu_utilization", "peak_cpu_utilization",
	"avg_cpu_wait", "avg_memory_utilization", "peak_memory_utilization",
}

func utilizationSet(rows ...[]any) lakemon.MetricSet {
	return lakemon.MetricSet{Monitor: cluster.Name, Days: 7, Results: []lakemon.Result{
		{Name: cluster.TableUtilization, Table: lakemon.NewTable(cluster.TableUtilization, utilizationColumns, rows...)},
	}}
}

func TestDetectUtilizationAnomalies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cpu, mem      float64
		underutilized bool
		overutilized  bool
	}{
		{name: "Idle", cpu: 15, mem: 25, underutilized: true},
		{name: "CPUSaturated", cpu: 90, mem: 50, overutilized: true},
		{name: "MemorySaturated", cpu: 50, mem: 91, overutilized: true},
		{name: "Balanced", cpu: 50, mem: 50},
		{name: "IdleCPUBusyMemory", cpu: 15, mem: 60},
		{name: "AtOverutilizedBoundary", cpu: 85, mem: 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			set := utilizationSet([]any{"c-1", "etl", tt.cpu, tt.cpu, 1.0, tt.mem, tt.mem})

			anomalies := newMonitor(nil).DetectAnomalies(set)

			assert.Equal(t, tt.underutilized, len(anomalies[lakemon.UnderutilizedClusters]) == 1)
			assert.Equal(t, tt.overutilized, len(anomalies[lakemon.OverutilizedClusters]) == 1)
			assert.Len(t, anomalies, 4)
		})
	}
}

func TestDetectAnomaliesEfficiencyAndCost(t *testing.T) {
	t.Parallel()

	costRows := make([][]any, 0, 10)
	for i := 1; i <= 10; i++ {
		costRows = append(costRows, []any{string(rune('a' + i - 1)), nil, float64(i * 10)})
	}

	set := lakemon.MetricSet{Monitor: cluster.Name, Results: []lakemon.Result{
		{Name: cluster.TableEfficiency, Table: lakemon.NewTable(cluster.TableEfficiency,
			[]string{"cluster_id", "avg_cpu_utilization", "low_cpu_percent", "low_memory_percent", "efficiency_category"},
			[]any{"c-1", 8.123, 92.0, 75.0, "Underutilized"},
			[]any{"c-2", 55.0, 0.0, 0.0, "Normal"},
		)},
		{Name: cluster.TableCosts, Table: lakemon.NewTable(cluster.TableCosts,
			[]string{"cluster_id", "cluster_name", "total_usage"}, costRows...)},
	}}

	anomalies := newMonitor(nil).DetectAnomalies(set)

	want := []lakemon.Anomaly{{
		Category: lakemon.InefficientClusters,
		ID:       "c-1",
		Name:     "c-1",
		Values:   map[string]float64{"avg_cpu_utilization": 8.12, "low_cpu_percent": 92, "low_memory_percent": 75},
	}}
	if diff := cmp.Diff(want, anomalies[lakemon.InefficientClusters]); diff != "" {
		t.Errorf("inefficient clusters mismatch (-want +got):\n%s", diff)
	}

	expensive := anomalies[lakemon.ExpensiveClusters]
	require.Len(t, expensive, 1)
	assert.Equal(t, "j", expensive[0].ID)
	assert.Equal(t, "Unknown", expensive[0].Name)
}

func TestThresholdsReadPerCall(t *testing.T) {
	t.Parallel()

	store := lakemon.NewThresholdStore(lakemon.DefaultThresholds())
	m := newMonitor(store)
	set := utilizationSet([]any{"c-1", "etl", 70.0, 70.0, 1.0, 50.0, 50.0})

	assert.Empty(t, m.DetectAnomalies(set)[lakemon.OverutilizedClusters])

	th := lakemon.DefaultThresholds()
	th.OverutilizedCPU = 60
	store.Store(th)

	assert.Len(t, m.DetectAnomalies(set)[lakemon.OverutilizedClusters], 1)
}

func TestGetMetricsIsolatesFailures(t *testing.T) {
	t.Parallel()

	runner := mock.TableRunner(map[string]*lakemon.Table{
		cluster.TableUtilization: lakemon.NewTable(cluster.TableUtilization, utilizationColumns,
			[]any{"c-1", "etl", 10.0, 20.0, 1.0, 20.0, 30.0},
			[]any{"c-2", "ml", 95.0, 99.0, 1.0, 70.0, 80.0},
		),
	}, map[string]error{
		cluster.TableNodeTypes: lakemon.ErrNoConnection,
		cluster.TableCosts:     errors.New("permission denied on system.billing.usage"),
	})

	m := cluster.NewMonitor(runner, lakemon.NewThresholdStore(lakemon.DefaultThresholds()), discardLogger())

	set := m.GetMetrics(t.Context(), 0)

	assert.Equal(t, 1, set.Days)
	assert.Len(t, set.Results, 4)
	assert.Len(t, set.Failures(), 2)
	assert.Equal(t, map[string]int{
		cluster.TableUtilization: 2,
		cluster.TableNodeTypes:   0,
		cluster.TableEfficiency:  0,
		cluster.TableCosts:       0,
	}, set.TableCounts())
	assert.Equal(t, "c-2", set.Table(cluster.TableUtilization).Text(0, "cluster_id"))

	res, ok := set.Result(cluster.TableNodeTypes)
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, lakemon.ErrNoConnection)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	set := utilizationSet(
		[]any{"c-1", "etl", 10.0, 20.0, 1.0, 20.0, 30.0},
		[]any{"c-1", "etl", 30.0, 60.0, 1.0, 40.0, 45.0},
		[]any{"c-2", "ml", 95.0, 99.0, 1.0, 90.0, 97.0},
	)

	stats := newMonitor(nil).Summarize(set)

	assert.InDelta(t, 2.0, stats["total_clusters"], 1e-9)
	assert.InDelta(t, 45.0, stats[lakemon.StatAvgCPU], 1e-9)
	assert.InDelta(t, 50.0, stats["avg_memory_utilization"], 1e-9)
	assert.InDelta(t, 99.0, stats["peak_cpu_utilization"], 1e-9)
	assert.InDelta(t, 97.0, stats["peak_memory_utilization"], 1e-9)
}

func TestAnalyzeIssues(t *testing.T) {
	t.Parallel()

	ut := lakemon.NewTable(cluster.TableUtilization, utilizationColumns,
		[]any{"hot", "a", 92.0, 99.0, 2.0, 96.0, 99.0},
		[]any{"warm", "b", 82.0, 90.0, 20.0, 86.0, 90.0},
		[]any{"idle", "c", 5.0, 9.0, 0.0, 10.0, 12.0},
	)

	issues := newMonitor(nil).AnalyzeIssues(ut)

	want := []lakemon.Issue{
		{Severity: lakemon.SeverityCritical, Text: "High CPU: Cluster hot - 92.0%"},
		{Severity: lakemon.SeverityCritical, Text: "High Memory: Cluster hot - 96.0%"},
		{Severity: lakemon.SeverityWarning, Text: "High CPU: Cluster warm - 82.0%"},
		{Severity: lakemon.SeverityWarning, Text: "High Memory: Cluster warm - 86.0%"},
		{Severity: lakemon.SeverityWarning, Text: "High CPU Wait: Cluster warm - 20.0%"},
		{Severity: lakemon.SeverityInfo, Text: "Underutilized: Cluster idle - Only 5.0% CPU"},
	}
	if diff := cmp.Diff(want, issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, newMonitor(nil).AnalyzeIssues(&lakemon.Table{}))
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		table *lakemon.Table
		want  []lakemon.Recommendation
	}{
		{
			name:  "Empty",
			table: nil,
			want:  nil,
		},
		{
			name:  "WellOptimized",
			table: lakemon.NewTable("u", utilizationColumns, []any{"c", "n", 50.0, 60.0, 1.0, 55.0, 60.0}),
			want:  []lakemon.Recommendation{{Theme: lakemon.ThemeOther, Text: cluster.WellOptimized}},
		},
		{
			name: "EveryRule",
			table: lakemon.NewTable("u", utilizationColumns,
				[]any{"low", "n", 10.0, 10.0, 1.0, 60.0, 60.0},
				[]any{"cpu", "n", 90.0, 95.0, 1.0, 40.0, 50.0},
				[]any{"mem", "n", 50.0, 60.0, 1.0, 95.0, 97.0},
			),
			want: []lakemon.Recommendation{
				{Theme: lakemon.ThemeCost, Text: "1 clusters with <30% CPU usage could be downsized"},
				{Theme: lakemon.ThemePerformance, Text: "1 clusters with >85% CPU usage may need scaling"},
				{Theme: lakemon.ThemeMemory, Text: "1 clusters with >90% memory usage need attention"},
				{Theme: lakemon.ThemeBalance, Text: "3 clusters show CPU/Memory imbalance"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := newMonitor(nil).Recommend(tt.table)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()

	m := newMonitor(nil)
	set := utilizationSet(
		[]any{"c-1", "etl", 15.0, 20.0, 1.0, 25.0, 30.0},
		[]any{"c-2", nil, 90.0, 99.0, 1.0, 50.0, 60.0},
	)

	out := m.GenerateReport(set, m.DetectAnomalies(set), time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "# Cluster Monitoring Report")
	assert.Contains(t, out, "- Total Clusters Monitored: 2")
	assert.Contains(t, out, "- Average CPU Utilization: 52.5%")
	assert.Contains(t, out, "### Underutilized Clusters (1 found)")
	assert.Contains(t, out, "- **etl** (ID: c-1): CPU 15.00%, Memory 25.00%")
	assert.Contains(t, out, "### Overutilized Clusters (1 found)")
	assert.Contains(t, out, "- **Unknown** (ID: c-2)")
	assert.Contains(t, out, "- [WARNING] High CPU: Cluster c-2 - 90.0%")
	assert.Contains(t, out, "- COST OPTIMIZATION: 1 clusters with <30% CPU usage could be downsized")
}

func TestMissingMetricIsNotReportedAsZero(t *testing.T) {
	t.Parallel()

	m := newMonitor(nil)
	set := utilizationSet([]any{"c-1", "etl", 95.0, 99.0, 1.0, nil, nil})

	anomalies := m.DetectAnomalies(set)

	over := anomalies[lakemon.OverutilizedClusters]
	require.Len(t, over, 1)
	assert.Equal(t, map[string]float64{"avg_cpu_utilization": 95}, over[0].Values)

	out := m.GenerateReport(set, anomalies, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	assert.Contains(t, out, "- **etl** (ID: c-1): CPU 95.00%\n")
	assert.NotContains(t, out, "Memory 0.00%")
}

func TestGenerateReportEmpty(t *testing.T) {
	t.Parallel()

	m := newMonitor(nil)

	out := m.GenerateReport(lakemon.MetricSet{Monitor: cluster.Name, Days: 7}, lakemon.Anomalies{}, time.Time{})

	assert.Contains(t, out, cluster.NoClusterData)
	assert.Contains(t, out, "No anomalies detected.")
	assert.NotContains(t, out, cluster.NoIssues)
}
