package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/mock"
	"github.com/vk-rv/lakemon/internal/report"
	"github.com/vk-rv/lakemon/internal/svc/cluster"
	"github.com/vk-rv/lakemon/internal/svc/collector"
	"github.com/vk-rv/lakemon/internal/svc/job"
	"github.com/vk-rv/lakemon/internal/systables"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validConfig() *config {
	cfg := &config{OutputDir: "./reports"}
	cfg.Monitor.RefreshIntervalMinutes = 5
	cfg.Monitor.RetentionDays = 30
	cfg.Monitor.Timeout = 5 * time.Minute
	cfg.Alert.CPUThreshold = 80
	cfg.Alert.MemoryThreshold = 85
	cfg.Alert.JobDurationMinutes = 60
	cfg.Alert.FailureRate = 0.1
	cfg.Tracing.Probability = 1
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		modify  func(c *config)
		name    string
		wantErr bool
	}{
		{name: "Defaults", modify: func(*config) {}},
		{name: "CPUAbove100", modify: func(c *config) { c.Alert.CPUThreshold = 120 }, wantErr: true},
		{name: "NegativeMemory", modify: func(c *config) { c.Alert.MemoryThreshold = -1 }, wantErr: true},
		{name: "FailureRateAboveOne", modify: func(c *config) { c.Alert.FailureRate = 10 }, wantErr: true},
		{name: "ZeroRefresh", modify: func(c *config) { c.Monitor.RefreshIntervalMinutes = 0 }, wantErr: true},
		{name: "RetentionTooLong", modify: func(c *config) { c.Monitor.RetentionDays = 365 }, wantErr: true},
		{name: "NoOutputDir", modify: func(c *config) { c.OutputDir = "" }, wantErr: true},
		{name: "BadProbability", modify: func(c *config) { c.Tracing.Probability = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid config")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigApplyFlags(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.apply(&flags{cpuThreshold: 70, outputDir: "/tmp/out"})

	th := cfg.Thresholds()
	assert.InDelta(t, 70, th.CPUPercent, 0)
	assert.InDelta(t, 85, th.MemoryPercent, 0)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, lakemon.DefaultThresholds().CriticalCPU, th.CriticalCPU)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	for _, key := range []string{"DATABRICKS_HOST", "DATABRICKS_TOKEN", "OUTPUT_DIR"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DATABRICKS_HOST=https://adb-1.azuredatabricks.net/\nDATABRICKS_TOKEN=dapi\nOUTPUT_DIR=/var/reports\n"), 0o600))

	cfg, err := loadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "adb-1.azuredatabricks.net", cfg.Warehouse.Hostname())
	assert.Equal(t, "/var/reports", cfg.OutputDir)
	assert.Equal(t, 5, cfg.Monitor.RefreshIntervalMinutes)
	assert.Equal(t, "lakemon-alerts", cfg.Alert.KafkaTopic)
	assert.Equal(t, "9108", cfg.Metrics.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingEnvFile(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))

	require.Error(t, err)
}

func TestNewDocument(t *testing.T) {
	t.Parallel()

	logger := discardLogger()
	thresholds := lakemon.NewThresholdStore(lakemon.DefaultThresholds())
	utilization := lakemon.NewTable(cluster.TableUtilization,
		[]string{"cluster_id", "cluster_name", "avg_cpu_utilization", "peak_cpu_utilization",
			"avg_cpu_wait", "avg_memory_utilization", "peak_memory_utilization"},
		[]any{"hot", "etl", 92.0, 99.0, 2.0, 50.0, 60.0},
		[]any{"idle", "bi", 5.0, 9.0, 0.0, 10.0, 12.0},
	)
	clusters := cluster.NewMonitor(
		mock.TableRunner(map[string]*lakemon.Table{cluster.TableUtilization: utilization}, nil),
		thresholds, logger)
	jobs := job.NewMonitor(mock.TableRunner(nil, nil), thresholds, logger)
	generatedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	col := collector.New([]lakemon.Monitor{jobs, clusters}, collector.Config{},
		func() time.Time { return generatedAt }, logger)

	snap := col.GetAllMetrics(t.Context(), 7, true)
	doc := newDocument(snap, col, clusters, thresholds.Load(), generatedAt)

	assert.Equal(t, snap.ID, doc.RunID)
	assert.Equal(t, 7, doc.Days)
	assert.Equal(t, 2, doc.Utilization.Len())
	assert.True(t, doc.JobRuntime.Empty())
	assert.NotEmpty(t, doc.Issues)
	assert.NotEmpty(t, doc.Recommendations)
	assert.Len(t, doc.Queries, len(systables.All()))
	assert.Contains(t, doc.Summary.Stats, cluster.Name)
	assert.NotZero(t, doc.Alerts.Total())

	md := report.Markdown(doc)
	assert.Contains(t, md, "High CPU: Cluster hot")
}
