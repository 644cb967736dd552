package systables_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/systables"
)

func TestRenderSubstitutesEveryPlaceholder(t *testing.T) {
	t.Parallel()

	for _, q := range systables.All() {
		t.Run(q.Name, func(t *testing.T) {
			t.Parallel()

			sql := q.Render(systables.Params{Days: 14})
			assert.NotContains(t, sql, "{{")
			assert.NotContains(t, sql, "}}")
			assert.True(t, strings.HasPrefix(sql, "SELECT") || strings.HasPrefix(sql, "WITH"), sql)
		})
	}
}

func TestRenderDayWindow(t *testing.T) {
	t.Parallel()

	sql := systables.JobRuntime.Render(systables.Params{Days: 7})
	assert.Contains(t, sql, "date_sub(current_timestamp(), 7)")
	assert.Contains(t, sql, "ORDER BY avg_duration_seconds DESC")

	sql = systables.ClusterCosts.Render(systables.Params{Days: 30})
	assert.Contains(t, sql, "date_add(current_date(), -30)")
}

func TestRenderMinPoints(t *testing.T) {
	t.Parallel()

	assert.Contains(t, systables.ClusterCPU.Render(systables.Params{Days: 1}), "HAVING COUNT(*) > 5")
	assert.Contains(t, systables.ClusterCPU.Render(systables.Params{Days: 1, MinPoints: 12}), "HAVING COUNT(*) > 12")
}

func TestJobFailuresCountsTerminalStates(t *testing.T) {
	t.Parallel()

	sql := systables.JobFailures.Render(systables.Params{Days: 3})
	assert.Contains(t, sql, "IN ('FAILED', 'TIMEOUT', 'CANCELLED')")
	assert.Contains(t, sql, "ORDER BY failure_rate_percent DESC, total_runs DESC")
}

func TestProbeStatements(t *testing.T) {
	t.Parallel()

	sql, err := systables.ShowTables("system.lakeflow")
	require.NoError(t, err)
	assert.Equal(t, "SHOW TABLES IN system.lakeflow", sql)

	sql, err = systables.Describe("system.compute.node_timeline")
	require.NoError(t, err)
	assert.Equal(t, "DESCRIBE system.compute.node_timeline", sql)

	_, err = systables.Describe("system.compute; DROP TABLE x")
	assert.Error(t, err)

	_, err = systables.ShowTables("")
	assert.Error(t, err)

	_, err = systables.ShowTables("system..lakeflow")
	assert.Error(t, err)
}
