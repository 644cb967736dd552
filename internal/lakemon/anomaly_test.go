package lakemon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

func TestSeverityOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category lakemon.Category
		want     lakemon.Severity
	}{
		{lakemon.HighFailureRates, lakemon.SeverityCritical},
		{lakemon.OverutilizedClusters, lakemon.SeverityCritical},
		{lakemon.LongRunningJobs, lakemon.SeverityWarning},
		{lakemon.ResourceIntensiveJobs, lakemon.SeverityWarning},
		{lakemon.UnderutilizedClusters, lakemon.SeverityWarning},
		{lakemon.ExpensiveClusters, lakemon.SeverityWarning},
		{lakemon.InefficientClusters, lakemon.SeverityInfo},
		{lakemon.Category("irregular_schedules"), lakemon.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, lakemon.SeverityOf(tt.category))
		})
	}
}

func TestAlertsAdd(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var alerts lakemon.Alerts
	for _, c := range []lakemon.Category{
		lakemon.HighFailureRates,
		lakemon.LongRunningJobs,
		lakemon.InefficientClusters,
		lakemon.OverutilizedClusters,
	} {
		alerts.Add(lakemon.Alert{Timestamp: now, Category: c, Severity: lakemon.SeverityOf(c)})
	}

	assert.Len(t, alerts.Of(lakemon.SeverityCritical), 2)
	assert.Len(t, alerts.Of(lakemon.SeverityWarning), 1)
	assert.Len(t, alerts.Of(lakemon.SeverityInfo), 1)
	assert.Equal(t, 4, alerts.Total())
}

func TestNewAnomalies(t *testing.T) {
	t.Parallel()

	a := lakemon.NewAnomalies(lakemon.OverutilizedClusters, lakemon.UnderutilizedClusters)

	assert.Equal(t, 0, a.Count())
	assert.NotNil(t, a[lakemon.UnderutilizedClusters])
	assert.Equal(t, []lakemon.Category{lakemon.OverutilizedClusters, lakemon.UnderutilizedClusters}, a.Categories())
}
