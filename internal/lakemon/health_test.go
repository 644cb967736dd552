package lakemon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

func TestAssessHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stats  map[string]lakemon.Stats
		name   string
		status lakemon.HealthStatus
		score  float64
	}{
		{
			name: "HealthyJobsAndClusters",
			stats: map[string]lakemon.Stats{
				"job":     {lakemon.StatAvgSuccessRate: 97},
				"cluster": {lakemon.StatAvgCPU: 50},
			},
			status: lakemon.HealthExcellent,
			score:  1,
		},
		{
			name: "AcceptableSuccessHotCPU",
			stats: map[string]lakemon.Stats{
				"job":     {lakemon.StatAvgSuccessRate: 90},
				"cluster": {lakemon.StatAvgCPU: 95},
			},
			status: lakemon.HealthPoor,
			score:  0.25,
		},
		{
			name: "AcceptableBoth",
			stats: map[string]lakemon.Stats{
				"job":     {lakemon.StatAvgSuccessRate: 90},
				"cluster": {lakemon.StatAvgCPU: 85},
			},
			status: lakemon.HealthFair,
			score:  0.5,
		},
		{
			name: "OnlyJobs",
			stats: map[string]lakemon.Stats{
				"job": {lakemon.StatAvgSuccessRate: 99},
			},
			status: lakemon.HealthExcellent,
			score:  1,
		},
		{
			name: "OptimalCPUBoundaryIsInclusive",
			stats: map[string]lakemon.Stats{
				"cluster": {lakemon.StatAvgCPU: 80},
			},
			status: lakemon.HealthExcellent,
			score:  1,
		},
		{
			name: "SuccessBoundaryIsExclusive",
			stats: map[string]lakemon.Stats{
				"job":     {lakemon.StatAvgSuccessRate: 95},
				"cluster": {lakemon.StatAvgCPU: 50},
			},
			status: lakemon.HealthGood,
			score:  0.75,
		},
		{
			name:   "NoSignals",
			stats:  map[string]lakemon.Stats{"job": {"total_jobs": 3}},
			status: lakemon.HealthUnknown,
			score:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := lakemon.AssessHealth(tt.stats, lakemon.DefaultHealthBands())
			assert.Equal(t, tt.status, h.Status)
			assert.InDelta(t, tt.score, h.Score, 1e-9)
		})
	}
}

func TestAssessHealthCustomBands(t *testing.T) {
	t.Parallel()

	bands := lakemon.DefaultHealthBands()
	bands.SuccessOptimal = 99

	h := lakemon.AssessHealth(map[string]lakemon.Stats{
		"job": {lakemon.StatAvgSuccessRate: 97},
	}, bands)

	assert.Equal(t, lakemon.HealthFair, h.Status)
	assert.Equal(t, 1, h.Signals)
}
