package lakemon

import (
	"maps"
	"slices"
)

// HealthStatus is the overall verdict.
type HealthStatus string

// Health statuses.
const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthBands holds the breakpoints of the health score.
type HealthBands struct {
	SuccessOptimal    float64
	SuccessAcceptable float64
	CPUOptimalLow     float64
	CPUOptimalHigh    float64
	CPUAcceptableLow  float64
	CPUAcceptableHigh float64
	Excellent         float64
	Good              float64
	Fair              float64
}

// DefaultHealthBands returns the stock breakpoints.
func DefaultHealthBands() HealthBands {
	return HealthBands{
		SuccessOptimal:    95,
		SuccessAcceptable: 85,
		CPUOptimalLow:     20,
		CPUOptimalHigh:    80,
		CPUAcceptableLow:  10,
		CPUAcceptableHigh: 90,
		Excellent:         0.8,
		Good:              0.6,
		Fair:              0.4,
	}
}

// Health is the scored verdict.
type Health struct {
	Status  HealthStatus `json:"status"`
	Score   float64      `json:"score"`
	Signals int          `json:"signals"`
}

// AssessHealth scores up to two signals, the mean job success rate and the
// mean cluster CPU. Each signal earns 1 in its optimal band, 0.5 in its
// acceptable band and 0 otherwise; the ratio of earned to possible points
// picks the status. With no signal the status is unknown.
func AssessHealth(stats map[string]Stats, b HealthBands) Health {
	var (
		score   float64
		signals int
	)
	if rate, ok := lookupStat(stats, StatAvgSuccessRate); ok {
		signals++
		switch {
		case rate > b.SuccessOptimal:
			score++
		case rate > b.SuccessAcceptable:
			score += 0.5
		}
	}
	if cpu, ok := lookupStat(stats, StatAvgCPU); ok {
		signals++
		switch {
		case cpu >= b.CPUOptimalLow && cpu <= b.CPUOptimalHigh:
			score++
		case cpu >= b.CPUAcceptableLow && cpu <= b.CPUAcceptableHigh:
			score += 0.5
		}
	}
	if signals == 0 {
		return Health{Status: HealthUnknown}
	}

	ratio := score / float64(signals)
	h := Health{Score: ratio, Signals: signals}
	switch {
	case ratio >= b.Excellent:
		h.Status = HealthExcellent
	case ratio >= b.Good:
		h.Status = HealthGood
	case ratio >= b.Fair:
		h.Status = HealthFair
	default:
		h.Status = HealthPoor
	}
	return h
}

func lookupStat(stats map[string]Stats, name string) (float64, bool) {
	for _, monitor := range slices.Sorted(maps.Keys(stats)) {
		if v, ok := stats[monitor][name]; ok {
			return v, true
		}
	}
	return 0, false
}
