package lakemon

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Thresholds drive anomaly detection and the performance analysis.
// Percentages are 0..100, FailureRate is a fraction.
type Thresholds struct {
	CPUPercent          float64
	MemoryPercent       float64
	JobDurationMinutes  float64
	FailureRate         float64
	UnderutilizedCPU    float64
	UnderutilizedMemory float64
	OverutilizedCPU     float64
	OverutilizedMemory  float64
	CriticalCPU         float64
	CriticalMemory      float64
	CPUWaitPercent      float64
	LowUsageCPU         float64
	ImbalancePercent    float64
	ExpensiveQuantile   float64
	MinDataPoints       int
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:          80,
		MemoryPercent:       85,
		JobDurationMinutes:  60,
		FailureRate:         0.1,
		UnderutilizedCPU:    20,
		UnderutilizedMemory: 30,
		OverutilizedCPU:     85,
		OverutilizedMemory:  90,
		CriticalCPU:         90,
		CriticalMemory:      95,
		CPUWaitPercent:      15,
		LowUsageCPU:         30,
		ImbalancePercent:    40,
		ExpensiveQuantile:   0.9,
		MinDataPoints:       5,
	}
}

// Validate checks ranges.
func (t Thresholds) Validate() error {
	var errs []error
	percents := map[string]float64{
		"cpu threshold":    t.CPUPercent,
		"memory threshold": t.MemoryPercent,
		"cpu wait":         t.CPUWaitPercent,
	}
	for name, v := range percents {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be within 0..100, got %.2f", name, v))
		}
	}
	if t.FailureRate < 0 || t.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("failure rate must be within 0..1, got %.2f", t.FailureRate))
	}
	if t.JobDurationMinutes <= 0 {
		errs = append(errs, fmt.Errorf("job duration must be positive, got %.2f", t.JobDurationMinutes))
	}
	if t.ExpensiveQuantile <= 0 || t.ExpensiveQuantile >= 1 {
		errs = append(errs, fmt.Errorf("expensive quantile must be within (0, 1), got %.2f", t.ExpensiveQuantile))
	}
	return errors.Join(errs...)
}

// ThresholdSource hands out the thresholds in force at call time.
type ThresholdSource interface {
	Load() Thresholds
}

// ThresholdStore is a ThresholdSource that can be swapped concurrently.
type ThresholdStore struct {
	v atomic.Pointer[Thresholds]
}

// NewThresholdStore returns a store holding t.
func NewThresholdStore(t Thresholds) *ThresholdStore {
	s := &ThresholdStore{}
	s.Store(t)
	return s
}

// Load returns the current thresholds.
func (s *ThresholdStore) Load() Thresholds {
	if t := s.v.Load(); t != nil {
		return *t
	}
	return DefaultThresholds()
}

// Store replaces the thresholds.
func (s *ThresholdStore) Store(t Thresholds) {
	s.v.Store(&t)
}

// ClampDays bounds a day window to 1..90. The second value reports whether
// the input was adjusted.
func ClampDays(days int) (int, bool) {
	const (
		minDays = 1
		maxDays = 90
	)
	switch {
	case days < minDays:
		return minDays, true
	case days > maxDays:
		return maxDays, true
	}
	return days, false
}
