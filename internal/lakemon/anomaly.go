package lakemon

import (
	"slices"
	"time"
)

// Category names a class of anomalies.
type Category string

// Job anomaly categories.
const (
	LongRunningJobs       Category = "long_running_jobs"
	HighFailureRates      Category = "high_failure_rates"
	ResourceIntensiveJobs Category = "resource_intensive_jobs"
)

// Cluster anomaly categories.
const (
	UnderutilizedClusters Category = "underutilized_clusters"
	OverutilizedClusters  Category = "overutilized_clusters"
	ExpensiveClusters     Category = "expensive_clusters"
	InefficientClusters   Category = "inefficient_clusters"
)

// Severity is an alert bucket.
type Severity string

// Alert severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Severities lists the buckets from most to least urgent.
var Severities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

var categorySeverity = map[Category]Severity{
	HighFailureRates:      SeverityCritical,
	OverutilizedClusters:  SeverityCritical,
	LongRunningJobs:       SeverityWarning,
	ResourceIntensiveJobs: SeverityWarning,
	UnderutilizedClusters: SeverityWarning,
	ExpensiveClusters:     SeverityWarning,
}

// SeverityOf maps a category to its severity. Unknown categories are info.
func SeverityOf(c Category) Severity {
	if s, ok := categorySeverity[c]; ok {
		return s
	}
	return SeverityInfo
}

// Anomaly is one flagged row.
type Anomaly struct {
	Values   map[string]float64 `json:"values"`
	Category Category           `json:"category"`
	ID       string             `json:"id"`
	Name     string             `json:"name"`
}

// Anomalies maps each category to its flagged rows.
type Anomalies map[Category][]Anomaly

// NewAnomalies returns a map with an empty list for every category.
func NewAnomalies(categories ...Category) Anomalies {
	res := make(Anomalies, len(categories))
	for _, c := range categories {
		res[c] = []Anomaly{}
	}
	return res
}

// Count returns the total number of anomalies.
func (a Anomalies) Count() int {
	n := 0
	for _, v := range a {
		n += len(v)
	}
	return n
}

// Categories returns the categories sorted by name.
func (a Anomalies) Categories() []Category {
	res := make([]Category, 0, len(a))
	for c := range a {
		res = append(res, c)
	}
	slices.Sort(res)
	return res
}

// Alert is an anomaly stamped with its source and severity.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"type"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Details   Anomaly   `json:"details"`
}

// Alerts groups alerts by severity.
type Alerts struct {
	Critical []Alert `json:"critical"`
	Warning  []Alert `json:"warning"`
	Info     []Alert `json:"info"`
}

// Add files the alert under its severity.
func (a *Alerts) Add(alert Alert) {
	switch alert.Severity {
	case SeverityCritical:
		a.Critical = append(a.Critical, alert)
	case SeverityWarning:
		a.Warning = append(a.Warning, alert)
	default:
		a.Info = append(a.Info, alert)
	}
}

// Of returns the alerts of one severity.
func (a *Alerts) Of(s Severity) []Alert {
	switch s {
	case SeverityCritical:
		return a.Critical
	case SeverityWarning:
		return a.Warning
	default:
		return a.Info
	}
}

// Total returns the number of alerts across all buckets.
func (a *Alerts) Total() int {
	return len(a.Critical) + len(a.Warning) + len(a.Info)
}

// Issue is a finding of the performance analysis.
type Issue struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Theme groups recommendations.
type Theme string

// Recommendation themes.
const (
	ThemeCost        Theme = "COST OPTIMIZATION"
	ThemePerformance Theme = "PERFORMANCE"
	ThemeMemory      Theme = "MEMORY"
	ThemeBalance     Theme = "BALANCE"
	ThemeOther       Theme = "OTHER"
)

// Themes lists recommendation themes in report order.
var Themes = []Theme{ThemeCost, ThemePerformance, ThemeMemory, ThemeBalance, ThemeOther}

// Recommendation is an actionable suggestion.
type Recommendation struct {
	Theme Theme  `json:"theme"`
	Text  string `json:"text"`
}
