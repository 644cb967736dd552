package lakemon

import (
	"errors"
	"time"
)

var (
	// ErrNoConnection is returned when a query is issued without a warehouse session.
	ErrNoConnection = errors.New("no SQL connection available")
	// ErrInvalidDays is returned when a day window is not a positive number.
	ErrInvalidDays = errors.New("days must be a positive number")
)

// Result is the outcome of fetching one table. A nil Err with an empty
// Table means the query succeeded and found nothing; a non nil Err means
// the fetch itself failed.
type Result struct {
	Table *Table
	Err   error
	Name  string
	Query string
}

// Ok reports whether the fetch succeeded.
func (r Result) Ok() bool {
	return r.Err == nil
}

// MetricSet is everything one monitor fetched for one invocation, in a
// stable order.
type MetricSet struct {
	// Err is set when the whole monitor failed (timeout, panic).
	Err     error
	Monitor string
	Results []Result
	Days    int
}

// Result returns the named result.
func (s MetricSet) Result(name string) (Result, bool) {
	for i := range s.Results {
		if s.Results[i].Name == name {
			return s.Results[i], true
		}
	}
	return Result{}, false
}

// Table returns the named table. It never returns nil: missing and failed
// results yield an empty table.
func (s MetricSet) Table(name string) *Table {
	r, ok := s.Result(name)
	if !ok || r.Table == nil {
		return &Table{Name: name}
	}
	return r.Table
}

// Failures returns the results whose fetch failed.
func (s MetricSet) Failures() []Result {
	var res []Result
	for i := range s.Results {
		if !s.Results[i].Ok() {
			res = append(res, s.Results[i])
		}
	}
	return res
}

// Empty reports whether no table has any rows.
func (s MetricSet) Empty() bool {
	return s.TotalRows() == 0
}

// TotalRows sums the row counts of all tables.
func (s MetricSet) TotalRows() int {
	n := 0
	for i := range s.Results {
		n += s.Results[i].Table.Len()
	}
	return n
}

// TableCounts maps table names to row counts.
func (s MetricSet) TableCounts() map[string]int {
	res := make(map[string]int, len(s.Results))
	for i := range s.Results {
		res[s.Results[i].Name] = s.Results[i].Table.Len()
	}
	return res
}

// Snapshot is the merged output of all monitors for one day window.
type Snapshot struct {
	CollectionTime time.Time
	ID             string
	Sets           []MetricSet
	Days           int
}

// Set returns the named monitor's metric set. A missing monitor yields an
// empty set.
func (s *Snapshot) Set(monitor string) MetricSet {
	if s == nil {
		return MetricSet{Monitor: monitor}
	}
	for i := range s.Sets {
		if s.Sets[i].Monitor == monitor {
			return s.Sets[i]
		}
	}
	return MetricSet{Monitor: monitor}
}

// Failures returns every failed fetch, keyed by monitor.
func (s *Snapshot) Failures() map[string][]Result {
	res := make(map[string][]Result)
	if s == nil {
		return res
	}
	for i := range s.Sets {
		if f := s.Sets[i].Failures(); len(f) > 0 {
			res[s.Sets[i].Monitor] = f
		}
	}
	return res
}

// Stats are named summary statistics of one monitor.
type Stats map[string]float64

// Well known statistics consumed by the health score.
const (
	StatAvgSuccessRate = "avg_success_rate"
	StatAvgCPU         = "avg_cpu_utilization"
)

// Summary condenses a snapshot into per monitor statistics and a health
// verdict.
type Summary struct {
	CollectionTime time.Time        `json:"collection_time"`
	Stats          map[string]Stats `json:"stats"`
	Health         Health           `json:"overall_health"`
	Days           int              `json:"days_analyzed"`
}
