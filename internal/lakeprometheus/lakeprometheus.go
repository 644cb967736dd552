// Package lakeprometheus exposes the latest monitoring snapshot and the
// collector's cache counters as Prometheus metrics.
package lakeprometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/svc/collector"
)

const namespace = "lakemon"

// StatGetter provides the cache counters.
type StatGetter interface {
	Stats() collector.CacheStats
}

type tableRows struct {
	monitor string
	table   string
	rows    int
}

type state struct {
	refreshedAt time.Time
	alerts      map[lakemon.Severity]int
	failures    map[string]int
	tables      []tableRows
	health      float64
	// scored is false when no health signal was available.
	scored      bool
}

// Collector implements prometheus.Collector. Snapshot gauges are absent
// until the first Observe, and the health score is absent while the
// health status is unknown.
type Collector struct {
	getter       StatGetter
	latest       *state
	healthDesc   *prometheus.Desc
	alertsDesc   *prometheus.Desc
	rowsDesc     *prometheus.Desc
	failuresDesc *prometheus.Desc
	refreshDesc  *prometheus.Desc
	hitsDesc     *prometheus.Desc
	missesDesc   *prometheus.Desc
	fanOutsDesc  *prometheus.Desc
	mu           sync.RWMutex
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a new Collector reading cache counters from getter.
func NewCollector(getter StatGetter) *Collector {
	fqName := func(name string) string {
		return prometheus.BuildFQName(namespace, "", name)
	}
	return &Collector{
		getter: getter,
		healthDesc: prometheus.NewDesc(
			fqName("health_score"),
			"Overall health score of the latest snapshot, 0 to 1",
			nil, nil,
		),
		alertsDesc: prometheus.NewDesc(
			fqName("alerts"),
			"Alerts raised by the latest snapshot",
			[]string{"severity"}, nil,
		),
		rowsDesc: prometheus.NewDesc(
			fqName("table_rows"),
			"Rows fetched per system table query in the latest snapshot",
			[]string{"monitor", "table"}, nil,
		),
		failuresDesc: prometheus.NewDesc(
			fqName("fetch_failures"),
			"Failed queries per monitor in the latest snapshot",
			[]string{"monitor"}, nil,
		),
		refreshDesc: prometheus.NewDesc(
			fqName("last_refresh_timestamp_seconds"),
			"Collection time of the latest snapshot",
			nil, nil,
		),
		hitsDesc: prometheus.NewDesc(
			fqName("cache_hits_total"),
			"Snapshots served from the cache",
			nil, nil,
		),
		missesDesc: prometheus.NewDesc(
			fqName("cache_misses_total"),
			"Cache lookups that required a fresh collection",
			nil, nil,
		),
		fanOutsDesc: prometheus.NewDesc(
			fqName("fanouts_total"),
			"Parallel collections across all monitors",
			nil, nil,
		),
	}
}

// Observe replaces the exposed snapshot.
func (c *Collector) Observe(snap *lakemon.Snapshot, summary lakemon.Summary, alerts lakemon.Alerts) {
	s := &state{
		refreshedAt: snap.CollectionTime,
		health:      summary.Health.Score,
		scored:      summary.Health.Signals > 0,
		alerts:      make(map[lakemon.Severity]int, len(lakemon.Severities)),
		failures:    make(map[string]int, len(snap.Sets)),
	}
	for _, sev := range lakemon.Severities {
		s.alerts[sev] = len(alerts.Of(sev))
	}
	for _, set := range snap.Sets {
		failed := len(set.Failures())
		if set.Err != nil {
			failed++
		}
		s.failures[set.Monitor] = failed
		for _, res := range set.Results {
			if res.Ok() {
				s.tables = append(s.tables, tableRows{monitor: set.Monitor, table: res.Name, rows: res.Table.Len()})
			}
		}
	}

	c.mu.Lock()
	c.latest = s
	c.mu.Unlock()
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.healthDesc
	descs <- c.alertsDesc
	descs <- c.rowsDesc
	descs <- c.failuresDesc
	descs <- c.refreshDesc
	descs <- c.hitsDesc
	descs <- c.missesDesc
	descs <- c.fanOutsDesc
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.getter.Stats()
	metrics <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.CounterValue, float64(stats.Hits))
	metrics <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.CounterValue, float64(stats.Misses))
	metrics <- prometheus.MustNewConstMetric(c.fanOutsDesc, prometheus.CounterValue, float64(stats.FanOuts))

	c.mu.RLock()
	s := c.latest
	c.mu.RUnlock()
	if s == nil {
		return
	}

	if s.scored {
		metrics <- prometheus.MustNewConstMetric(c.healthDesc, prometheus.GaugeValue, s.health)
	}
	metrics <- prometheus.MustNewConstMetric(c.refreshDesc, prometheus.GaugeValue, float64(s.refreshedAt.Unix()))
	for _, sev := range lakemon.Severities {
		metrics <- prometheus.MustNewConstMetric(c.alertsDesc, prometheus.GaugeValue, float64(s.alerts[sev]), string(sev))
	}
	for monitor, n := range s.failures {
		metrics <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.GaugeValue, float64(n), monitor)
	}
	for _, t := range s.tables {
		metrics <- prometheus.MustNewConstMetric(c.rowsDesc, prometheus.GaugeValue, float64(t.rows), t.monitor, t.table)
	}
}
