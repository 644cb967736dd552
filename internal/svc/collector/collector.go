// Package collector fans out to the monitors in parallel, caches the merged
// snapshot per day window and derives summaries, alerts and trends from it.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

const (
	defaultTTL            = 5 * time.Minute
	defaultMonitorTimeout = 5 * time.Minute
)

// Config tunes the collector.
type Config struct {
	// TTL is how long a snapshot is served from the cache.
	TTL time.Duration
	// MonitorTimeout bounds each monitor's fetch.
	MonitorTimeout time.Duration
	Bands          lakemon.HealthBands
}

// CacheStats are cumulative cache and fan-out counters.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	FanOuts uint64
}

type entry struct {
	createdAt time.Time
	snapshot  *lakemon.Snapshot
}

// Collector collects and caches metrics from multiple monitors.
type Collector struct {
	now      func() time.Time
	cache    *cache.Cache
	logger   *slog.Logger
	monitors []lakemon.Monitor
	sf       singleflight.Group
	cfg      Config
	hits     atomic.Uint64
	misses   atomic.Uint64
	fanOuts  atomic.Uint64
}

// New is a constructor of Collector.
func New(monitors []lakemon.Monitor, cfg Config, now func() time.Time, logger *slog.Logger) *Collector {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MonitorTimeout <= 0 {
		cfg.MonitorTimeout = defaultMonitorTimeout
	}
	if cfg.Bands == (lakemon.HealthBands{}) {
		cfg.Bands = lakemon.DefaultHealthBands()
	}
	return &Collector{
		monitors: monitors,
		cfg:      cfg,
		// entries never expire on their own, freshness is checked against now on read
		cache:  cache.New(cache.NoExpiration, 0),
		now:    now,
		logger: logger,
	}
}

// Monitors returns the monitors the collector fans out to.
func (c *Collector) Monitors() []lakemon.Monitor {
	return c.monitors
}

// GetAllMetrics returns the snapshot for the day window. With useCache a
// fresh cached snapshot is returned without querying; otherwise, or on a
// miss, every monitor is queried and the cache entry is replaced.
func (c *Collector) GetAllMetrics(ctx context.Context, days int, useCache bool) *lakemon.Snapshot {
	if clamped, adjusted := lakemon.ClampDays(days); adjusted {
		c.logger.Warn("day window out of range, clamped", slog.Int("requested", days), slog.Int("days", clamped))
		days = clamped
	}
	key := cacheKey(days)

	if !useCache {
		return c.refresh(ctx, key, days)
	}

	if snap, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.logger.Debug("returning cached metrics", slog.Int("days", days), slog.String("snapshot_id", snap.ID))
		return snap
	}
	c.misses.Add(1)

	// The shared fetch outlives any single caller; MonitorTimeout bounds it.
	ch := c.sf.DoChan(key, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), key, days), nil
	})
	select {
	case res := <-ch:
		if snap, ok := res.Val.(*lakemon.Snapshot); ok {
			return snap
		}
		return c.refresh(ctx, key, days)
	case <-ctx.Done():
		return c.abandoned(ctx, days)
	}
}

// abandoned is the snapshot handed to a caller that stopped waiting. It is
// never cached.
func (c *Collector) abandoned(ctx context.Context, days int) *lakemon.Snapshot {
	sets := make([]lakemon.MetricSet, len(c.monitors))
	for i, m := range c.monitors {
		sets[i] = lakemon.MetricSet{
			Monitor: m.Name(),
			Days:    days,
			Err:     fmt.Errorf("collector: monitor %s: %w", m.Name(), ctx.Err()),
		}
	}
	return &lakemon.Snapshot{
		ID:             uuid.NewString(),
		CollectionTime: c.now(),
		Days:           days,
		Sets:           sets,
	}
}

// ClearCache drops every cached snapshot.
func (c *Collector) ClearCache() {
	c.cache.Flush()
	c.logger.Info("metrics cache cleared")
}

// Stats returns the cache and fan-out counters.
func (c *Collector) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		FanOuts: c.fanOuts.Load(),
	}
}

func (c *Collector) lookup(key string) (*lakemon.Snapshot, bool) {
	v, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	e, ok := v.(entry)
	if !ok || c.now().Sub(e.createdAt) >= c.cfg.TTL {
		return nil, false
	}
	return e.snapshot, true
}

func (c *Collector) refresh(ctx context.Context, key string, days int) *lakemon.Snapshot {
	snap := c.fanOut(ctx, days)
	if ctx.Err() != nil {
		c.logger.Info("caller gone, fresh metrics not cached", slog.Int("days", days))
		return snap
	}
	c.cache.Set(key, entry{snapshot: snap, createdAt: c.now()}, cache.NoExpiration)
	return snap
}

// fanOut runs every monitor concurrently. A monitor that fails, panics or
// times out yields an empty set carrying the error; the others are not
// affected.
func (c *Collector) fanOut(ctx context.Context, days int) *lakemon.Snapshot {
	c.fanOuts.Add(1)
	c.logger.Info("collecting fresh metrics", slog.Int("days", days), slog.Int("monitors", len(c.monitors)))

	sets := make([]lakemon.MetricSet, len(c.monitors))
	p := pool.New().WithMaxGoroutines(max(1, len(c.monitors)))
	for i, m := range c.monitors {
		p.Go(func() {
			sets[i] = c.collect(ctx, m, days)
		})
	}
	p.Wait()

	return &lakemon.Snapshot{
		ID:             uuid.NewString(),
		CollectionTime: c.now(),
		Days:           days,
		Sets:           sets,
	}
}

func (c *Collector) collect(ctx context.Context, m lakemon.Monitor, days int) lakemon.MetricSet {
	name := m.Name()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MonitorTimeout)
	defer cancel()

	done := make(chan lakemon.MetricSet, 1)
	go func() {
		var (
			pc  panics.Catcher
			set lakemon.MetricSet
		)
		pc.Try(func() { set = m.GetMetrics(ctx, days) })
		if r := pc.Recovered(); r != nil {
			set = lakemon.MetricSet{Err: r.AsError()}
		}
		done <- set
	}()

	var set lakemon.MetricSet
	select {
	case set = <-done:
	case <-ctx.Done():
		set = lakemon.MetricSet{Err: ctx.Err()}
	}

	set.Monitor = name
	set.Days = days
	if set.Err != nil {
		set.Err = fmt.Errorf("collector: monitor %s: %w", name, set.Err)
		set.Results = nil
		level := slog.LevelWarn
		if errors.Is(set.Err, context.Canceled) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "monitor failed, continuing without its metrics",
			slog.String("monitor", name), slog.Any("error", set.Err))
		return set
	}

	c.logger.Info("monitor metrics collected",
		slog.String("monitor", name), slog.Int("rows", set.TotalRows()))
	return set
}

// Summarize condenses a snapshot into per monitor statistics and a health
// verdict.
func (c *Collector) Summarize(snap *lakemon.Snapshot) lakemon.Summary {
	summary := lakemon.Summary{
		CollectionTime: snap.CollectionTime,
		Days:           snap.Days,
		Stats:          make(map[string]lakemon.Stats, len(c.monitors)),
	}
	for _, m := range c.monitors {
		summary.Stats[m.Name()] = m.Summarize(snap.Set(m.Name()))
	}
	summary.Health = lakemon.AssessHealth(summary.Stats, c.cfg.Bands)
	return summary
}

// GetSummaryStatistics returns the summary of the (possibly cached)
// snapshot for the day window.
func (c *Collector) GetSummaryStatistics(ctx context.Context, days int) lakemon.Summary {
	return c.Summarize(c.GetAllMetrics(ctx, days, true))
}

// Alerts turns every monitor's anomalies into severity bucketed alerts.
func (c *Collector) Alerts(snap *lakemon.Snapshot) lakemon.Alerts {
	res := lakemon.Alerts{
		Critical: []lakemon.Alert{},
		Warning:  []lakemon.Alert{},
		Info:     []lakemon.Alert{},
	}
	ts := c.now()
	for _, m := range c.monitors {
		set := snap.Set(m.Name())
		if set.Err != nil || set.Empty() {
			continue
		}
		anomalies := m.DetectAnomalies(set)
		for _, category := range anomalies.Categories() {
			for _, a := range anomalies[category] {
				res.Add(lakemon.Alert{
					Timestamp: ts,
					Source:    m.Name(),
					Category:  category,
					Severity:  lakemon.SeverityOf(category),
					Details:   a,
				})
			}
		}
	}
	return res
}

// GetAlerts returns the alerts of the (possibly cached) snapshot.
func (c *Collector) GetAlerts(ctx context.Context, days int) lakemon.Alerts {
	return c.Alerts(c.GetAllMetrics(ctx, days, true))
}

func cacheKey(days int) string {
	return fmt.Sprintf("all_metrics_%d", days)
}
