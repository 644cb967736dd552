package collector

import (
	"cmp"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/report"
)

// Table names the trends are derived from.
const (
	activityMonitor    = "job"
	activityTable      = "recent_activity"
	utilizationMonitor = "cluster"
	utilizationTable   = "cluster_utilization"
)

// RunsPerDay is one point of the job frequency trend.
type RunsPerDay struct {
	Date           string  `json:"date"`
	Runs           float64 `json:"runs"`
	SuccessfulRuns float64 `json:"successful_runs"`
	FailedRuns     float64 `json:"failed_runs"`
}

// ClusterUtilization is the mean utilisation of one cluster.
type ClusterUtilization struct {
	ClusterID string  `json:"cluster_id"`
	AvgCPU    float64 `json:"avg_cpu_utilization"`
	AvgMemory float64 `json:"avg_memory_utilization"`
}

// Trends are chart ready series.
type Trends struct {
	JobFrequency        []RunsPerDay         `json:"job_frequency_trend"`
	ResourceUtilization []ClusterUtilization `json:"resource_utilization_trend"`
}

// Trends derives the job frequency and resource utilisation series.
func (c *Collector) Trends(snap *lakemon.Snapshot) Trends {
	var res Trends

	activity := snap.Set(activityMonitor).Table(activityTable)
	byDate := make(map[string]*RunsPerDay)
	for i := range activity.Len() {
		date := activity.Text(i, "job_date")
		if date == "" {
			continue
		}
		p, ok := byDate[date]
		if !ok {
			p = &RunsPerDay{Date: date}
			byDate[date] = p
		}
		runs, _ := activity.Float(i, "total_runs")
		succeeded, _ := activity.Float(i, "successful_runs")
		failed, _ := activity.Float(i, "failed_runs")
		p.Runs += runs
		p.SuccessfulRuns += succeeded
		p.FailedRuns += failed
	}
	for _, p := range byDate {
		res.JobFrequency = append(res.JobFrequency, *p)
	}
	slices.SortFunc(res.JobFrequency, func(a, b RunsPerDay) int { return cmp.Compare(a.Date, b.Date) })

	ut := snap.Set(utilizationMonitor).Table(utilizationTable)
	type acc struct {
		cpu, mem   float64
		nCPU, nMem int
	}
	byCluster := make(map[string]*acc)
	var order []string
	for i := range ut.Len() {
		id := ut.Text(i, "cluster_id")
		a, ok := byCluster[id]
		if !ok {
			a = &acc{}
			byCluster[id] = a
			order = append(order, id)
		}
		if v, ok := ut.Float(i, "avg_cpu_utilization"); ok {
			a.cpu += v
			a.nCPU++
		}
		if v, ok := ut.Float(i, "avg_memory_utilization"); ok {
			a.mem += v
			a.nMem++
		}
	}
	slices.Sort(order)
	for _, id := range order {
		a := byCluster[id]
		res.ResourceUtilization = append(res.ResourceUtilization, ClusterUtilization{
			ClusterID: id,
			AvgCPU:    lakemon.SafeDivide(a.cpu, float64(a.nCPU)),
			AvgMemory: lakemon.SafeDivide(a.mem, float64(a.nMem)),
		})
	}

	return res
}

// GetTrendingData returns the trends of the (possibly cached) snapshot.
func (c *Collector) GetTrendingData(ctx context.Context, days int) Trends {
	return c.Trends(c.GetAllMetrics(ctx, days, true))
}

// ExportMetrics writes every non empty table of the snapshot for the day
// window as CSV, plus a JSON summary, into dir. It returns the written
// paths keyed by <monitor>_<table> and "summary".
func (c *Collector) ExportMetrics(ctx context.Context, days int, dir string) (map[string]string, error) {
	snap := c.GetAllMetrics(ctx, days, true)
	ts := c.now().Format(report.TimestampLayout)
	files := make(map[string]string)

	for _, set := range snap.Sets {
		for _, res := range set.Results {
			if res.Table.Empty() {
				continue
			}
			key := set.Monitor + "_" + res.Name
			path, err := writeCSV(dir, key+"_"+ts, res.Table)
			if err != nil {
				return files, err
			}
			files[key] = path
		}
	}

	path, err := writeSummary(dir, "monitoring_summary_"+ts, c.Summarize(snap))
	if err != nil {
		return files, err
	}
	files["summary"] = path

	c.logger.Info("metrics exported", slog.Int("files", len(files)), slog.String("dir", dir))
	return files, nil
}

func writeCSV(dir, stem string, t *lakemon.Table) (_ string, err error) {
	f, err := report.CreateFile(dir, stem, "csv")
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("collector: close %s: %w", f.Name(), cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return "", fmt.Errorf("collector: write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for j := range record {
			record[j] = ""
			if j < len(row) {
				record[j] = lakemon.RawValue(row[j])
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("collector: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("collector: flush csv: %w", err)
	}
	return f.Name(), nil
}

func writeSummary(dir, stem string, summary lakemon.Summary) (_ string, err error) {
	doc := map[string]any{
		"collection_time": summary.CollectionTime,
		"days_analyzed":   summary.Days,
		"overall_health":  summary.Health,
	}
	for monitor, stats := range summary.Stats {
		doc[monitor+"_stats"] = stats
	}

	f, err := report.CreateFile(dir, stem, "json")
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("collector: close %s: %w", f.Name(), cerr)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("collector: encode summary: %w", err)
	}
	return f.Name(), nil
}
