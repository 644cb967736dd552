// Package report renders monitoring snapshots as flat text and structured
// Markdown documents.
package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/systables"
)

const topN = 10

// Document is everything a report shows. Renderers never query; callers
// fill the document from an already collected snapshot.
type Document struct {
	GeneratedAt time.Time
	// Utilization is the per instance cluster utilisation table.
	Utilization *lakemon.Table
	// JobRuntime is the per job runtime table.
	JobRuntime      *lakemon.Table
	Title           string
	Description     string
	RunID           string
	Sets            []lakemon.MetricSet
	Issues          []lakemon.Issue
	Recommendations []lakemon.Recommendation
	Queries         []systables.Query
	Alerts          lakemon.Alerts
	Summary         lakemon.Summary
	Thresholds      lakemon.Thresholds
	Days            int
}

var severityLabels = map[lakemon.Severity]string{
	lakemon.SeverityCritical: "HIGH",
	lakemon.SeverityWarning:  "MEDIUM",
	lakemon.SeverityInfo:     "LOW",
}

// Label renders a severity the way reports show it.
func Label(s lakemon.Severity) string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return "OTHER"
}

// Markdown renders the structured report.
func Markdown(doc *Document) string {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = "Databricks Monitoring Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if doc.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", doc.Description)
	}

	b.WriteString("## Run Metadata\n\n")
	start := doc.GeneratedAt.AddDate(0, 0, -doc.Days)
	fmt.Fprintf(&b, "- Generated: %s\n", doc.GeneratedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "- Time Window: %s to %s\n", start.Format("2006-01-02 15:04"), doc.GeneratedAt.Format("2006-01-02 15:04"))
	if doc.RunID != "" {
		fmt.Fprintf(&b, "- Run ID: `%s`\n", doc.RunID)
	}
	b.WriteString("\n")
	b.WriteString(markdownGrid([]string{"Parameter", "Value"}, [][]string{
		{"Analysis days", fmt.Sprint(doc.Days)},
		{"CPU threshold", fmt.Sprintf("%.0f%%", doc.Thresholds.CPUPercent)},
		{"Memory threshold", fmt.Sprintf("%.0f%%", doc.Thresholds.MemoryPercent)},
		{"Job duration threshold", fmt.Sprintf("%.0f min", doc.Thresholds.JobDurationMinutes)},
		{"Failure rate threshold", fmt.Sprintf("%.0f%%", doc.Thresholds.FailureRate*100)},
		{"Min datapoints", fmt.Sprint(doc.Thresholds.MinDataPoints)},
	}))
	b.WriteString("\n")

	b.WriteString("## Table of Contents\n\n")
	for _, s := range []string{
		"Key Metrics", "Top Consumers", "Alerts", "Performance Issues", "Recommendations",
		"Failed Queries", "Detailed Metrics", "Appendix: SQL Queries",
	} {
		fmt.Fprintf(&b, "- [%s](#%s)\n", s, anchor(s))
	}
	b.WriteString("\n")

	writeKeyMetrics(&b, doc)
	writeTopConsumers(&b, doc)
	writeAlerts(&b, doc.Alerts, hasData(doc.Sets))
	writeIssues(&b, doc.Issues, !doc.Utilization.Empty())
	writeRecommendations(&b, doc.Recommendations, !doc.Utilization.Empty())
	writeFailures(&b, doc.Sets)
	writeDetails(&b, doc.Sets)
	writeAppendix(&b, doc)

	return b.String()
}

func writeKeyMetrics(b *strings.Builder, doc *Document) {
	b.WriteString("## Key Metrics\n\n")

	ut := doc.Utilization
	stats := statRows(doc.Summary)
	if ut.Empty() && len(stats) == 0 {
		b.WriteString(placeholder())
		return
	}

	rows := [][]string{{"Overall health",
		fmt.Sprintf("%s (%.2f)", doc.Summary.Health.Status, doc.Summary.Health.Score)}}
	rows = append(rows, stats...)
	if !ut.Empty() {
		cpu, _ := ut.Mean("avg_cpu_utilization")
		peakCPU, _ := ut.Max("peak_cpu_utilization")
		mem, _ := ut.Mean("avg_memory_utilization")
		peakMem, _ := ut.Max("peak_memory_utilization")
		rows = append(rows,
			[]string{"Clusters analyzed", fmt.Sprint(ut.NUnique("cluster_id"))},
			[]string{"Average CPU utilization", fmt.Sprintf("%.2f%%", cpu)},
			[]string{"Peak CPU utilization", fmt.Sprintf("%.2f%%", peakCPU)},
			[]string{"Average memory utilization", fmt.Sprintf("%.2f%%", mem)},
			[]string{"Peak memory utilization", fmt.Sprintf("%.2f%%", peakMem)},
		)
	}

	b.WriteString(markdownGrid([]string{"Metric", "Value"}, rows))
	b.WriteString("\n")

	if ut.Empty() {
		return
	}
	b.WriteString("### Quantiles\n\n")
	quantiles := [][]string{}
	for _, q := range []struct{ label, col string }{
		{"CPU utilization", "avg_cpu_utilization"},
		{"Memory utilization", "avg_memory_utilization"},
	} {
		row := []string{q.label}
		for _, p := range []float64{0.5, 0.75, 0.9, 0.95} {
			v, ok := ut.Quantile(q.col, p)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, lakemon.FormatValue(lakemon.Round(v, 2)))
		}
		quantiles = append(quantiles, row)
	}
	b.WriteString(markdownGrid([]string{"Metric", "p50", "p75", "p90", "p95"}, quantiles))
	b.WriteString("\n")
}

func writeTopConsumers(b *strings.Builder, doc *Document) {
	b.WriteString("## Top Consumers\n\n")

	b.WriteString("### Top 10 by Average CPU Utilization\n\n")
	b.WriteString(MarkdownTable(doc.Utilization.SortDesc("avg_cpu_utilization").
		Select("cluster_id", "cluster_name", "driver", "avg_cpu_utilization", "peak_cpu_utilization", "avg_memory_utilization"),
		topN))
	b.WriteString("\n")

	b.WriteString("### Top 10 by Average Memory Utilization\n\n")
	b.WriteString(MarkdownTable(doc.Utilization.SortDesc("avg_memory_utilization").
		Select("cluster_id", "cluster_name", "driver", "avg_memory_utilization", "peak_memory_utilization", "avg_cpu_utilization"),
		topN))
	b.WriteString("\n")

	b.WriteString("### Top 10 Longest Running Jobs\n\n")
	b.WriteString(MarkdownTable(readableDurations(doc.JobRuntime.SortDesc("avg_duration_seconds").
		Select("job_id", "job_name", "total_runs", "avg_duration_seconds", "max_duration_seconds", "p95_duration_seconds")),
		topN))
	b.WriteString("\n")
}

func writeAlerts(b *strings.Builder, alerts lakemon.Alerts, fetched bool) {
	b.WriteString("## Alerts\n\n")
	if alerts.Total() == 0 {
		b.WriteString(emptyOr(fetched, "_No alerts._\n\n"))
		return
	}
	rows := make([][]string, 0, alerts.Total())
	for _, sev := range lakemon.Severities {
		for _, a := range alerts.Of(sev) {
			rows = append(rows, []string{string(sev), a.Source, string(a.Category), a.Details.ID, a.Details.Name})
		}
	}
	b.WriteString(markdownGrid([]string{"Severity", "Source", "Category", "ID", "Name"}, rows))
	b.WriteString("\n")
}

func writeIssues(b *strings.Builder, issues []lakemon.Issue, fetched bool) {
	b.WriteString("## Performance Issues\n\n")
	if len(issues) == 0 {
		b.WriteString(emptyOr(fetched, "_No issues detected._\n\n"))
		return
	}
	for _, sev := range lakemon.Severities {
		var group []lakemon.Issue
		for _, issue := range issues {
			if issue.Severity == sev {
				group = append(group, issue)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(b, "### %s (%d)\n\n", Label(sev), len(group))
		for _, issue := range group {
			fmt.Fprintf(b, "- %s\n", issue.Text)
		}
		b.WriteString("\n")
	}
}

func writeRecommendations(b *strings.Builder, recs []lakemon.Recommendation, fetched bool) {
	b.WriteString("## Recommendations\n\n")
	if len(recs) == 0 {
		b.WriteString(emptyOr(fetched, "_No recommendations at this time._\n\n"))
		return
	}
	for _, theme := range lakemon.Themes {
		var texts []string
		for _, r := range recs {
			if r.Theme == theme {
				texts = append(texts, r.Text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		fmt.Fprintf(b, "### %s\n\n", theme)
		for _, t := range texts {
			fmt.Fprintf(b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
}

func writeFailures(b *strings.Builder, sets []lakemon.MetricSet) {
	b.WriteString("## Failed Queries\n\n")
	var rows [][]string
	for _, set := range sets {
		if set.Err != nil {
			rows = append(rows, []string{set.Monitor, "*", set.Err.Error()})
		}
		for _, f := range set.Failures() {
			rows = append(rows, []string{set.Monitor, f.Name, f.Err.Error()})
		}
	}
	if len(rows) == 0 {
		b.WriteString(emptyOr(hasData(sets), "_All queries succeeded._\n\n"))
		return
	}
	b.WriteString(markdownGrid([]string{"Monitor", "Table", "Error"}, rows))
	b.WriteString("\n")
}

func writeDetails(b *strings.Builder, sets []lakemon.MetricSet) {
	b.WriteString("## Detailed Metrics\n\n")
	b.WriteString("<details><summary>Show detailed metrics tables</summary>\n\n")
	written := 0
	for _, set := range sets {
		for _, res := range set.Results {
			if res.Table.Empty() {
				continue
			}
			fmt.Fprintf(b, "### %s / %s\n\n", set.Monitor, res.Name)
			b.WriteString(MarkdownTable(res.Table, -1))
			b.WriteString("\n")
			written++
		}
	}
	if written == 0 {
		b.WriteString(placeholder())
	}
	b.WriteString("</details>\n\n")
}

func writeAppendix(b *strings.Builder, doc *Document) {
	b.WriteString("## Appendix: SQL Queries\n\n")
	if len(doc.Queries) == 0 {
		b.WriteString(placeholder())
		return
	}
	params := systables.Params{Days: doc.Days, MinPoints: doc.Thresholds.MinDataPoints}
	for _, q := range doc.Queries {
		fmt.Fprintf(b, "### %s\n\n%s.\n\n```sql\n%s\n```\n\n", q.Name, q.Description, q.Render(params))
	}
}

// Text renders the flat console report: summary, detailed tables, issues
// and recommendations.
func Text(doc *Document) string {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = "Databricks Monitoring Report"
	}
	fmt.Fprintf(&b, "%s\n%s\n", strings.ToUpper(title), strings.Repeat("=", len(title)))
	fmt.Fprintf(&b, "Generated: %s\n", doc.GeneratedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "Period: Last %d days\n", doc.Days)
	if doc.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", doc.RunID)
	}

	b.WriteString("\nSUMMARY\n-------\n")
	if doc.Summary.Health.Status != "" {
		fmt.Fprintf(&b, "Overall health: %s (%.2f)\n", doc.Summary.Health.Status, doc.Summary.Health.Score)
	}
	stats := statRows(doc.Summary)
	for _, row := range stats {
		fmt.Fprintf(&b, "%s: %s\n", row[0], row[1])
	}
	if len(stats) == 0 {
		b.WriteString(NoData + "\n")
	}
	if total := doc.Alerts.Total(); total > 0 {
		fmt.Fprintf(&b, "Alerts: %d critical, %d warning, %d info\n",
			len(doc.Alerts.Critical), len(doc.Alerts.Warning), len(doc.Alerts.Info))
	}

	b.WriteString("\nDETAILED TABLES\n---------------\n")
	tables := 0
	for _, set := range doc.Sets {
		for _, res := range set.Results {
			if res.Table.Empty() {
				continue
			}
			fmt.Fprintf(&b, "\n[%s] %s (%d rows)\n", set.Monitor, res.Name, res.Table.Len())
			b.WriteString(TextTable(res.Table, topN))
			tables++
		}
	}
	if tables == 0 {
		b.WriteString(NoData + "\n")
	}

	b.WriteString("\nPERFORMANCE ISSUES\n------------------\n")
	clusters := !doc.Utilization.Empty()
	if len(doc.Issues) == 0 {
		b.WriteString(textEmptyOr(clusters, "No issues detected\n"))
	}
	for _, issue := range doc.Issues {
		fmt.Fprintf(&b, "[%s] %s\n", Label(issue.Severity), issue.Text)
	}

	b.WriteString("\nRECOMMENDATIONS\n---------------\n")
	if len(doc.Recommendations) == 0 {
		b.WriteString(textEmptyOr(clusters, "No recommendations at this time\n"))
	}
	for _, r := range doc.Recommendations {
		fmt.Fprintf(&b, "%s: %s\n", r.Theme, r.Text)
	}

	return b.String()
}

// statRows flattens the per monitor statistics in a stable order.
func statRows(summary lakemon.Summary) [][]string {
	var rows [][]string
	for _, monitor := range slices.Sorted(maps.Keys(summary.Stats)) {
		stats := summary.Stats[monitor]
		for _, name := range slices.Sorted(maps.Keys(stats)) {
			rows = append(rows, []string{monitor + " " + strings.ReplaceAll(name, "_", " "),
				lakemon.FormatValue(lakemon.Round(stats[name], 2))})
		}
	}
	return rows
}

// readableDurations replaces the <x>_duration_seconds columns of t with
// <x>_duration columns rendered as 42.0s, 3.5m or 1.2h.
func readableDurations(t *lakemon.Table) *lakemon.Table {
	if t.Empty() {
		return t
	}
	cols := slices.Clone(t.Columns)
	var durations []int
	for j, c := range cols {
		if stem, ok := strings.CutSuffix(c, "_duration_seconds"); ok {
			cols[j] = stem + "_duration"
			durations = append(durations, j)
		}
	}
	rows := make([][]any, t.Len())
	for i, row := range t.Rows {
		rows[i] = slices.Clone(row)
		for _, j := range durations {
			if v, ok := t.Float(i, t.Columns[j]); ok {
				rows[i][j] = lakemon.FormatDuration(v)
			}
		}
	}
	return lakemon.NewTable(t.Name, cols, rows...)
}

// hasData reports whether any query of sets returned rows. Without rows an
// empty finding means nothing was looked at, not that nothing was found.
func hasData(sets []lakemon.MetricSet) bool {
	for _, set := range sets {
		for _, res := range set.Results {
			if !res.Table.Empty() {
				return true
			}
		}
	}
	return false
}

func emptyOr(fetched bool, msg string) string {
	if fetched {
		return msg
	}
	return placeholder()
}

func textEmptyOr(fetched bool, msg string) string {
	if fetched {
		return msg
	}
	return NoData + "\n"
}

func placeholder() string {
	return "_" + NoData + "._\n\n"
}

// anchor mimics the GitHub heading slug.
func anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}
