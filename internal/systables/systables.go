// Package systables is the library of SQL statements run against the
// Databricks system catalog (system.lakeflow, system.compute, system.billing).
// Statements are fasttemplate templates with {{days}} and {{min_points}}
// placeholders.
package systables

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Params are substituted into a template.
type Params struct {
	Days      int
	MinPoints int
}

// Query is a named statement template.
type Query struct {
	tmpl        *fasttemplate.Template
	Name        string
	Description string
	Text        string
}

func newQuery(name, description, text string) Query {
	return Query{
		Name:        name,
		Description: description,
		Text:        text,
		tmpl:        fasttemplate.New(text, startTag, endTag),
	}
}

// Render substitutes params into the template.
func (q Query) Render(p Params) string {
	if p.MinPoints == 0 {
		p.MinPoints = 5
	}
	return strings.TrimSpace(q.tmpl.ExecuteString(map[string]any{
		"days":       strconv.Itoa(p.Days),
		"min_points": strconv.Itoa(p.MinPoints),
	}))
}

// ShowTables lists the tables of a system schema, e.g. system.lakeflow.
func ShowTables(schema string) (string, error) {
	if !isIdentifier(schema) {
		return "", fmt.Errorf("systables: invalid schema name %q", schema)
	}
	return "SHOW TABLES IN " + schema, nil
}

// Describe returns the statement describing a table's columns.
func Describe(table string) (string, error) {
	if !isIdentifier(table) {
		return "", fmt.Errorf("systables: invalid table name %q", table)
	}
	return "DESCRIBE " + table, nil
}

// isIdentifier accepts dotted names made of letters, digits and underscores.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}

// SystemSchemas are the schemas probed by the connectivity check.
var SystemSchemas = []string{"system.lakeflow", "system.compute", "system.billing"}

// All returns every template, in report appendix order.
func All() []Query {
	return []Query{
		JobRuntime,
		JobFailures,
		ClusterCPU,
		JobCosts,
		RecentJobActivity,
		ClusterUtilization,
		NodeTypes,
		ClusterEfficiency,
		ClusterCosts,
	}
}

// JobRuntime aggregates run durations per job.
var JobRuntime = newQuery("runtime_metrics", "Job runtime statistics per job", `
WITH job_run_duration AS (
    SELECT
        workspace_id,
        job_id,
        run_id,
        CAST(
            UNIX_TIMESTAMP(MAX(period_end_time)) - UNIX_TIMESTAMP(MIN(period_start_time))
            AS LONG
        ) AS duration_seconds
    FROM system.lakeflow.job_run_timeline
    WHERE period_start_time >= date_sub(current_timestamp(), {{days}})
    GROUP BY workspace_id, job_id, run_id
),
job_metadata AS (
    SELECT DISTINCT
        workspace_id,
        job_id,
        name AS job_name,
        ROW_NUMBER() OVER(PARTITION BY workspace_id, job_id ORDER BY change_time DESC) AS rn
    FROM system.lakeflow.jobs
)
SELECT
    jrd.workspace_id,
    jrd.job_id,
    COALESCE(jm.job_name, CONCAT('Job_', jrd.job_id)) AS job_name,
    COUNT(DISTINCT jrd.run_id) AS total_runs,
    ROUND(AVG(jrd.duration_seconds), 2) AS avg_duration_seconds,
    MIN(jrd.duration_seconds) AS min_duration_seconds,
    MAX(jrd.duration_seconds) AS max_duration_seconds,
    ROUND(PERCENTILE_APPROX(jrd.duration_seconds, 0.5), 2) AS median_duration_seconds,
    ROUND(PERCENTILE_APPROX(jrd.duration_seconds, 0.9), 2) AS p90_duration_seconds,
    ROUND(PERCENTILE_APPROX(jrd.duration_seconds, 0.95), 2) AS p95_duration_seconds
FROM job_run_duration jrd
LEFT JOIN job_metadata jm ON jrd.workspace_id = jm.workspace_id
    AND jrd.job_id = jm.job_id
    AND jm.rn = 1
GROUP BY jrd.workspace_id, jrd.job_id, jm.job_name
HAVING COUNT(DISTINCT jrd.run_id) > 0
ORDER BY avg_duration_seconds DESC
`)

// JobFailures computes success and failure rates per job. FAILED, TIMEOUT
// and CANCELLED runs count as failures.
var JobFailures = newQuery("failure_analysis", "Job success and failure rates", `
WITH job_runs AS (
    SELECT DISTINCT
        jrt.workspace_id,
        jrt.job_id,
        jrt.run_id,
        jrt.result_state
    FROM system.lakeflow.job_run_timeline jrt
    WHERE jrt.period_start_time >= date_sub(current_timestamp(), {{days}})
        AND jrt.result_state IS NOT NULL
),
job_metadata AS (
    SELECT DISTINCT
        workspace_id,
        job_id,
        name AS job_name,
        ROW_NUMBER() OVER(PARTITION BY workspace_id, job_id ORDER BY change_time DESC) AS rn
    FROM system.lakeflow.jobs
)
SELECT
    jr.workspace_id,
    jr.job_id,
    COALESCE(jm.job_name, CONCAT('Job_', jr.job_id)) AS job_name,
    COUNT(DISTINCT jr.run_id) AS total_runs,
    COUNT(DISTINCT CASE WHEN jr.result_state = 'SUCCESS' THEN jr.run_id END) AS successful_runs,
    COUNT(DISTINCT CASE WHEN jr.result_state IN ('FAILED', 'TIMEOUT', 'CANCELLED') THEN jr.run_id END) AS failed_runs,
    ROUND(
        COUNT(DISTINCT CASE WHEN jr.result_state = 'SUCCESS' THEN jr.run_id END) * 100.0 /
        COUNT(DISTINCT jr.run_id), 2
    ) AS success_rate_percent,
    ROUND(
        COUNT(DISTINCT CASE WHEN jr.result_state IN ('FAILED', 'TIMEOUT', 'CANCELLED') THEN jr.run_id END) * 100.0 /
        COUNT(DISTINCT jr.run_id), 2
    ) AS failure_rate_percent
FROM job_runs jr
LEFT JOIN job_metadata jm ON jr.workspace_id = jm.workspace_id
    AND jr.job_id = jm.job_id
    AND jm.rn = 1
GROUP BY jr.workspace_id, jr.job_id, jm.job_name
HAVING COUNT(DISTINCT jr.run_id) > 0
ORDER BY failure_rate_percent DESC, total_runs DESC
`)

// ClusterCPU is the compact per node utilisation view used by the job report.
var ClusterCPU = newQuery("cluster_utilization", "Cluster CPU and memory per node role", `
SELECT
    cluster_id,
    driver,
    COUNT(*) AS data_points,
    ROUND(AVG(cpu_user_percent + cpu_system_percent), 2) AS avg_cpu_utilization,
    ROUND(MAX(cpu_user_percent + cpu_system_percent), 2) AS peak_cpu_utilization,
    ROUND(AVG(cpu_wait_percent), 2) AS avg_cpu_wait,
    ROUND(MAX(cpu_wait_percent), 2) AS max_cpu_wait,
    ROUND(AVG(mem_used_percent), 2) AS avg_memory_utilization,
    ROUND(MAX(mem_used_percent), 2) AS max_memory_utilization,
    ROUND(AVG(network_received_bytes)/(1024*1024), 2) AS avg_network_mb_received_per_minute,
    ROUND(AVG(network_sent_bytes)/(1024*1024), 2) AS avg_network_mb_sent_per_minute
FROM system.compute.node_timeline
WHERE start_time >= date_sub(current_timestamp(), {{days}})
GROUP BY cluster_id, driver
HAVING COUNT(*) > {{min_points}}
ORDER BY avg_cpu_utilization DESC
LIMIT 20
`)

// JobCosts attributes billed usage to jobs.
var JobCosts = newQuery("job_costs", "Billed usage per job", `
SELECT
    usage_metadata['job_id'] AS job_id,
    sku_name,
    usage_unit,
    ROUND(SUM(usage_quantity), 2) AS total_usage,
    COUNT(*) AS usage_records
FROM system.billing.usage
WHERE usage_date >= date_add(current_date(), -{{days}})
    AND usage_metadata['job_id'] IS NOT NULL
GROUP BY usage_metadata['job_id'], sku_name, usage_unit
ORDER BY total_usage DESC
LIMIT 50
`)

// RecentJobActivity counts runs per day.
var RecentJobActivity = newQuery("recent_activity", "Daily job activity", `
SELECT
    DATE(period_start_time) AS job_date,
    COUNT(DISTINCT job_id) AS unique_jobs,
    COUNT(DISTINCT run_id) AS total_runs,
    COUNT(DISTINCT CASE WHEN result_state = 'SUCCESS' THEN run_id END) AS successful_runs,
    COUNT(DISTINCT CASE WHEN result_state IN ('FAILED', 'TIMEOUT', 'CANCELLED') THEN run_id END) AS failed_runs
FROM system.lakeflow.job_run_timeline
WHERE period_start_time >= date_sub(current_timestamp(), {{days}})
    AND result_state IS NOT NULL
GROUP BY DATE(period_start_time)
ORDER BY job_date DESC
`)

// ClusterUtilization is the detailed per instance view joined with the
// latest cluster definition.
var ClusterUtilization = newQuery("cluster_utilization", "Cluster utilization per instance", `
SELECT
    nt.cluster_id,
    c.cluster_name,
    c.driver_node_type_id,
    c.node_type_id,
    nt.driver,
    nt.instance_id,
    ROUND(AVG(nt.cpu_user_percent + nt.cpu_system_percent), 2) AS avg_cpu_utilization,
    ROUND(MAX(nt.cpu_user_percent + nt.cpu_system_percent), 2) AS peak_cpu_utilization,
    ROUND(MIN(nt.cpu_user_percent + nt.cpu_system_percent), 2) AS min_cpu_utilization,
    ROUND(AVG(nt.cpu_wait_percent), 2) AS avg_cpu_wait,
    ROUND(MAX(nt.cpu_wait_percent), 2) AS max_cpu_wait,
    ROUND(AVG(nt.mem_used_percent), 2) AS avg_memory_utilization,
    ROUND(MAX(nt.mem_used_percent), 2) AS peak_memory_utilization,
    ROUND(MIN(nt.mem_used_percent), 2) AS min_memory_utilization,
    ROUND(AVG(nt.network_received_bytes)/(1024*1024), 2) AS avg_network_mb_received_per_minute,
    ROUND(AVG(nt.network_sent_bytes)/(1024*1024), 2) AS avg_network_mb_sent_per_minute,
    COUNT(*) AS measurement_count,
    MIN(nt.start_time) AS monitoring_start,
    MAX(nt.end_time) AS monitoring_end
FROM system.compute.node_timeline nt
LEFT JOIN (
    SELECT *,
           ROW_NUMBER() OVER(PARTITION BY cluster_id ORDER BY change_time DESC) AS rn
    FROM system.compute.clusters
) c ON nt.cluster_id = c.cluster_id AND c.rn = 1
WHERE nt.start_time >= date_add(now(), -{{days}})
GROUP BY nt.cluster_id, c.cluster_name, c.driver_node_type_id, c.node_type_id, nt.driver, nt.instance_id
ORDER BY avg_cpu_utilization DESC
`)

// NodeTypes lists the available instance shapes.
var NodeTypes = newQuery("node_types", "Available node types", `
SELECT
    node_type_id,
    memory_mb,
    num_cores,
    num_gpus,
    instance_type_id,
    is_io_cache_enabled,
    category
FROM system.compute.node_types
ORDER BY num_cores, memory_mb
`)

// ClusterEfficiency classifies clusters by how often they idle.
var ClusterEfficiency = newQuery("efficiency_metrics", "Cluster efficiency classification", `
WITH cluster_stats AS (
    SELECT
        cluster_id,
        AVG(cpu_user_percent + cpu_system_percent) AS avg_cpu_utilization,
        AVG(mem_used_percent) AS avg_memory_utilization,
        COUNT(*) AS total_measurements,
        COUNT(CASE WHEN (cpu_user_percent + cpu_system_percent) < 10 THEN 1 END) AS low_cpu_count,
        COUNT(CASE WHEN mem_used_percent < 20 THEN 1 END) AS low_memory_count
    FROM system.compute.node_timeline
    WHERE start_time >= date_add(now(), -{{days}})
    GROUP BY cluster_id
)
SELECT
    cs.*,
    ROUND((low_cpu_count * 100.0 / total_measurements), 2) AS low_cpu_percent,
    ROUND((low_memory_count * 100.0 / total_measurements), 2) AS low_memory_percent,
    CASE
        WHEN avg_cpu_utilization < 20 AND avg_memory_utilization < 30 THEN 'Underutilized'
        WHEN avg_cpu_utilization > 80 OR avg_memory_utilization > 85 THEN 'High Utilization'
        ELSE 'Normal'
    END AS efficiency_category
FROM cluster_stats cs
ORDER BY avg_cpu_utilization DESC
`)

// ClusterCosts attributes billed usage to clusters.
var ClusterCosts = newQuery("cost_analysis", "Billed usage per cluster", `
WITH cluster_usage AS (
    SELECT
        usage_metadata['cluster_id'] AS cluster_id,
        sku_name,
        usage_unit,
        SUM(usage_quantity) AS total_usage,
        COUNT(*) AS usage_records
    FROM system.billing.usage
    WHERE usage_date >= date_add(current_date(), -{{days}})
        AND usage_metadata['cluster_id'] IS NOT NULL
    GROUP BY usage_metadata['cluster_id'], sku_name, usage_unit
)
SELECT
    cu.cluster_id,
    c.cluster_name,
    cu.sku_name,
    cu.usage_unit,
    cu.total_usage,
    cu.usage_records,
    c.driver_node_type_id,
    c.node_type_id,
    c.num_workers
FROM cluster_usage cu
LEFT JOIN (
    SELECT *,
           ROW_NUMBER() OVER(PARTITION BY cluster_id ORDER BY change_time DESC) AS rn
    FROM system.compute.clusters
) c ON cu.cluster_id = c.cluster_id AND c.rn = 1
ORDER BY cu.total_usage DESC
`)
