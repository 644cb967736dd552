package systables

import (
	"context"
	"log/slog"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// Source is a query plus the column its result is ordered by. An empty
// SortBy keeps the order the warehouse returned.
type Source struct {
	Query  Query
	SortBy string
}

// Fetch runs every source in order and collects the results into a metric
// set. A failing source is logged and kept as a failed result; the
// remaining sources still run.
func Fetch(
	ctx context.Context,
	runner lakemon.QueryRunner,
	monitor string,
	sources []Source,
	params Params,
	logger *slog.Logger,
) lakemon.MetricSet {
	set := lakemon.MetricSet{
		Monitor: monitor,
		Days:    params.Days,
		Results: make([]lakemon.Result, 0, len(sources)),
	}

	for _, src := range sources {
		res := runner.Query(ctx, src.Query.Name, src.Query.Render(params))
		res.Name = src.Query.Name
		if res.Table == nil {
			res.Table = &lakemon.Table{Name: src.Query.Name}
		}
		if !res.Ok() {
			logger.Warn("fetch table",
				slog.String("table", src.Query.Name),
				slog.Int("days", params.Days),
				slog.Any("error", res.Err))
		} else if src.SortBy != "" {
			res.Table = res.Table.SortDesc(src.SortBy)
		}
		set.Results = append(set.Results, res)
	}

	return set
}
