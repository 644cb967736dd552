package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/svcotel"
	"github.com/vk-rv/lakemon/internal/systables"
)

// Store runs system table queries. A Store without a pool fails every
// query with lakemon.ErrNoConnection without touching the network.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

var _ lakemon.QueryRunner = (*Store)(nil)

// NewStore creates a new Store. db may be nil.
func NewStore(db *sql.DB, tracerProvider svcotel.TracerProvider, now func() time.Time, logger *slog.Logger) *Store {
	return &Store{db: db, tracer: tracerProvider.Tracer("warehouse"), now: now, logger: logger}
}

// Query executes the statement and returns its rows as a table named name.
// Errors are logged and carried in the result.
func (s *Store) Query(ctx context.Context, name, query string) lakemon.Result {
	res := lakemon.Result{Name: name, Query: query, Table: &lakemon.Table{Name: name}}

	if s.db == nil {
		s.logger.Warn("no SQL connection available", slog.String("table", name))
		res.Err = lakemon.ErrNoConnection
		return res
	}

	ctx, span := s.tracer.Start(ctx, "Store.Query", trace.WithAttributes(attribute.String("lakemon.table", name)))
	defer span.End()

	start := s.now()
	table, err := s.query(ctx, name, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logger.Error("query execution failed", slog.String("table", name), slog.Any("error", err))
		res.Err = fmt.Errorf("warehouse: query %s: %w", name, err)
		return res
	}

	span.SetAttributes(attribute.Int("lakemon.rows", table.Len()))
	s.logger.Info("query executed",
		slog.String("table", name),
		slog.Int("rows", table.Len()),
		slog.Duration("elapsed", s.now().Sub(start)))

	res.Table = table
	return res
}

func (s *Store) query(ctx context.Context, name, query string) (_ *lakemon.Table, err error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	table := &lakemon.Table{Name: name, Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return table, nil
}

// Ping runs the connectivity probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return lakemon.ErrNoConnection
	}

	ctx, span := s.tracer.Start(ctx, "Store.Ping")
	defer span.End()

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1 AS test").Scan(&one); err != nil {
		return fmt.Errorf("warehouse: ping: %w", err)
	}
	if one != 1 {
		return errors.New("warehouse: ping: unexpected probe result")
	}
	return nil
}

// ListTables lists the tables of a system schema.
func (s *Store) ListTables(ctx context.Context, schema string) lakemon.Result {
	query, err := systables.ShowTables(schema)
	if err != nil {
		return lakemon.Result{Name: schema, Table: &lakemon.Table{Name: schema}, Err: err}
	}
	return s.Query(ctx, schema, query)
}

// DescribeTable lists the columns of a table.
func (s *Store) DescribeTable(ctx context.Context, table string) lakemon.Result {
	query, err := systables.Describe(table)
	if err != nil {
		return lakemon.Result{Name: table, Table: &lakemon.Table{Name: table}, Err: err}
	}
	return s.Query(ctx, table, query)
}
