// Package mock contains mock implementations of the lakemon interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// QueryRunner is a mock implementation of lakemon.QueryRunner.
type QueryRunner struct {
	QueryFn func(ctx context.Context, name, query string) lakemon.Result

	mu    sync.Mutex
	calls []string
}

func (m *QueryRunner) Query(ctx context.Context, name, query string) lakemon.Result {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	return m.QueryFn(ctx, name, query)
}

// Calls returns the table names queried so far.
func (m *QueryRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// TableRunner answers each query from tables keyed by name. Names listed in
// failing return err instead; unknown names return an empty table.
func TableRunner(tables map[string]*lakemon.Table, failing map[string]error) *QueryRunner {
	return &QueryRunner{
		QueryFn: func(_ context.Context, name, query string) lakemon.Result {
			if err, ok := failing[name]; ok {
				return lakemon.Result{Name: name, Query: query, Table: &lakemon.Table{Name: name}, Err: err}
			}
			if t, ok := tables[name]; ok {
				return lakemon.Result{Name: name, Query: query, Table: t}
			}
			return lakemon.Result{Name: name, Query: query, Table: &lakemon.Table{Name: name}}
		},
	}
}
