package warehouse_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/svcotel"
	"github.com/vk-rv/lakemon/internal/warehouse"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestStoreQuery(t *testing.T) {
	t.Parallel()

	const query = `SELECT cluster_id, avg_cpu_utilization FROM system.compute.node_timeline`

	queryError := errors.New("warehouse is stopped")

	tests := []struct {
		expectedError error
		mockExpect    func(mock sqlmock.Sqlmock)
		expectedTable *lakemon.Table
		name          string
	}{
		{
			name: "HappyPath",
			mockExpect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WillReturnRows(sqlmock.NewRows([]string{"cluster_id", "avg_cpu_utilization"}).
						AddRow("c-1", 91.5).
						AddRow([]byte("c-2"), 12.25))
			},
			expectedTable: lakemon.NewTable("cluster_utilization",
				[]string{"cluster_id", "avg_cpu_utilization"},
				[]any{"c-1", 91.5},
				[]any{"c-2", 12.25},
			),
		},
		{
			name: "NoRows",
			mockExpect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WillReturnRows(sqlmock.NewRows([]string{"cluster_id", "avg_cpu_utilization"}))
			},
			expectedTable: &lakemon.Table{
				Name:    "cluster_utilization",
				Columns: []string{"cluster_id", "avg_cpu_utilization"},
				Rows:    [][]any{},
			},
		},
		{
			name: "QueryError",
			mockExpect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WillReturnError(queryError)
			},
			expectedError: fmt.Errorf("warehouse: query cluster_utilization: %w", queryError),
			expectedTable: &lakemon.Table{Name: "cluster_utilization"},
		},
		{
			name: "RowError",
			mockExpect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WillReturnRows(sqlmock.NewRows([]string{"cluster_id", "avg_cpu_utilization"}).
						AddRow("c-1", 91.5).
						RowError(0, queryError))
			},
			expectedError: fmt.Errorf("warehouse: query cluster_utilization: %w", fmt.Errorf("rows: %w", queryError)),
			expectedTable: &lakemon.Table{Name: "cluster_utilization"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			if err != nil {
				t.Fatalf("failed to open sqlmock: %v", err)
			}
			defer db.Close()
			tt.mockExpect(mock)

			store := warehouse.NewStore(db, svcotel.NewNoopProvider(), fixedNow, discardLogger())

			res := store.Query(t.Context(), "cluster_utilization", query)

			assert.Equal(t, tt.expectedError, res.Err)
			assert.Equal(t, tt.expectedTable, res.Table)
			assert.Equal(t, "cluster_utilization", res.Name)
			assert.Equal(t, query, res.Query)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreWithoutConnectionFailsFast(t *testing.T) {
	t.Parallel()

	store := warehouse.NewStore(nil, svcotel.NewNoopProvider(), fixedNow, discardLogger())

	res := store.Query(t.Context(), "runtime_metrics", "SELECT 1")
	require.ErrorIs(t, res.Err, lakemon.ErrNoConnection)
	require.NotNil(t, res.Table)
	assert.True(t, res.Table.Empty())

	assert.ErrorIs(t, store.Ping(t.Context()), lakemon.ErrNoConnection)
}

func TestStorePing(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 1 AS test").
		WillReturnRows(sqlmock.NewRows([]string{"test"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT 1 AS test").
		WillReturnError(errors.New("invalid access token"))

	store := warehouse.NewStore(db, svcotel.NewNoopProvider(), fixedNow, discardLogger())

	assert.NoError(t, store.Ping(t.Context()))
	assert.Error(t, store.Ping(t.Context()))
}

func TestStoreProbes(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW TABLES IN system.lakeflow").
		WillReturnRows(sqlmock.NewRows([]string{"database", "tableName", "isTemporary"}).
			AddRow("lakeflow", "jobs", false).
			AddRow("lakeflow", "job_run_timeline", false))
	mock.ExpectQuery("DESCRIBE system.lakeflow.jobs").
		WillReturnRows(sqlmock.NewRows([]string{"col_name", "data_type", "comment"}).
			AddRow("job_id", "string", nil))

	store := warehouse.NewStore(db, svcotel.NewNoopProvider(), fixedNow, discardLogger())

	tables := store.ListTables(t.Context(), "system.lakeflow")
	require.NoError(t, tables.Err)
	assert.Equal(t, 2, tables.Table.Len())
	assert.Equal(t, "job_run_timeline", tables.Table.Text(1, "tableName"))

	cols := store.DescribeTable(t.Context(), "system.lakeflow.jobs")
	require.NoError(t, cols.Err)
	assert.Equal(t, "job_id", cols.Table.Text(0, "col_name"))

	bad := store.DescribeTable(t.Context(), "jobs; DROP")
	assert.Error(t, bad.Err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigEndpoint(t *testing.T) {
	t.Parallel()

	cfg := warehouse.Config{Host: "https://adb-123.azuredatabricks.net/", WarehouseID: "abc123"}

	assert.Equal(t, "adb-123.azuredatabricks.net", cfg.Hostname())
	assert.Equal(t, "/sql/1.0/warehouses/abc123", cfg.HTTPPath())
}

func TestConnectLoopWithoutWarehouse(t *testing.T) {
	t.Parallel()

	_, _, err := warehouse.ConnectLoop(t.Context(), warehouse.Config{Host: "h", Token: "t"}, discardLogger())
	assert.ErrorIs(t, err, lakemon.ErrNoConnection)
}
