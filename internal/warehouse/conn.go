// Package warehouse provides a connection to a Databricks SQL warehouse and
// a store executing system table queries over it.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dbsql "github.com/databricks/databricks-sql-go"
	dbsqllog "github.com/databricks/databricks-sql-go/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.9.0"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

const driverName = "databricks"

// Config contains information sufficient for a warehouse connection.
type Config struct {
	Host           string        `env:"DATABRICKS_HOST"             env-required:"true"`
	Token          string        `env:"DATABRICKS_TOKEN"            env-required:"true"`
	WarehouseID    string        `env:"DATABRICKS_WAREHOUSE_ID"`
	ClusterID      string        `env:"DATABRICKS_CLUSTER_ID"`
	DriverLogLevel string        `env:"DATABRICKS_DRIVER_LOG_LEVEL" env-default:"warn"`
	Port           int           `env:"DATABRICKS_PORT"             env-default:"443"`
	MaxOpenConns   int           `env:"DATABRICKS_MAX_OPEN_CONNS"   env-default:"4"`
	ConnectTimeout time.Duration `env:"DATABRICKS_CONNECT_TIMEOUT"  env-default:"10s"`
	QueryTimeout   time.Duration `env:"DATABRICKS_QUERY_TIMEOUT"    env-default:"5m"`
}

// Hostname returns the workspace host without scheme and trailing slash.
func (c *Config) Hostname() string {
	h := strings.TrimPrefix(c.Host, "https://")
	h = strings.TrimPrefix(h, "http://")
	return strings.TrimSuffix(h, "/")
}

// HTTPPath returns the warehouse endpoint path.
func (c *Config) HTTPPath() string {
	return "/sql/1.0/warehouses/" + c.WarehouseID
}

// ConnectLoop opens a pool of warehouse sessions. Serverless warehouses can
// take a while to resume, so the ping is retried every second until the
// connect timeout is exceeded.
func ConnectLoop(ctx context.Context, cfg Config, logger *slog.Logger) (db *sql.DB, closeFunc func() error, err error) {
	if cfg.WarehouseID == "" {
		return nil, nil, fmt.Errorf("warehouse: DATABRICKS_WAREHOUSE_ID is not set: %w", lakemon.ErrNoConnection)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.DriverLogLevel != "" {
		if err = dbsqllog.SetLogLevel(cfg.DriverLogLevel); err != nil {
			return nil, nil, fmt.Errorf("warehouse: set driver log level: %w", err)
		}
	}

	logger = logger.With(slog.String("subsystem", driverName))

	db, err = createDBPool(ctx, &cfg)
	if err == nil {
		configureDBPool(db, &cfg)
		logger.Info("warehouse: connected", slog.String("host", cfg.Hostname()), slog.String("http_path", cfg.HTTPPath()))
		return db, db.Close, nil
	}

	logger.Error("warehouse: failed to connect", slog.Any("error", err))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(cfg.ConnectTimeout)

	for {
		select {
		case <-timeoutExceeded:
			return nil, nil, fmt.Errorf("warehouse: connection failed after %s timeout: %w", cfg.ConnectTimeout, err)
		case <-ticker.C:
			db, err = createDBPool(ctx, &cfg)
			if err == nil {
				configureDBPool(db, &cfg)
				logger.Info("warehouse: connected", slog.String("host", cfg.Hostname()))
				return db, db.Close, nil
			}
			logger.Error("warehouse: connect", slog.Any("error", err))
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("warehouse: connection failed, ctx done: %w", ctx.Err())
		}
	}
}

// createDBPool builds a traced pool over the Databricks connector and pings it.
func createDBPool(ctx context.Context, cfg *Config) (*sql.DB, error) {
	connector, err := dbsql.NewConnector(
		dbsql.WithServerHostname(cfg.Hostname()),
		dbsql.WithPort(cfg.Port),
		dbsql.WithHTTPPath(cfg.HTTPPath()),
		dbsql.WithAccessToken(cfg.Token),
		dbsql.WithTimeout(cfg.QueryTimeout),
		dbsql.WithUserAgentEntry("lakemon"),
	)
	if err != nil {
		return nil, fmt.Errorf("warehouse: create connector: %w", err)
	}

	db := otelsql.OpenDB(connector,
		otelsql.WithAttributes(semconv.DBSystemKey.String(driverName)),
		otelsql.WithDBName("system"))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warehouse: ping: %w", err)
	}

	return db, nil
}

func configureDBPool(db *sql.DB, cfg *Config) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)
}
