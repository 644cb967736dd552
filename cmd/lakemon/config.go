package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/vk-rv/lakemon/internal/lakemon"
	"github.com/vk-rv/lakemon/internal/stdlog"
	"github.com/vk-rv/lakemon/internal/svcotel"
	"github.com/vk-rv/lakemon/internal/warehouse"
)

//nolint:tagalign // grouped by concern
type config struct {
	Monitor struct {
		RefreshIntervalMinutes int           `env:"MONITOR_REFRESH_INTERVAL_MINUTES" env-default:"5"`
		RetentionDays          int           `env:"MONITOR_RETENTION_DAYS"           env-default:"30"`
		Timeout                time.Duration `env:"MONITOR_TIMEOUT"                  env-default:"5m"`
	}
	Alert struct {
		WebhookURL         string   `env:"ALERT_WEBHOOK_URL"`
		WebhookSecret      string   `env:"ALERT_WEBHOOK_SECRET"`
		KafkaTopic         string   `env:"ALERT_KAFKA_TOPIC"          env-default:"lakemon-alerts"`
		KafkaBrokers       []string `env:"ALERT_KAFKA_BROKERS"`
		CPUThreshold       float64  `env:"ALERT_CPU_THRESHOLD"        env-default:"80"`
		MemoryThreshold    float64  `env:"ALERT_MEMORY_THRESHOLD"     env-default:"85"`
		JobDurationMinutes float64  `env:"ALERT_JOB_DURATION_MINUTES" env-default:"60"`
		FailureRate        float64  `env:"ALERT_FAILURE_RATE"         env-default:"0.1"`
	}
	Metrics struct {
		Host         string        `env:"METRICS_HOST"          env-default:"localhost"`
		Port         string        `env:"METRICS_PORT"          env-default:"9108"`
		Path         string        `env:"METRICS_PATH"          env-default:"/metrics"`
		CloseTimeout time.Duration `env:"METRICS_CLOSE_TIMEOUT" env-default:"5s"`
	}
	Log       stdlog.Config
	Tracing   svcotel.Config
	OutputDir string `env:"OUTPUT_DIR" env-default:"./reports"`
	Warehouse warehouse.Config
}

// flags are the command line overrides. Zero values keep the environment.
type flags struct {
	outputDir       string
	describe        string
	cpuThreshold    float64
	memoryThreshold float64
	days            int
	text            bool
}

// loadConfig reads an optional .env file and then the environment.
func loadConfig(envFile string) (*config, error) {
	if err := godotenv.Load(envFile); err != nil && envFile != defaultEnvFile {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg := &config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func (c *config) apply(fl *flags) {
	if fl.outputDir != "" {
		c.OutputDir = fl.outputDir
	}
	if fl.cpuThreshold > 0 {
		c.Alert.CPUThreshold = fl.cpuThreshold
	}
	if fl.memoryThreshold > 0 {
		c.Alert.MemoryThreshold = fl.memoryThreshold
	}
}

// Thresholds returns the stock thresholds with the configured overrides.
func (c *config) Thresholds() lakemon.Thresholds {
	th := lakemon.DefaultThresholds()
	th.CPUPercent = c.Alert.CPUThreshold
	th.MemoryPercent = c.Alert.MemoryThreshold
	th.JobDurationMinutes = c.Alert.JobDurationMinutes
	th.FailureRate = c.Alert.FailureRate
	return th
}

// RefreshInterval is both the cache TTL and the watch period.
func (c *config) RefreshInterval() time.Duration {
	return time.Duration(c.Monitor.RefreshIntervalMinutes) * time.Minute
}

// Validate checks the values cleanenv cannot.
func (c *config) Validate() error {
	var errs []error
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.RefreshIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("refresh interval must be positive, got %d", c.Monitor.RefreshIntervalMinutes))
	}
	if _, adjusted := lakemon.ClampDays(c.Monitor.RetentionDays); adjusted {
		errs = append(errs, fmt.Errorf("retention days must be within 1..90, got %d", c.Monitor.RetentionDays))
	}
	if c.Monitor.Timeout <= 0 {
		errs = append(errs, errors.New("monitor timeout must be positive"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir is empty"))
	}
	if c.Tracing.Probability < 0 || c.Tracing.Probability > 1 {
		errs = append(errs, fmt.Errorf("tracing probability must be within 0..1, got %.2f", c.Tracing.Probability))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
