// Package kafka publishes lakemon records to Kafka with franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kprom"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// MetricsPrefix namespaces the kprom client metrics.
const MetricsPrefix = "lakemon_kafka_client"

// SASLMechanism type alias to sasl.Mechanism.
type SASLMechanism = sasl.Mechanism

// CommonConfig is the client configuration shared by every Kafka role.
type CommonConfig struct {
	SASL             SASLMechanism
	TracerProvider   trace.TracerProvider
	Logger           *slog.Logger
	Dialer           func(ctx context.Context, network, address string) (net.Conn, error)
	TLS              *tls.Config
	ClientID         string
	Version          string
	Namespace        string
	Component        string
	Brokers          []string
	MetadataMaxAge   time.Duration
	DisableTelemetry bool
	Histograms       bool
}

func (cfg *CommonConfig) finalize() {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Namespace != "" {
		cfg.Logger = cfg.Logger.With(slog.String("namespace", cfg.Namespace))
	}
	if cfg.Component == "" {
		cfg.Component = "lakemon.alerts"
	}
}

func (cfg *CommonConfig) newClient(reg prometheus.Registerer, extra ...kgo.Opt) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.WithLogger(kslog.New(cfg.Logger)),
		kgo.SeedBrokers(cfg.Brokers...),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
		if cfg.Version != "" {
			opts = append(opts, kgo.SoftwareNameAndVersion(cfg.ClientID, cfg.Version))
		}
	}
	switch {
	case cfg.Dialer != nil:
		opts = append(opts, kgo.Dialer(cfg.Dialer))
	case cfg.TLS != nil:
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS.Clone()))
	}
	if cfg.SASL != nil {
		opts = append(opts, kgo.SASL(cfg.SASL))
	}
	opts = append(opts, extra...)
	if !cfg.DisableTelemetry {
		opts = append(opts,
			kgo.WithHooks(kotel.NewTracer(kotel.TracerProvider(cfg.tracerProvider()))),
			kgo.WithHooks(NewClientMetrics(cfg.Component, reg, cfg.Histograms)),
		)
	}
	if cfg.MetadataMaxAge > 0 {
		opts = append(opts, kgo.MetadataMaxAge(cfg.MetadataMaxAge))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	// populate the broker list up front
	client.ForceMetadataRefresh()
	return client, nil
}

func (cfg *CommonConfig) namespacePrefix() string {
	if cfg.Namespace == "" {
		return ""
	}
	return cfg.Namespace + "-"
}

func (cfg *CommonConfig) tracerProvider() trace.TracerProvider {
	if cfg.TracerProvider != nil {
		return cfg.TracerProvider
	}
	return otel.GetTracerProvider()
}

// NewClientMetrics returns the kprom hooks of one client, labelled with the
// component that owns it.
func NewClientMetrics(component string, reg prometheus.Registerer, histograms bool) *kprom.Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return kprom.NewMetrics(MetricsPrefix,
		kprom.Registerer(prometheus.WrapRegistererWith(prometheus.Labels{"component": component}, reg)),
		kprom.FetchAndProduceDetail(kprom.Batches, kprom.Records, kprom.CompressedBytes, kprom.UncompressedBytes),
		histogramOpts(histograms),
	)
}

func histogramOpts(enable bool) kprom.Opt {
	if !enable {
		return kprom.HistogramsFromOpts()
	}
	opts := make([]kprom.HistogramOpts, 0, 4)
	for _, h := range []kprom.Histogram{kprom.ReadTime, kprom.ReadWait, kprom.WriteTime, kprom.WriteWait} {
		opts = append(opts, kprom.HistogramOpts{Enable: h, Buckets: prometheus.DefBuckets})
	}
	return kprom.HistogramsFromOpts(opts...)
}
