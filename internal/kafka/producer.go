package kafka

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// CompressionCodec configures how record batches are compressed.
type CompressionCodec = kgo.CompressionCodec

const (
	defaultMaxBufferedRecords       = 10_000
	defaultBatchMaxBytes      int32 = 1_000_000
)

// ProducerConfig holds configuration for publishing records.
//
//nolint:govet // field order follows the option groups
type ProducerConfig struct {
	CommonConfig

	Reg                    prometheus.Registerer
	ProduceCallback        func(*kgo.Record, error)
	CompressionCodec       []CompressionCodec
	MaxBufferedRecords     int
	ProducerBatchMaxBytes  int32
	Sync                   bool
	AllowAutoTopicCreation bool
}

func (cfg *ProducerConfig) finalize() error {
	cfg.CommonConfig.finalize()
	cfg.MaxBufferedRecords = cmp.Or(cfg.MaxBufferedRecords, defaultMaxBufferedRecords)
	cfg.ProducerBatchMaxBytes = cmp.Or(cfg.ProducerBatchMaxBytes, defaultBatchMaxBytes)
	cfg.MetadataMaxAge = cmp.Or(cfg.MetadataMaxAge, time.Minute)

	switch {
	case len(cfg.Brokers) == 0:
		return errors.New("kafka: no seed brokers")
	case cfg.MaxBufferedRecords < 0:
		return fmt.Errorf("kafka: negative max buffered records %d", cfg.MaxBufferedRecords)
	case cfg.ProducerBatchMaxBytes < 0:
		return fmt.Errorf("kafka: negative batch max bytes %d", cfg.ProducerBatchMaxBytes)
	}
	return nil
}

// Producer publishes records to Kafka.
type Producer struct {
	cfg    *ProducerConfig
	client *kgo.Client
	mu     sync.RWMutex
}

// NewProducer returns a new Producer with the given config.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("kafka: invalid producer config: %w", err)
	}
	opts := []kgo.Opt{
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.ProducerBatchMaxBytes(cfg.ProducerBatchMaxBytes),
		// records of one category keep their order
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}
	if len(cfg.CompressionCodec) > 0 {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.CompressionCodec...))
	}
	if cfg.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	client, err := cfg.newClient(cfg.Reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return &Producer{cfg: cfg, client: client}, nil
}

// Close flushes buffered records and closes the client. The producer
// cannot be reused afterwards.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.client.Flush(context.Background()); err != nil {
		return fmt.Errorf("kafka: flush on close: %w", err)
	}
	p.client.Close()
	return nil
}

// Healthy returns an error if no discovered broker can be reached.
func (p *Producer) Healthy(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka: health probe: %w", err)
	}
	return nil
}

// Produce publishes the records. A synchronous producer waits for every
// record and returns the joined failures; otherwise records are buffered
// and failures are only logged. Metadata attached to ctx becomes record
// headers.
func (p *Producer) Produce(ctx context.Context, rs ...lakemon.Record) error {
	if len(rs) == 0 {
		return nil
	}

	// Close must not run while records are handed over.
	p.mu.RLock()
	defer p.mu.RUnlock()

	records := p.records(ctx, rs)
	if !p.cfg.Sync {
		ctx = DetachedContext(ctx)
		for _, r := range records {
			p.client.Produce(ctx, r, p.delivered)
		}
		return nil
	}

	var errs []error
	for _, res := range p.client.ProduceSync(ctx, records...) {
		p.delivered(res.Record, res.Err)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("kafka: produce to %s: %w", p.topic(res.Record), res.Err))
		}
	}
	return errors.Join(errs...)
}

func (p *Producer) records(ctx context.Context, rs []lakemon.Record) []*kgo.Record {
	var headers []kgo.RecordHeader
	if m, ok := MetadataFromContext(ctx); ok {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(m[k])})
		}
	}
	prefix := p.cfg.namespacePrefix()
	out := make([]*kgo.Record, len(rs))
	for i, r := range rs {
		out[i] = &kgo.Record{
			Headers: headers,
			Topic:   prefix + r.Topic,
			Key:     r.OrderingKey,
			Value:   r.Value,
		}
	}
	return out
}

// delivered runs once per record; kotel has already marked a failed span.
func (p *Producer) delivered(r *kgo.Record, err error) {
	if err != nil {
		p.cfg.Logger.Error("failed producing record",
			slog.Any("error", err),
			slog.String("topic", p.topic(r)),
			slog.Int("partition", int(r.Partition)),
		)
	}
	if p.cfg.ProduceCallback != nil {
		p.cfg.ProduceCallback(r, err)
	}
}

func (p *Producer) topic(r *kgo.Record) string {
	return strings.TrimPrefix(r.Topic, p.cfg.namespacePrefix())
}
