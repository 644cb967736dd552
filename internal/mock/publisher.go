package mock

import (
	"context"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// Publisher is a mock implementation of kafka.Publisher.
type Publisher struct {
	ProduceFn func(ctx context.Context, rs ...lakemon.Record) error
}

func (m *Publisher) Produce(ctx context.Context, rs ...lakemon.Record) error {
	return m.ProduceFn(ctx, rs...)
}
