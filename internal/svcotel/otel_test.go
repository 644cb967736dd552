package svcotel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vk-rv/lakemon/internal/svcotel"
)

func TestStartWithoutReporterIsNoop(t *testing.T) {
	t.Parallel()

	tp, err := svcotel.Start(t.Context(), svcotel.Config{ServiceName: "lakemon"})
	require.NoError(t, err)

	_, ok := tp.(*svcotel.NoopProvider)
	assert.True(t, ok, "expected a NoopProvider, got %T", tp)

	_, span := tp.Tracer("test").Start(t.Context(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tp.Shutdown(t.Context()))
}

func TestNoopProviderRegisterSpanProcessor(t *testing.T) {
	t.Parallel()

	provider := svcotel.NewNoopProvider()
	provider.RegisterSpanProcessor(&mockSpanProcessor{})
}

type mockSpanProcessor struct{}

func (m *mockSpanProcessor) OnStart(context.Context, tracesdk.ReadWriteSpan) {}
func (m *mockSpanProcessor) OnEnd(tracesdk.ReadOnlySpan)                     {}
func (m *mockSpanProcessor) Shutdown(context.Context) error                  { return nil }
func (m *mockSpanProcessor) ForceFlush(context.Context) error                { return nil }
