package stdlog_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk-rv/lakemon/internal/stdlog"
)

func TestSlogLogger_Logf(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := stdlog.NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	logger.Logf("maxprocs: updating GOMAXPROCS=%d", 4)

	output := buf.String()
	if !strings.Contains(output, "updating GOMAXPROCS=4") {
		t.Errorf("Logf() output does not contain expected message: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Logf() output does not contain INFO level: %s", output)
	}
}

func TestNewSlogLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := stdlog.NewSlogLogger(&buf, false, slog.LevelInfo)

	logger.Info("test message")
	logger.Debug("hidden")

	output := buf.String()
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"level":"INFO"`)
	assert.NotContains(t, output, "hidden")
}

func TestNewSlogLogger_TextDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := stdlog.NewSlogLogger(&buf, true, slog.LevelDebug)

	logger.Debug("visible", slog.String("table", "node_types"))

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "table=node_types")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := stdlog.ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "monitoring.log")

	logger, closeLog, err := stdlog.Open(stdlog.Config{Output: path, Level: "info"})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
