package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHandlerFormats(t *testing.T) {
	for _, format := range []string{"json", "text", "zap"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(NewHandler(&buf, "info", format))

			log.Info("segment flushed", "segment", "seg_000001")
			log.Debug("hidden at info level")

			out := buf.String()
			assert.Contains(t, out, "segment flushed")
			assert.Contains(t, out, "seg_000001")
			assert.NotContains(t, out, "hidden at info level")
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
