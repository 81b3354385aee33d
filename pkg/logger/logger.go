package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

// Setup installs the default slog logger. Format is "json", "text" or "zap";
// the last routes slog records through a zap production core.
func Setup(level string, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level, format)))
}

func NewHandler(w io.Writer, level string, format string) slog.Handler {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "zap":
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(w),
			zapcore.DebugLevel,
		)
		return slogzap.Option{Level: lvl, Logger: zap.New(core)}.NewZapHandler()
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if requestID, ok := ctx.Value(contextKey{}).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
