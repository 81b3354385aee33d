package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
)

func TestSpanTree(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "search")

	_, parse := Start(ctx, "parse")
	parse.End()
	execCtx, exec := Start(ctx, "execute")
	exec.SetAttr("segments", 3)
	exec.End()

	assert.Same(t, exec, FromContext(execCtx))
	assert.Same(t, root, FromContext(ctx))
	root.End()

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "parse", children[0].Name)
	assert.Equal(t, "req-1", children[1].TraceID)
}

func TestLogOnlyAtDebug(t *testing.T) {
	ctx, root := Start(context.Background(), "search")
	_, child := Start(ctx, "execute")
	child.End()
	root.End()

	var buf bytes.Buffer
	info := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	root.Log(ctx, info)
	assert.Empty(t, buf.String())

	debug := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	root.Log(ctx, debug)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=search")
	assert.Contains(t, lines[1], "span=execute")
	assert.Contains(t, lines[1], "depth=1")
}
