package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/logger"
)

func TestChildSpansShareTraceID(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "ingest")
	assert.Equal(t, "req-1", root.TraceID)

	_, stage := Start(ctx, "stage")
	stage.End(nil)
	_, idx := Start(ctx, "index")
	idx.End(errors.New("closed"))
	root.End(nil)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "stage", children[0].Name)
	assert.Equal(t, "req-1", children[1].TraceID)
	assert.EqualError(t, children[1].Err, "closed")
	assert.Same(t, root, FromContext(ctx))
}

func TestRootWithoutRequestIDGetsTraceID(t *testing.T) {
	_, span := Start(context.Background(), "delete")
	assert.Len(t, span.TraceID, 36)
}

func TestLogOnlyAtDebug(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger.SetupWriter(&buf, "info", "text")
	ctx, root := Start(context.Background(), "ingest")
	_, child := Start(ctx, "stage")
	child.SetAttr("attempts", 2)
	child.End(nil)
	root.End(nil)
	root.Log(ctx)
	assert.Empty(t, buf.String())

	logger.SetupWriter(&buf, "debug", "text")
	root.Log(ctx)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=ingest")
	assert.Contains(t, lines[1], "span=stage")
	assert.Contains(t, lines[1], "depth=1")
	assert.Contains(t, lines[1], "attempts=2")
}
