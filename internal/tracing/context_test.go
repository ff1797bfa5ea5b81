package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithSessionID(ctx, "sess-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "turn-1", GetTurnID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
}

func TestContextEmptyValues(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTurnID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTurnID(WithUserID(context.Background(), "user-9"), "turn-9")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hi")

	out := buf.String()
	assert.Contains(t, out, `"user_id":"user-9"`)
	assert.Contains(t, out, `"turn_id":"turn-9"`)
}

func TestNewTraceID(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
