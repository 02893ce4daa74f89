package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RunID(ctx)
	assert.False(t, ok)

	ctx = WithRunID(ctx, "run-1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithPrompt(ctx, "a smiling face")

	id, ok := RunID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "run-1", id)

	tid, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", tid)

	p, ok := Prompt(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a smiling face", p)
}

func TestContextKeys_EmptyValue(t *testing.T) {
	ctx := WithRunID(context.Background(), "")
	_, ok := RunID(ctx)
	assert.False(t, ok)
}
