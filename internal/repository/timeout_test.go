package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remaining(t *testing.T, ctx context.Context) time.Duration {
	t.Helper()
	deadline, ok := ctx.Deadline()
	require.True(t, ok, "context has no deadline")
	return time.Until(deadline)
}

func TestStreamTimeoutIsSeparateFromOperationTimeout(t *testing.T) {
	repo := NewRepository(nil, time.Second, time.Minute)

	opCtx, cancel := repo.withTimeout(context.Background())
	defer cancel()
	assert.LessOrEqual(t, remaining(t, opCtx), time.Second)

	streamCtx, cancel := repo.withStreamTimeout(context.Background())
	defer cancel()
	left := remaining(t, streamCtx)
	assert.Greater(t, left, 59*time.Second)
	assert.LessOrEqual(t, left, time.Minute)
}

func TestStreamTimeoutDefaultsToOperationTimeout(t *testing.T) {
	repo := NewRepository(nil, 2*time.Second, 0)

	ctx, cancel := repo.withStreamTimeout(context.Background())
	defer cancel()
	left := remaining(t, ctx)
	assert.Greater(t, left, time.Second)
	assert.LessOrEqual(t, left, 2*time.Second)
}

func TestNoTimeoutLeavesContextUnbounded(t *testing.T) {
	repo := NewRepository(nil, 0, 0)

	ctx, cancel := repo.withStreamTimeout(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)
}
