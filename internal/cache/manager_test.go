package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.DefaultTTL = time.Minute

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "k", "v", 0))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	// 键带前缀写入 Redis
	assert.True(t, mr.Exists("facesynth:k"))
	assert.Equal(t, time.Minute, mr.TTL("facesynth:k"))
}

func TestManager_Miss(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	_, err := manager.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, Stats{Hits: 0, Misses: 1}, manager.Stats())
}

func TestManager_JSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()
	vec := []float64{0.25, -1, 3.5}
	require.NoError(t, manager.SetJSON(ctx, "emb", vec, time.Minute))

	var got []float64
	require.NoError(t, manager.GetJSON(ctx, "emb", &got))
	assert.Equal(t, vec, got)

	require.NoError(t, manager.Set(ctx, "bad", "not json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "bad", &got))

	assert.Error(t, manager.SetJSON(ctx, "chan", make(chan int), time.Minute))
}

func TestManager_DeleteAndTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "a", "1", 100*time.Millisecond))
	require.NoError(t, manager.Set(ctx, "b", "2", 0))

	mr.FastForward(200 * time.Millisecond)
	_, err := manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, manager.Delete(ctx, "b"))
	_, err = manager.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))
	assert.NoError(t, manager.Delete(ctx))
}

func TestManager_Closed(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
}

func TestNewManager_Unreachable(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:1"}, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}
