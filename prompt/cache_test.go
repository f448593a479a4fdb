package prompt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/llm"
)

func versionFor(promptID uint) *Version {
	return &Version{
		ID:             promptID * 10,
		PromptID:       promptID,
		Number:         1,
		SystemTemplate: "system",
		PromptType:     TypeStatic,
		Model:          "gpt-4o",
		Provider:       llm.KindOpenAI,
	}
}

func countingLoader(calls *atomic.Int64) Loader {
	return func(_ context.Context, promptID uint) (*Version, error) {
		calls.Add(1)
		return versionFor(promptID), nil
	}
}

func TestCacheServesFromMemoryAfterMiss(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingLoader(&calls), CacheOptions{}, nil)

	v, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v.PromptID)
	assert.EqualValues(t, 1, calls.Load())

	_, err = c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingLoader(&calls), CacheOptions{Capacity: 2}, nil)

	ctx := context.Background()
	for _, id := range []uint{1, 2} {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}

	// Touch 1 so 2 becomes the eviction candidate.
	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	_, err = c.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	before := calls.Load()
	_, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())

	_, err = c.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, before+1, calls.Load())
}

func TestCacheRemoveForcesReload(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingLoader(&calls), CacheOptions{}, nil)

	ctx := context.Background()
	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	c.Remove(ctx, 1)

	_, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCacheInsertReplacesEntry(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingLoader(&calls), CacheOptions{}, nil)

	ctx := context.Background()
	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	updated := versionFor(1)
	updated.Number = 2
	c.Insert(ctx, updated)

	v, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Number)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int64
	loader := func(_ context.Context, promptID uint) (*Version, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return versionFor(promptID), nil
	}
	c := NewCache(loader, CacheOptions{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), 1)
			assert.NoError(t, err)
			assert.Equal(t, uint(1), v.PromptID)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestCacheMissingVersionIsInvalidRequest(t *testing.T) {
	loader := func(context.Context, uint) (*Version, error) { return nil, nil }
	c := NewCache(loader, CacheOptions{}, nil)

	_, err := c.Get(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, llm.ClassInvalidRequest, llm.ClassOf(err))
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestCacheRedisSecondLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()

	var callsA atomic.Int64
	a := NewCache(countingLoader(&callsA), CacheOptions{Redis: rdb}, nil)
	_, err := a.Get(ctx, 1)
	require.NoError(t, err)

	// A second instance sharing the Redis level resolves the version
	// without touching its own loader.
	b := NewCache(func(context.Context, uint) (*Version, error) {
		t.Fatal("loader must not run when Redis has the entry")
		return nil, nil
	}, CacheOptions{Redis: rdb}, nil)

	v, err := b.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v.PromptID)

	// Remove clears both levels.
	a.Remove(ctx, 1)
	assert.False(t, mr.Exists("promptgate:version:1"))
}
