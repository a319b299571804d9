package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) Cache[string] {
	t.Helper()
	c, err := New[string]()
	require.NoError(t, err)
	return c
}

func TestBasicOperations(t *testing.T) {
	c := newTestCache(t)

	_, exists := c.Get("key1")
	assert.False(t, exists)

	isNew, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, isNew)

	value, exists := c.Get("key1")
	assert.True(t, exists)
	assert.Equal(t, "value1", value)

	isNew, err = c.Set("key1", "value1_updated")
	require.NoError(t, err)
	assert.False(t, isNew)

	value, _ = c.Get("key1")
	assert.Equal(t, "value1_updated", value)

	deleted, err := c.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestEmptyKeyRejected(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Set("", "value")
	assert.Error(t, err)

	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestClearAndSize(t *testing.T) {
	c := newTestCache(t)

	for i := 0; i < 5; i++ {
		_, err := c.Set(fmt.Sprintf("key%d", i), "v")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, c.Size())
	assert.Len(t, c.Keys(), 5)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())

	_, exists := c.Get("key0")
	assert.False(t, exists)
}

func TestStatsTracking(t *testing.T) {
	c := newTestCache(t)

	_, _ = c.Set("a", "1")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Sets())
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.001)
	assert.Equal(t, int64(1), stats.CurrentSize())
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key%d", j%10)
				_, _ = c.Set(key, fmt.Sprintf("v%d-%d", n, j))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, c.Size())
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	c, err := New[int](WithMetrics[int](reg, "projects"))
	require.NoError(t, err)

	_, _ = c.Set("k", 1)
	c.Get("k")
	c.Get("absent")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["skybridge_cache_hits_total"])
	assert.True(t, names["skybridge_cache_misses_total"])
	assert.True(t, names["skybridge_cache_size"])
}

func TestMetricsDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New[int](WithMetrics[int](reg, "dup"))
	require.NoError(t, err)

	_, err = New[int](WithMetrics[int](reg, "dup"))
	assert.Error(t, err)
}
