package querycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDurableStore struct {
	mu      sync.Mutex
	entries map[string]DurableEntry
}

func newFakeDurableStore() *fakeDurableStore {
	return &fakeDurableStore{entries: make(map[string]DurableEntry)}
}

func (f *fakeDurableStore) Get(_ context.Context, key string, now time.Time) (*DurableEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.ExpiresAt.After(now) {
		delete(f.entries, key)
		return nil, nil
	}
	return &e, nil
}

func (f *fakeDurableStore) Put(_ context.Context, entry DurableEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Key] = entry
	return nil
}

func (f *fakeDurableStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for k, e := range f.entries {
		if !e.ExpiresAt.After(now) {
			delete(f.entries, k)
			removed++
		}
	}
	return removed, nil
}

func TestKey_OrderIndependentOfURLs(t *testing.T) {
	a := Key("SELECT 1", []string{"b", "a"})
	b := Key("SELECT 1", []string{"a", "b"})
	assert.Equal(t, a, b)
}

func TestKey_StripsWhitespace(t *testing.T) {
	assert.Equal(t, Key("SELECT 1", nil), Key("  SELECT 1  ", nil))
}

func TestCache_PutThenGet(t *testing.T) {
	c, err := New(DefaultConfig(), newFakeDurableStore(), nil, nil)
	require.NoError(t, err)

	result := Result{Columns: []string{"a"}, Rows: []map[string]any{{"a": 1}}, TotalRows: 1}
	c.Put(context.Background(), "SELECT * FROM t", []string{"u1"}, result, false)

	got, ok := c.Get(context.Background(), "SELECT * FROM t", []string{"u1"})
	require.True(t, ok)
	assert.True(t, got.Cached)
	assert.Equal(t, result.Columns, got.Columns)
}

func TestCache_ErrorResultsNeverCached(t *testing.T) {
	c, err := New(DefaultConfig(), newFakeDurableStore(), nil, nil)
	require.NoError(t, err)

	c.Put(context.Background(), "SELECT bad", nil, Result{}, true)

	_, ok := c.Get(context.Background(), "SELECT bad", nil)
	assert.False(t, ok)
}

func TestCache_LayerBHitRepopulatesLayerA(t *testing.T) {
	store := newFakeDurableStore()
	c, err := New(DefaultConfig(), store, nil, nil)
	require.NoError(t, err)

	result := Result{Columns: []string{"x"}, TotalRows: 0}
	c.Put(context.Background(), "SELECT x", []string{"u"}, result, false)

	// Evict from Layer A directly to simulate "Layer A cold, Layer B warm".
	c.layerA.Remove(Key("SELECT x", []string{"u"}))

	got, ok := c.Get(context.Background(), "SELECT x", []string{"u"})
	require.True(t, ok)
	assert.True(t, got.Cached)

	// Now Layer A should be warm again without touching Layer B.
	_, cachedInA := c.layerA.Get(Key("SELECT x", []string{"u"}))
	assert.True(t, cachedInA)
}

func TestCache_GetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c, err := New(DefaultConfig(), newFakeDurableStore(), nil, nil)
	require.NoError(t, err)

	var computeCount int32
	var mu sync.Mutex
	compute := func(ctx context.Context) (Result, bool, error) {
		mu.Lock()
		computeCount++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return Result{Columns: []string{"a"}, TotalRows: 1}, false, nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "SELECT concurrent", []string{"u"}, compute)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), computeCount, "singleflight should collapse concurrent misses")
	for _, r := range results {
		assert.Equal(t, []string{"a"}, r.Columns)
	}
}

func TestCache_CleanupDelegatesToLayerB(t *testing.T) {
	store := newFakeDurableStore()
	c, err := New(DefaultConfig(), store, nil, nil)
	require.NoError(t, err)

	store.entries["expired"] = DurableEntry{
		Key:       "expired",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	removed, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestCache_MetricsTrackHitsAndMisses(t *testing.T) {
	c, err := New(DefaultConfig(), newFakeDurableStore(), nil, nil)
	require.NoError(t, err)

	c.Get(context.Background(), "SELECT miss", nil)
	c.Put(context.Background(), "SELECT hit", nil, Result{Columns: []string{"a"}}, false)
	c.Get(context.Background(), "SELECT hit", nil)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
}
