// Package cache tests the in-process query-response cache.
package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_SetAndGet(t *testing.T) {
	c := NewQueryCache(Config{})

	c.Set("How many patients?", []byte(`{"answer":42}`), "", 0)

	entry, ok := c.Get("How many patients?", "")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"answer":42}`), entry.Value)
}

func TestQueryCache_Miss(t *testing.T) {
	c := NewQueryCache(Config{})

	_, ok := c.Get("Never seen before", "")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestQueryCache_Overwrite(t *testing.T) {
	c := NewQueryCache(Config{})

	c.Set("How many?", []byte(`{"count":10}`), "", 0)
	c.Set("How many?", []byte(`{"count":20}`), "", 0)

	entry, ok := c.Get("How many?", "")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"count":20}`), entry.Value)
	assert.Equal(t, 1, c.Len())
}

func TestQueryCache_KeyNormalization(t *testing.T) {
	c := NewQueryCache(Config{})
	c.Set("How many patients?", []byte("x"), "", 0)

	tests := []struct {
		name  string
		query string
	}{
		{"case insensitive", "HOW MANY PATIENTS?"},
		{"mixed case", "How Many Patients?"},
		{"surrounding whitespace", "  How many patients?  "},
		{"internal whitespace runs", "How  many \t patients?"},
		{"tabs and newlines", "How\tmany\npatients?"},
		{"no trailing punctuation", "How many patients"},
		{"exclamation", "How many patients!"},
		{"full stop", "How many patients."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.Get(tt.query, "")
			assert.True(t, ok, "expected %q to hit", tt.query)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"How many patients?",
		"  COUNT   cases of anaemia!! ",
		"plain",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestQueryCache_SessionIsolation(t *testing.T) {
	c := NewQueryCache(Config{})

	c.Set("How many had anemia?", []byte("a"), "session-1", 0)

	_, ok := c.Get("How many had anemia?", "session-2")
	assert.False(t, ok, "different session must miss")

	_, ok = c.Get("How many had anemia?", "")
	assert.False(t, ok, "unscoped lookup must not see session entries")

	_, ok = c.Get("How many had anemia?", "session-1")
	assert.True(t, ok)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	c := NewQueryCache(Config{})

	c.Set("Short-lived query", []byte("x"), "", 10*time.Millisecond)

	_, ok := c.Get("Short-lived query", "")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("Short-lived query", "")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestQueryCache_CleanupExpired(t *testing.T) {
	c := NewQueryCache(Config{})

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("query %d", i), []byte("x"), "", 5*time.Millisecond)
	}
	assert.Equal(t, 3, c.Len())

	time.Sleep(15 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, c.Len())
}

func TestQueryCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewQueryCache(Config{MaxSize: 3})

	c.Set("first", []byte("1"), "", 0)
	time.Sleep(2 * time.Millisecond)
	c.Set("second", []byte("2"), "", 0)
	time.Sleep(2 * time.Millisecond)
	c.Set("third", []byte("3"), "", 0)
	time.Sleep(2 * time.Millisecond)
	c.Set("fourth", []byte("4"), "", 0)

	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("first", "")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("fourth", "")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestQueryCache_HitRate(t *testing.T) {
	c := NewQueryCache(Config{})
	c.Set("known", []byte("x"), "", 0)

	for i := 0; i < 3; i++ {
		c.Get("known", "")
	}
	c.Get("unknown", "")

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 75.0, stats.HitRate, 0.001)
}

func TestQueryCache_ClearResetsStats(t *testing.T) {
	c := NewQueryCache(Config{})
	c.Set("a", []byte("x"), "", 0)
	c.Get("a", "")
	c.Get("b", "")

	c.Clear()

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestQueryCache_DetailedStatsAges(t *testing.T) {
	c := NewQueryCache(Config{})

	c.Set("older", []byte("x"), "", 0)
	time.Sleep(10 * time.Millisecond)
	c.Set("newer", []byte("y"), "", 0)

	detailed := c.DetailedStats()
	assert.Equal(t, 2, detailed.Size)
	assert.GreaterOrEqual(t, detailed.OldestEntryAge, detailed.NewestEntryAge)
	assert.GreaterOrEqual(t, detailed.OldestEntryAge, detailed.AverageEntryAge)
}

func TestQueryCache_ConcurrentAccess(t *testing.T) {
	c := NewQueryCache(Config{MaxSize: 100})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q := fmt.Sprintf("question %d", j%20)
				if j%2 == 0 {
					c.Set(q, []byte("v"), "", 0)
				} else {
					c.Get(q, "")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
}
