// Package settings tests the settings store.
package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rshinytools/sage/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettings(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), "settings.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SeedsDefaults(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	value, err := store.Get(ctx, CategorySystem, "cache_enabled")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	value, err = store.Get(ctx, CategoryLLM, "llm_provider")
	require.NoError(t, err)
	assert.Equal(t, "ollama", value)
}

func TestStore_SetAndReadBack(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CategorySystem, "cache_max_size", "500", "admin"))

	value, err := store.Get(ctx, CategorySystem, "cache_max_size")
	require.NoError(t, err)
	assert.Equal(t, "500", value)
}

func TestStore_CacheInvalidatedOnWrite(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	// Warm the read-through cache, then write, then read again.
	_, err := store.Get(ctx, CategorySystem, "query_timeout_seconds")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, CategorySystem, "query_timeout_seconds", "45", "admin"))

	value, err := store.Get(ctx, CategorySystem, "query_timeout_seconds")
	require.NoError(t, err)
	assert.Equal(t, "45", value)
}

func TestStore_SensitiveValuesMasked(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CategoryLLM, "llm_api_key", "sk-verysecret", "admin"))

	settings, err := store.GetCategory(ctx, CategoryLLM)
	require.NoError(t, err)

	var found bool
	for _, setting := range settings {
		if setting.Key == "llm_api_key" {
			found = true
			assert.Equal(t, config.SensitiveMask, setting.Value)
		}
	}
	assert.True(t, found)
}

func TestStore_ChangeHistoryRecordsOldAndNew(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CategorySystem, "cache_ttl_seconds", "1800", "admin"))
	require.NoError(t, store.Set(ctx, CategorySystem, "cache_ttl_seconds", "900", "admin"))

	history, err := store.ChangeHistory(ctx, CategorySystem, "cache_ttl_seconds")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "1800", history[0].OldValue)
	assert.Equal(t, "900", history[0].NewValue)
	assert.Equal(t, "3600", history[1].OldValue)
	assert.Equal(t, "1800", history[1].NewValue)
}

func TestStore_UnknownSetting(t *testing.T) {
	store := newTestSettings(t)

	_, err := store.Get(context.Background(), CategorySystem, "does_not_exist")
	assert.Error(t, err)
}
