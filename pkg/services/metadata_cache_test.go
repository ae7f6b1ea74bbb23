package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

func TestMetadataCacheHitAndMiss(t *testing.T) {
	cache := NewMetadataCache(time.Minute)
	id := uuid.New()
	ds := &models.Datasource{ID: id, Name: "prod"}

	assert.Nil(t, cache.Get(id, "alice"), "empty cache misses")

	cache.Put(id, "alice", ds)
	got := cache.Get(id, "alice")
	require.NotNil(t, got)
	assert.Equal(t, "prod", got.Name)

	assert.Nil(t, cache.Get(id, "bob"), "entries are per user")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestMetadataCacheExpiry(t *testing.T) {
	cache := NewMetadataCache(10 * time.Millisecond)
	id := uuid.New()
	cache.Put(id, "alice", &models.Datasource{ID: id})

	require.NotNil(t, cache.Get(id, "alice"))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, cache.Get(id, "alice"), "expired entry misses")
	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

func TestMetadataCacheInvalidate(t *testing.T) {
	cache := NewMetadataCache(time.Minute)
	id := uuid.New()
	other := uuid.New()

	cache.Put(id, "alice", &models.Datasource{ID: id})
	cache.Put(id, "bob", &models.Datasource{ID: id})
	cache.Put(other, "alice", &models.Datasource{ID: other})

	cache.Invalidate(id, "alice")
	assert.Nil(t, cache.Get(id, "alice"))
	assert.NotNil(t, cache.Get(id, "bob"), "other users unaffected")

	cache.InvalidateAll(id)
	assert.Nil(t, cache.Get(id, "bob"))
	assert.NotNil(t, cache.Get(other, "alice"), "other datasources unaffected")
}

func TestMetadataCacheDefaultTTL(t *testing.T) {
	cache := NewMetadataCache(0)
	id := uuid.New()
	cache.Put(id, "alice", &models.Datasource{ID: id})
	assert.NotNil(t, cache.Get(id, "alice"))
}
