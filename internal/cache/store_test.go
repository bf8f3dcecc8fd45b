package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store, *fakeClock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{t: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
	store := NewStore(client, "test:cache", zap.NewNop(), WithClock(clock.Now))
	return mr, store, clock
}

func TestStore_PutThenGet(t *testing.T) {
	_, store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "weather", "seoul", []byte(`{"temperature":31.5}`), time.Hour))

	payload, found, expired, err := store.Get(ctx, "weather", "seoul")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, expired)
	assert.JSONEq(t, `{"temperature":31.5}`, string(payload))
}

func TestStore_GetMissing(t *testing.T) {
	_, store, _ := setupStore(t)

	payload, found, expired, err := store.Get(context.Background(), "weather", "busan")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, expired)
	assert.Nil(t, payload)
}

func TestStore_ExpiredEntryIsEvicted(t *testing.T) {
	mr, store, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "weather", "seoul", []byte(`{"temperature":20}`), time.Hour))

	// Exactly at expiry the entry is still live.
	clock.Advance(time.Hour)
	_, found, _, err := store.Get(ctx, "weather", "seoul")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(time.Second)
	_, found, expired, err := store.Get(ctx, "weather", "seoul")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, expired)
	assert.False(t, mr.Exists("test:cache:weather:seoul"))

	// Evicted, so a second read is a plain miss.
	_, found, expired, err = store.Get(ctx, "weather", "seoul")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, expired)
}

func TestStore_GetStaleSurvivesEviction(t *testing.T) {
	_, store, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "disaster", "seoul", []byte(`[{"id":"1"}]`), 10*time.Minute))
	clock.Advance(11 * time.Minute)

	_, found, _, err := store.Get(ctx, "disaster", "seoul")
	require.NoError(t, err)
	require.False(t, found)

	payload, found, err := store.GetStale(ctx, "disaster", "seoul")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `[{"id":"1"}]`, string(payload))
}

func TestStore_PutReplaces(t *testing.T) {
	_, store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "air_quality", "seoul", []byte(`{"pm10":30}`), time.Hour))
	require.NoError(t, store.Put(ctx, "air_quality", "seoul", []byte(`{"pm25":12}`), time.Hour))

	payload, found, _, err := store.Get(ctx, "air_quality", "seoul")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"pm25":12}`, string(payload))
}

func TestStore_MalformedEntryIsMiss(t *testing.T) {
	mr, store, _ := setupStore(t)
	require.NoError(t, mr.Set("test:cache:weather:seoul", "not-json"))

	_, found, expired, err := store.Get(context.Background(), "weather", "seoul")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, expired)
}

func TestStore_PutRejectsInvalidJSON(t *testing.T) {
	_, store, _ := setupStore(t)
	err := store.Put(context.Background(), "weather", "seoul", []byte("{"), time.Hour)
	assert.Error(t, err)
}

func TestStore_Cleanup(t *testing.T) {
	mr, store, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "weather", "seoul", []byte(`{}`), time.Hour))
	require.NoError(t, store.Put(ctx, "air_quality", "seoul", []byte(`{}`), 2*time.Hour))
	clock.Advance(90 * time.Minute)

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists("test:cache:weather:seoul"))
	assert.True(t, mr.Exists("test:cache:air_quality:seoul"))
	assert.True(t, mr.Exists("test:cache:weather:seoul:stale"))
}
