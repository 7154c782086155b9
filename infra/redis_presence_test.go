package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"driver-service/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresenceStore(t *testing.T) (*RedisPresenceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPresenceStore(client, zerolog.Nop()), mr
}

func sampleDetails(id string, now time.Time) *model.OnlineDriverDetails {
	return &model.OnlineDriverDetails{
		DriverID:       id,
		DriverNumber:   "0912345678",
		Name:           "王小明",
		CancelledRides: 3,
		Rating:         4.8,
		VehicleModel:   "Toyota Prius",
		VehicleNumber:  "ABC-5808",
		SessionStart:   now,
		LastSeen:       now,
	}
}

func TestParseHeartbeatKey(t *testing.T) {
	id, ok := ParseHeartbeatKey("driver:heartbeat:684a73ad0e3a583c37e4b30d")
	assert.True(t, ok)
	assert.Equal(t, "684a73ad0e3a583c37e4b30d", id)

	for _, key := range []string{"driver:online:abc", "driver:heartbeat:", "session:abc", "driver:heartbeat"} {
		_, ok := ParseHeartbeatKey(key)
		assert.False(t, ok, key)
	}
}

func TestEncodeDecodePresence(t *testing.T) {
	now := time.UnixMilli(1748736000123).UTC()
	d := sampleDetails("d1", now)
	d.Location = &model.GeoPoint{Lat: 25.0330, Lng: 121.5654}

	fields := EncodePresence(d)
	values := map[string]string{}
	for i := 0; i < len(fields); i += 2 {
		values[fields[i].(string)] = fields[i+1].(string)
	}
	assert.Equal(t, "1748736000123", values["session_start"])

	got, err := DecodePresence(values)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	empty, err := DecodePresence(map[string]string{})
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodePresence(map[string]string{"driver_id": "d1", "session_start": "yesterday"})
	assert.Error(t, err)
}

func TestRedisPresenceStore_CreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestPresenceStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Create(ctx, sampleDetails("d1", now), time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	assert.True(t, mr.Exists(PresenceKey("d1")))
	assert.Equal(t, time.Duration(0), mr.TTL(PresenceKey("d1")), "在線記錄本身不設 TTL")
	assert.Equal(t, time.Minute, mr.TTL(HeartbeatKey("d1")))

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "王小明", got.Name)
	assert.True(t, got.SessionStart.Equal(now))
	assert.Nil(t, got.Location)
}

func TestRedisPresenceStore_RefreshKeepsSessionStart(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestPresenceStore(t)
	start := time.Now().UTC().Truncate(time.Millisecond)

	ok, err := store.Refresh(ctx, "d1", start, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "未上線不可刷新")
	assert.False(t, mr.Exists(HeartbeatKey("d1")))

	_, err = store.Create(ctx, sampleDetails("d1", start), time.Minute)
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	later := start.Add(40 * time.Second)
	ok, err = store.Refresh(ctx, "d1", later, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(HeartbeatKey("d1")))

	ok, err = store.UpdateLocation(ctx, "d1", model.GeoPoint{Lat: 25.04, Lng: 121.51}, later, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.SessionStart.Equal(start))
	assert.True(t, got.LastSeen.Equal(later))
	require.NotNil(t, got.Location)
	assert.Equal(t, 121.51, got.Location.Lng)
}

func TestRedisPresenceStore_TakeOnce(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestPresenceStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := store.Create(ctx, sampleDetails("d1", now), time.Minute)
	require.NoError(t, err)

	first, err := store.Take(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.SessionStart.Equal(now))

	second, err := store.Take(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.False(t, mr.Exists(PresenceKey("d1")))
	assert.False(t, mr.Exists(HeartbeatKey("d1")))
}

func TestRedisPresenceStore_TakeExpired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestPresenceStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := store.Create(ctx, sampleDetails("d1", now), time.Minute)
	require.NoError(t, err)

	alive, err := store.IsAlive(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, alive)

	got, err := store.TakeExpired(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got, "心跳仍在不可取出")

	mr.FastForward(61 * time.Second)
	alive, err = store.IsAlive(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, alive)

	got, err = store.TakeExpired(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.DriverID)
	assert.False(t, mr.Exists(PresenceKey("d1")))
}

func TestRedisPresenceStore_RemoveAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestPresenceStore(t)
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, sampleDetails(id, now), time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, store.Remove(ctx, "b"))

	ids, err := store.ListDriverIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	got, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
}
