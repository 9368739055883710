package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

const fleetJSON = `{"success":true,"routes":[{"vehicleId":5,"stops":[],"distance":12.5}]}`

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDriverRouteKey(t *testing.T) {
	assert.Equal(t, "driverRoute_5", DriverRouteKey(5))
}

func TestRouteCache_FleetRoundTripWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := NewRouteCache(NewMemoryStore(), WithClock(clock.Now))

	raw := []byte(fleetJSON)
	require.NoError(t, c.StoreFleet(ctx, raw))
	raw[0] = 'X' // caller mutation must not leak into the cache

	clock.Advance(DefaultTTL - time.Second)
	got, ok, err := c.Fleet(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(fleetJSON), got)

	clock.Advance(time.Second)
	_, ok, err = c.Fleet(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire at the TTL")
}

func TestRouteCache_FleetMiss(t *testing.T) {
	c := NewRouteCache(NewMemoryStore())
	got, ok, err := c.Fleet(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRouteCache_DriverRoute(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewRouteCache(store)

	route, err := c.DriverRoute(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, route)

	require.NoError(t, c.StoreDriverRoute(ctx, models.Route{VehicleID: 5, AssignedOrders: []int64{42}, Distance: 3.2}))
	route, err = c.DriverRoute(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, []int64{42}, route.AssignedOrders)

	require.NoError(t, c.RemoveDriverRoute(ctx, 5))
	route, err = c.DriverRoute(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestRouteCache_MalformedDriverRouteIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PutDriverRoute(ctx, 9, []byte(`{"vehicleId": 9, "stops": [`)))

	route, err := NewRouteCache(store).DriverRoute(ctx, 9)
	assert.NoError(t, err)
	assert.Nil(t, route)
}

func TestMemoryStore_ForceRefreshIsOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	set, err := store.TakeForceRefresh(ctx)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, store.SetForceRefresh(ctx))
	require.NoError(t, store.SetForceRefresh(ctx))
	set, _ = store.TakeForceRefresh(ctx)
	assert.True(t, set)
	set, _ = store.TakeForceRefresh(ctx)
	assert.False(t, set, "several flags collapse into one refresh")
}

// recordingStore logs the order of store operations.
type recordingStore struct {
	*MemoryStore
	ops      []string
	clearErr error
}

func (r *recordingStore) ClearFleet(ctx context.Context) error {
	r.ops = append(r.ops, "clear-fleet")
	if r.clearErr != nil {
		return r.clearErr
	}
	return r.MemoryStore.ClearFleet(ctx)
}

func (r *recordingStore) RemoveDriverRoute(ctx context.Context, id int64) error {
	r.ops = append(r.ops, DriverRouteKey(id))
	return r.MemoryStore.RemoveDriverRoute(ctx, id)
}

func (r *recordingStore) SetForceRefresh(ctx context.Context) error {
	r.ops = append(r.ops, "force-refresh")
	return r.MemoryStore.SetForceRefresh(ctx)
}

func TestInvalidator_Order(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.MemoryStore.PutFleet(ctx, FleetEntry{Data: []byte(fleetJSON), CachedAt: time.Now()}))
	for _, id := range []int64{3, 5, 8} {
		require.NoError(t, store.MemoryStore.PutDriverRoute(ctx, id, []byte(`{}`)))
	}

	bus := events.NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, NewInvalidator(store, bus, nil).Invalidate(ctx, []int64{3, 5}))

	assert.Equal(t, []string{"clear-fleet", "driverRoute_3", "driverRoute_5", "force-refresh"}, store.ops)
	entry, _ := store.GetFleet(ctx)
	assert.Nil(t, entry)
	assert.ElementsMatch(t, []int64{8}, store.DriverRoutes(), "unaffected driver keeps its cache")
	set, _ := store.TakeForceRefresh(ctx)
	assert.True(t, set)

	assert.Equal(t, int64(3), (<-ch).VehicleID)
	assert.Equal(t, int64(5), (<-ch).VehicleID)
}

func TestInvalidator_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{MemoryStore: NewMemoryStore(), clearErr: errors.New("session gone")}

	err := NewInvalidator(store, nil, nil).Invalidate(ctx, []int64{4})
	assert.ErrorContains(t, err, "session gone")
	assert.Equal(t, []string{"clear-fleet", "driverRoute_4", "force-refresh"}, store.ops)
}

func TestInvalidator_EmptySetStillFlags(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, NewInvalidator(store, nil, nil).Invalidate(ctx, nil))
	assert.Equal(t, []string{"clear-fleet", "force-refresh"}, store.ops)
}

// Integration test (requires running Redis)
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	store, err := NewRedisStore(addr, "", 0, "fleet-dispatch-test:")
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	defer store.Close()
	ctx := context.Background()

	now := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, store.PutFleet(ctx, FleetEntry{Data: []byte(fleetJSON), CachedAt: now}))
	entry, err := store.GetFleet(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte(fleetJSON), entry.Data)
	assert.True(t, now.Equal(entry.CachedAt))

	require.NoError(t, store.PutDriverRoute(ctx, 5, []byte(`{"vehicleId":5}`)))
	data, err := store.GetDriverRoute(ctx, 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vehicleId":5}`, string(data))

	require.NoError(t, NewInvalidator(store, nil, nil).Invalidate(ctx, []int64{5}))
	entry, err = store.GetFleet(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry)
	data, err = store.GetDriverRoute(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, data)
	set, err := store.TakeForceRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, set)
	set, err = store.TakeForceRefresh(ctx)
	require.NoError(t, err)
	assert.False(t, set)
}
