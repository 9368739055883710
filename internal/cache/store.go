// Package cache holds the client-side route caches shared by the views of
// one operator session: the fleet-wide routes snapshot with its timestamp,
// one cached route per driver, and the one-shot force-refresh flag.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Key names, kept stable so a Redis-backed session can be inspected by hand.
const (
	KeyFleetRoutes       = "cachedRoutes"
	KeyFleetTime         = "cacheTime"
	KeyForceRefresh      = "forceRefreshRoutes"
	driverRouteKeyPrefix = "driverRoute_"
)

// DriverRouteKey returns the slot name for a driver's cached route.
func DriverRouteKey(vehicleID int64) string {
	return driverRouteKeyPrefix + strconv.FormatInt(vehicleID, 10)
}

// FleetEntry is the cached GET /api/routes body and when it was fetched.
type FleetEntry struct {
	Data     []byte
	CachedAt time.Time
}

// Store is the named-slot storage behind the caches. Getters return nil
// without error when the slot is empty.
type Store interface {
	GetFleet(ctx context.Context) (*FleetEntry, error)
	PutFleet(ctx context.Context, entry FleetEntry) error
	ClearFleet(ctx context.Context) error

	GetDriverRoute(ctx context.Context, vehicleID int64) ([]byte, error)
	PutDriverRoute(ctx context.Context, vehicleID int64, data []byte) error
	RemoveDriverRoute(ctx context.Context, vehicleID int64) error

	SetForceRefresh(ctx context.Context) error
	// TakeForceRefresh reads and clears the flag in one step.
	TakeForceRefresh(ctx context.Context) (bool, error)
}

// MemoryStore keeps everything in process memory. One MemoryStore plays the
// part of one browser session.
type MemoryStore struct {
	mu      sync.Mutex
	fleet   *FleetEntry
	drivers map[int64][]byte
	force   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[int64][]byte)}
}

func (m *MemoryStore) GetFleet(context.Context) (*FleetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fleet == nil {
		return nil, nil
	}
	e := FleetEntry{Data: clone(m.fleet.Data), CachedAt: m.fleet.CachedAt}
	return &e, nil
}

func (m *MemoryStore) PutFleet(_ context.Context, entry FleetEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fleet = &FleetEntry{Data: clone(entry.Data), CachedAt: entry.CachedAt}
	return nil
}

func (m *MemoryStore) ClearFleet(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fleet = nil
	return nil
}

func (m *MemoryStore) GetDriverRoute(_ context.Context, vehicleID int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.drivers[vehicleID]
	if !ok {
		return nil, nil
	}
	return clone(data), nil
}

func (m *MemoryStore) PutDriverRoute(_ context.Context, vehicleID int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[vehicleID] = clone(data)
	return nil
}

func (m *MemoryStore) RemoveDriverRoute(_ context.Context, vehicleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, vehicleID)
	return nil
}

func (m *MemoryStore) SetForceRefresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.force = true
	return nil
}

func (m *MemoryStore) TakeForceRefresh(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.force
	m.force = false
	return set, nil
}

// DriverRoutes lists the vehicles with a cached route.
func (m *MemoryStore) DriverRoutes() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.drivers))
	for id := range m.drivers {
		ids = append(ids, id)
	}
	return ids
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
