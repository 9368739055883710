package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DefaultTTL is how long a fleet snapshot is served without refetching.
const DefaultTTL = 2 * time.Minute

// RouteCache gives typed access to a Store. The fleet snapshot is stored as
// the exact bytes fetched from the API so a read within the TTL returns what
// was fetched, unchanged.
type RouteCache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger log.FieldLogger
}

// Option configures a RouteCache.
type Option func(*RouteCache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *RouteCache) { c.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *RouteCache) { c.now = now }
}

// WithLogger sets the logger used for discarded entries.
func WithLogger(logger log.FieldLogger) Option {
	return func(c *RouteCache) { c.logger = logger }
}

// NewRouteCache wraps store.
func NewRouteCache(store Store, opts ...Option) *RouteCache {
	c := &RouteCache{store: store, ttl: DefaultTTL, now: time.Now, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying store.
func (c *RouteCache) Store() Store { return c.store }

// Fleet returns the cached routes body if it is younger than the TTL.
func (c *RouteCache) Fleet(ctx context.Context) ([]byte, bool, error) {
	entry, err := c.store.GetFleet(ctx)
	if err != nil || entry == nil {
		return nil, false, err
	}
	if c.now().Sub(entry.CachedAt) >= c.ttl {
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// StoreFleet caches raw as the fleet snapshot, stamped now.
func (c *RouteCache) StoreFleet(ctx context.Context, raw []byte) error {
	return c.store.PutFleet(ctx, FleetEntry{Data: raw, CachedAt: c.now()})
}

// DriverRoute returns the cached route for vehicleID, or nil when there is
// none. An entry that does not decode is treated as absent.
func (c *RouteCache) DriverRoute(ctx context.Context, vehicleID int64) (*models.Route, error) {
	data, err := c.store.GetDriverRoute(ctx, vehicleID)
	if err != nil || data == nil {
		return nil, err
	}
	var route models.Route
	if err := json.Unmarshal(data, &route); err != nil {
		c.logger.WithError(err).WithField("vehicle_id", vehicleID).Warn("Discarding unreadable cached route")
		return nil, nil
	}
	return &route, nil
}

// StoreDriverRoute caches route under its vehicle id.
func (c *RouteCache) StoreDriverRoute(ctx context.Context, route models.Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return err
	}
	return c.store.PutDriverRoute(ctx, route.VehicleID, data)
}

// RemoveDriverRoute drops the cached route for vehicleID.
func (c *RouteCache) RemoveDriverRoute(ctx context.Context, vehicleID int64) error {
	return c.store.RemoveDriverRoute(ctx, vehicleID)
}
