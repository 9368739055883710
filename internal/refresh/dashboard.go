package refresh

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/api"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DefaultFlagInterval is how often an open dashboard checks the
// force-refresh flag.
const DefaultFlagInterval = 2 * time.Second

// RoutesFetcher fetches the fleet routes.
type RoutesFetcher interface {
	FetchRoutes(ctx context.Context) ([]models.Route, []byte, error)
}

// Snapshot is what the dashboard shows.
type Snapshot struct {
	Routes    []models.Route
	FromCache bool
	Skipped   int
	LoadedAt  time.Time
}

// Dashboard is the fleet overview. It serves the fleet cache while it is
// fresh and refetches when the force-refresh flag is raised or a route
// event arrives.
type Dashboard struct {
	api          RoutesFetcher
	cache        *cache.RouteCache
	updates      <-chan events.RouteUpdated
	flagInterval time.Duration
	visible      chan struct{}
	onUpdate     func(Snapshot)
	logger       log.FieldLogger

	mu       sync.RWMutex
	snapshot Snapshot
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithFlagInterval overrides DefaultFlagInterval.
func WithFlagInterval(d time.Duration) DashboardOption {
	return func(db *Dashboard) { db.flagInterval = d }
}

// WithRouteEvents makes every received event trigger a forced reload.
func WithRouteEvents(ch <-chan events.RouteUpdated) DashboardOption {
	return func(db *Dashboard) { db.updates = ch }
}

// WithSnapshotHandler is called after every successful load.
func WithSnapshotHandler(fn func(Snapshot)) DashboardOption {
	return func(db *Dashboard) { db.onUpdate = fn }
}

// WithDashboardLogger sets the logger.
func WithDashboardLogger(logger log.FieldLogger) DashboardOption {
	return func(db *Dashboard) { db.logger = logger }
}

// NewDashboard creates a dashboard over rc.
func NewDashboard(client RoutesFetcher, rc *cache.RouteCache, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		api:          client,
		cache:        rc,
		flagInterval: DefaultFlagInterval,
		visible:      make(chan struct{}, 1),
		logger:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Snapshot returns the routes currently shown.
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Visible signals that the view became visible again.
func (d *Dashboard) Visible() {
	select {
	case d.visible <- struct{}{}:
	default:
	}
}

// Load shows the fleet routes. Without force a fresh fleet cache entry is
// used; otherwise, and on a miss, the routes are fetched and both the fleet
// cache and every per-driver entry are repopulated.
func (d *Dashboard) Load(ctx context.Context, force bool) (Snapshot, error) {
	if !force {
		raw, ok, err := d.cache.Fleet(ctx)
		if err != nil {
			d.logger.WithError(err).Warn("Fleet cache unavailable")
		}
		if ok {
			routes, err := api.DecodeRoutes(raw)
			if err == nil {
				return d.show(routes, true), nil
			}
			d.logger.WithError(err).Warn("Discarding unreadable fleet cache")
		}
	}

	routes, raw, err := d.api.FetchRoutes(ctx)
	if err != nil {
		d.logger.WithError(err).Error("Failed to fetch routes")
		return d.Snapshot(), err
	}
	if err := d.cache.StoreFleet(ctx, raw); err != nil {
		d.logger.WithError(err).Warn("Failed to cache fleet routes")
	}
	for _, r := range routes {
		if r.VehicleID == 0 {
			continue
		}
		if err := d.cache.StoreDriverRoute(ctx, r); err != nil {
			d.logger.WithError(err).WithField("vehicle_id", r.VehicleID).Warn("Failed to cache driver route")
		}
	}
	return d.show(routes, false), nil
}

func (d *Dashboard) show(routes []models.Route, fromCache bool) Snapshot {
	snap := Snapshot{FromCache: fromCache, LoadedAt: time.Now()}
	for _, r := range routes {
		clean, ok := Sanitize(r, d.logger)
		if !ok {
			snap.Skipped++
			continue
		}
		snap.Routes = append(snap.Routes, clean)
	}

	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()

	d.logger.WithFields(log.Fields{
		"routes":     len(snap.Routes),
		"skipped":    snap.Skipped,
		"from_cache": fromCache,
	}).Debug("Dashboard routes loaded")
	if d.onUpdate != nil {
		d.onUpdate(snap)
	}
	return snap
}

// CheckFlag takes the force-refresh flag and, if it was set, reloads
// bypassing the cache. The flag is cleared before the fetch so it fires
// once however many mutations raised it.
func (d *Dashboard) CheckFlag(ctx context.Context) (bool, error) {
	set, err := d.cache.Store().TakeForceRefresh(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to read force-refresh flag")
		return false, err
	}
	if !set {
		return false, nil
	}
	d.logger.Info("Force refresh requested, reloading routes")
	_, err = d.Load(ctx, true)
	return true, err
}

// Run loads once and then keeps the dashboard current until ctx ends.
func (d *Dashboard) Run(ctx context.Context) error {
	if refreshed, _ := d.CheckFlag(ctx); !refreshed {
		d.Load(ctx, false)
	}

	ticker := time.NewTicker(d.flagInterval)
	defer ticker.Stop()

	updates := d.updates
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			d.CheckFlag(ctx)

		case <-d.visible:
			d.CheckFlag(ctx)

		case ev, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			d.logger.WithField("vehicle_id", ev.VehicleID).Debug("Route event received")
			// The event supersedes any pending flag.
			if _, err := d.cache.Store().TakeForceRefresh(ctx); err != nil {
				d.logger.WithError(err).Warn("Failed to clear force-refresh flag")
			}
			d.Load(ctx, true)
		}
	}
}
