package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/api"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DefaultPollInterval is how often the driver view refetches.
const DefaultPollInterval = 30 * time.Second

// DriverAPI is what the driver view reads from the backend.
type DriverAPI interface {
	FetchRoute(ctx context.Context, vehicleID int64) (*models.Route, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
}

// DriverView is what a driver sees.
type DriverView struct {
	Route     *models.Route
	FromCache bool
	Orders    []models.Order
	At        time.Time
	RouteErr  error
	OrdersErr error
}

// DriverPoller keeps one driver's route and open orders current. It does
// not rely on the force-refresh flag: the driver usually runs in another
// session than the operator who changed the orders.
type DriverPoller struct {
	api       DriverAPI
	cache     *cache.RouteCache
	vehicleID int64
	interval  time.Duration
	updates   <-chan events.RouteUpdated
	visible   chan struct{}
	onUpdate  func(DriverView)
	logger    log.FieldLogger

	mu   sync.RWMutex
	view DriverView
}

// DriverOption configures a DriverPoller.
type DriverOption func(*DriverPoller)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) DriverOption {
	return func(p *DriverPoller) { p.interval = d }
}

// WithDriverEvents polls immediately on every event for the driver's
// vehicle.
func WithDriverEvents(ch <-chan events.RouteUpdated) DriverOption {
	return func(p *DriverPoller) { p.updates = ch }
}

// WithViewHandler is called after every poll.
func WithViewHandler(fn func(DriverView)) DriverOption {
	return func(p *DriverPoller) { p.onUpdate = fn }
}

// WithDriverLogger sets the logger.
func WithDriverLogger(logger log.FieldLogger) DriverOption {
	return func(p *DriverPoller) { p.logger = logger }
}

// NewDriverPoller creates a poller for vehicleID.
func NewDriverPoller(client DriverAPI, rc *cache.RouteCache, vehicleID int64, opts ...DriverOption) *DriverPoller {
	p := &DriverPoller{
		api:       client,
		cache:     rc,
		vehicleID: vehicleID,
		interval:  DefaultPollInterval,
		visible:   make(chan struct{}, 1),
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("vehicle_id", vehicleID)
	return p
}

// View returns the last polled state.
func (p *DriverPoller) View() DriverView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// Visible signals that the view became visible again.
func (p *DriverPoller) Visible() {
	select {
	case p.visible <- struct{}{}:
	default:
	}
}

// Poll refetches the route and orders. The cached route is removed before
// the fetch so it is never kept as if it were current; if the fetch fails
// the removed copy is shown, marked FromCache, and not written back.
func (p *DriverPoller) Poll(ctx context.Context) DriverView {
	snapshot, err := p.cache.DriverRoute(ctx, p.vehicleID)
	if err != nil {
		p.logger.WithError(err).Warn("Route cache unavailable")
	}
	if err := p.cache.RemoveDriverRoute(ctx, p.vehicleID); err != nil {
		p.logger.WithError(err).Warn("Failed to clear cached route")
	}

	prev := p.View()
	view := DriverView{At: time.Now(), Orders: prev.Orders}

	route, err := p.api.FetchRoute(ctx, p.vehicleID)
	switch {
	case err == nil:
		if err := p.cache.StoreDriverRoute(ctx, *route); err != nil {
			p.logger.WithError(err).Warn("Failed to cache route")
		}
		if clean, ok := Sanitize(*route, p.logger); ok {
			view.Route = &clean
		}
	case errors.Is(err, api.ErrNotFound):
		// No route assigned.
	default:
		p.logger.WithError(err).Warn("Failed to fetch route, showing cached copy")
		view.RouteErr = err
		if snapshot != nil {
			if clean, ok := Sanitize(*snapshot, p.logger); ok {
				view.Route = &clean
				view.FromCache = true
			}
		}
	}

	orders, err := p.api.ListOrders(ctx, models.OrderFilter{DriverID: models.IDPtr(p.vehicleID)})
	if err != nil {
		p.logger.WithError(err).Warn("Failed to fetch orders")
		view.OrdersErr = err
	} else {
		view.Orders = OpenOrders(orders)
	}

	p.mu.Lock()
	p.view = view
	p.mu.Unlock()
	if p.onUpdate != nil {
		p.onUpdate(view)
	}
	return view
}

// Run polls at start, on every tick, when the view becomes visible and when
// an event for this vehicle arrives, until ctx ends.
func (p *DriverPoller) Run(ctx context.Context) error {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	updates := p.updates
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.visible:
			p.Poll(ctx)
		case ev, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if ev.VehicleID == p.vehicleID {
				p.Poll(ctx)
			}
		}
	}
}

// OpenOrders drops delivered and cancelled orders.
func OpenOrders(orders []models.Order) []models.Order {
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if !o.Status.Closed() {
			out = append(out, o)
		}
	}
	return out
}
