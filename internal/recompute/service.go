// Package recompute rebuilds routes on the backend: per driver after an
// order mutation, for the whole fleet on demand, and when automatic
// assignments are cleared.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/affect"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/planner"
)

var (
	// ErrInvalidRequest is returned for a malformed optimisation request.
	ErrInvalidRequest = errors.New("invalid optimization request")
	// ErrNoRoutes is returned when an optimisation produced no route at all.
	ErrNoRoutes = errors.New("no route could be built for any vehicle")
)

// Service owns every write to the routes collection.
type Service struct {
	store  *db.Store
	cfg    planner.Config
	paths  planner.PathFinder
	engine planner.Engine
	pub    events.Publisher
	logger log.FieldLogger
	now    func() time.Time

	// fleet is held exclusively by whole-fleet operations and shared by
	// per-driver recalculations.
	fleet sync.RWMutex
	locks *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithPlanner sets the route estimate parameters.
func WithPlanner(cfg planner.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithPathFinder makes route paths follow roads. Without one the path is
// the straight line through the stops.
func WithPathFinder(p planner.PathFinder) Option {
	return func(s *Service) { s.paths = p }
}

// WithEngine sets the full-fleet assignment engine.
func WithEngine(e planner.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithPublisher sets where RouteUpdated events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over store.
func New(store *db.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    planner.DefaultConfig(),
		engine: planner.Greedy{},
		pub:    events.Discard,
		logger: log.StandardLogger(),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecalculateDrivers rebuilds the route of every driver in ids from the
// driver's active orders. A driver without a vehicle is skipped, a driver
// without active orders loses its route. Concurrent calls for the same
// driver run one after the other and the last one wins.
func (s *Service) RecalculateDrivers(ctx context.Context, ids []int64) (*models.RecalculateResponse, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: driverIds array is required", ErrInvalidRequest)
	}
	s.fleet.RLock()
	defer s.fleet.RUnlock()
	return s.recalculate(ctx, affect.NewDriverSet(ids...).IDs(), nil)
}

// recalculate rebuilds ids. versions, when set, holds the versions of routes
// that were already deleted.
func (s *Service) recalculate(ctx context.Context, ids []int64, versions map[int64]int64) (*models.RecalculateResponse, error) {
	resp := &models.RecalculateResponse{Success: true, Routes: []models.Route{}}
	for _, id := range ids {
		route, removed, err := s.recalculateDriver(ctx, id, versions)
		if err != nil {
			return nil, fmt.Errorf("recalculate driver %d: %w", id, err)
		}
		if route != nil {
			resp.Routes = append(resp.Routes, *route)
		}
		if removed {
			resp.Removed = append(resp.Removed, id)
		}
	}
	resp.Recalculated = len(resp.Routes)
	return resp, nil
}

func (s *Service) recalculateDriver(ctx context.Context, vehicleID int64, versions map[int64]int64) (*models.Route, bool, error) {
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	logger := s.logger.WithField("vehicle_id", vehicleID)

	vehicle, err := s.store.Vehicles.FindVehicleByID(ctx, vehicleID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Warn("Vehicle not found, skipping recalculation")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	orders, err := s.store.Orders.FindOrders(ctx, db.OrderQuery{
		OrderFilter: models.OrderFilter{DriverID: models.IDPtr(vehicleID)},
		Statuses:    db.ActiveStatuses,
	})
	if err != nil {
		return nil, false, err
	}

	if len(orders) == 0 {
		existed, err := s.store.Routes.DeleteRoute(ctx, vehicleID)
		if err != nil {
			return nil, false, err
		}
		logger.Info("No active orders, route deleted")
		s.publish(ctx, events.NewRouteUpdated(vehicleID, 0, true))
		return nil, existed, nil
	}

	prev, ok := versions[vehicleID]
	if !ok {
		prev = s.previousVersion(ctx, vehicleID)
	}
	route, err := s.build(ctx, *vehicle, orders, prev)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.Routes.UpsertRoute(ctx, route); err != nil {
		return nil, false, err
	}
	logger.WithFields(log.Fields{
		"orders":   len(route.AssignedOrders),
		"distance": route.Distance,
		"version":  route.Version,
	}).Info("Route recalculated")
	s.publish(ctx, events.NewRouteUpdated(vehicleID, route.Version, false))
	return &route, false, nil
}

func (s *Service) previousVersion(ctx context.Context, vehicleID int64) int64 {
	prev, err := s.store.Routes.FindRoute(ctx, vehicleID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.logger.WithError(err).WithField("vehicle_id", vehicleID).Warn("Could not read previous route version")
		}
		return 0
	}
	return prev.Version
}

func (s *Service) build(ctx context.Context, vehicle models.Vehicle, orders []models.Order, prevVersion int64) (models.Route, error) {
	route, skipped := planner.Build(vehicle, orders, s.cfg)
	if len(skipped) > 0 {
		s.logger.WithFields(log.Fields{
			"vehicle_id": vehicle.ID,
			"orders":     skipped,
		}).Warn("Orders with invalid coordinates left off the route")
	}
	if s.paths != nil && len(route.Path) > 1 {
		path, err := s.paths.Path(ctx, route.Path)
		if err != nil {
			s.logger.WithError(err).WithField("vehicle_id", vehicle.ID).Warn("Road path unavailable, using straight segments")
		} else {
			route.Path = path
		}
	}
	route.Version = prevVersion + 1
	route.LastUpdated = s.now()
	return route, nil
}

func (s *Service) publish(ctx context.Context, ev events.RouteUpdated) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("vehicle_id", ev.VehicleID).Warn("Failed to publish route update")
	}
}

func validateOptimize(req models.OptimizeRequest) error {
	if len(req.Vehicles) == 0 || len(req.Orders) == 0 {
		return fmt.Errorf("%w: %d vehicles, %d orders", ErrInvalidRequest, len(req.Vehicles), len(req.Orders))
	}
	for _, v := range req.Vehicles {
		if v.ID <= 0 || v.MaxLoad <= 0 || !v.Position.Valid() {
			return fmt.Errorf("%w: vehicle %d", ErrInvalidRequest, v.ID)
		}
	}
	for _, o := range req.Orders {
		if o.ID <= 0 || o.Weight <= 0 || !o.Pickup.Valid() || !o.Delivery.Valid() {
			return fmt.Errorf("%w: order %d", ErrInvalidRequest, o.ID)
		}
	}
	return nil
}

// OptimizeAll reassigns the orders of req across the vehicles of req and
// replaces every route. Active manual assignments stay with their driver.
func (s *Service) OptimizeAll(ctx context.Context, req models.OptimizeRequest) (*models.OptimizeResponse, error) {
	if err := validateOptimize(req); err != nil {
		return nil, err
	}
	s.fleet.Lock()
	defer s.fleet.Unlock()

	manualOrders, err := s.store.Orders.FindOrders(ctx, db.OrderQuery{
		OrderFilter: models.OrderFilter{AssignmentType: models.AssignmentManual},
		Statuses:    db.ActiveStatuses,
	})
	if err != nil {
		return nil, err
	}
	manual := make(map[int64]int64, len(manualOrders))
	for _, o := range manualOrders {
		if o.DriverID != nil {
			manual[o.ID] = *o.DriverID
		}
	}
	s.logger.WithField("manual", len(manual)).Info("Preserving manual assignments")

	prior, err := s.store.Routes.FindActiveRoutes(ctx)
	if err != nil {
		return nil, err
	}
	versions := make(map[int64]int64, len(prior))
	for _, r := range prior {
		versions[r.VehicleID] = r.Version
	}
	if _, err := s.store.Routes.DeleteAllRoutes(ctx); err != nil {
		return nil, err
	}

	assignment, err := s.engine.Assign(ctx, req, manual)
	if err != nil {
		return nil, fmt.Errorf("assign orders: %w", err)
	}

	vehicles := make(map[int64]models.OptimizeVehicle, len(req.Vehicles))
	for _, v := range req.Vehicles {
		vehicles[v.ID] = v
	}
	vehicleIDs := make([]int64, 0, len(assignment))
	for id := range assignment {
		vehicleIDs = append(vehicleIDs, id)
	}
	sort.Slice(vehicleIDs, func(i, j int) bool { return vehicleIDs[i] < vehicleIDs[j] })

	resp := &models.OptimizeResponse{Routes: []models.Route{}}
	built := map[int64]bool{}
	for _, vid := range vehicleIDs {
		orderIDs := assignment[vid]
		v, ok := vehicles[vid]
		if !ok || len(orderIDs) == 0 {
			continue
		}
		route, updated, err := s.applyAssignment(ctx, v, orderIDs, versions[vid])
		if err != nil {
			s.logger.WithError(err).WithField("vehicle_id", vid).Error("Failed to build route")
			resp.Errors = append(resp.Errors, fmt.Sprintf("Error with vehicle %d: %v", vid, err))
			continue
		}
		built[vid] = true
		resp.Routes = append(resp.Routes, route)
		resp.Stats.UpdatedOrders += updated
		resp.Stats.AssignedOrders += len(route.AssignedOrders)
		if route.Duration > resp.Stats.Makespan {
			resp.Stats.Makespan = route.Duration
		}
		s.publish(ctx, events.NewRouteUpdated(vid, route.Version, false))
	}
	for vid := range versions {
		if !built[vid] {
			s.publish(ctx, events.NewRouteUpdated(vid, 0, true))
		}
	}

	if len(resp.Routes) == 0 {
		return nil, ErrNoRoutes
	}
	resp.Stats.TotalOrders = len(req.Orders)
	resp.Stats.TotalVehicles = len(req.Vehicles)
	resp.Stats.VehiclesWithRoutes = len(resp.Routes)

	s.logger.WithFields(log.Fields{
		"routes":         len(resp.Routes),
		"errors":         len(resp.Errors),
		"assigned":       resp.Stats.AssignedOrders,
		"updated_orders": resp.Stats.UpdatedOrders,
	}).Info("Optimization completed")
	return resp, nil
}

// applyAssignment stores the route of v over orderIDs and links the orders
// to it. Manual orders keep their assignment type.
func (s *Service) applyAssignment(ctx context.Context, v models.OptimizeVehicle, orderIDs []int64, prevVersion int64) (models.Route, int64, error) {
	orders, err := s.store.Orders.FindOrdersByIDs(ctx, orderIDs)
	if err != nil {
		return models.Route{}, 0, err
	}
	vehicle := models.Vehicle{ID: v.ID, MaxLoad: v.MaxLoad, Position: v.Position}
	if stored, err := s.store.Vehicles.FindVehicleByID(ctx, v.ID); err == nil {
		vehicle = *stored
		vehicle.Position = v.Position
		vehicle.Location = nil
	}

	route, err := s.build(ctx, vehicle, orders, prevVersion)
	if err != nil {
		return models.Route{}, 0, err
	}
	if err := s.store.Routes.UpsertRoute(ctx, route); err != nil {
		return models.Route{}, 0, err
	}

	now := s.now()
	var updated int64
	for _, o := range orders {
		if !route.HasOrder(o.ID) {
			continue
		}
		kind := models.AssignmentAuto
		if o.AssignmentType == models.AssignmentManual {
			kind = models.AssignmentManual
		}
		if o.Driver() == v.ID && o.AssignmentType == kind && o.Status.Active() {
			continue
		}
		if kind == models.AssignmentManual {
			o.DriverID = models.IDPtr(v.ID)
			if !o.Status.RequiresDriver() {
				o.SetStatus(models.StatusAssigned, now)
			}
		} else {
			o.Assign(v.ID, kind, now)
		}
		if err := s.store.Orders.ReplaceOrder(ctx, o); err != nil {
			return models.Route{}, updated, err
		}
		updated++
	}
	return route, updated, nil
}

// ClearAuto deletes every route and rebuilds the routes of drivers that
// still have active orders, which after auto assignments were reverted
// are the manual ones.
func (s *Service) ClearAuto(ctx context.Context) (*models.ClearResponse, error) {
	s.fleet.Lock()
	defer s.fleet.Unlock()

	prior, err := s.store.Routes.FindActiveRoutes(ctx)
	if err != nil {
		return nil, err
	}
	deleted, err := s.store.Routes.DeleteAllRoutes(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("deleted", deleted).Info("Routes cleared")

	active, err := s.store.Orders.FindOrders(ctx, db.OrderQuery{Statuses: db.ActiveStatuses})
	if err != nil {
		return nil, err
	}
	var keep affect.DriverSet
	for _, o := range active {
		if o.DriverID != nil {
			keep.Add(*o.DriverID)
		}
	}
	versions := make(map[int64]int64, len(prior))
	for _, r := range prior {
		versions[r.VehicleID] = r.Version
	}
	if !keep.Empty() {
		if _, err := s.recalculate(ctx, keep.IDs(), versions); err != nil {
			return nil, err
		}
	}
	for _, r := range prior {
		if !keep.Has(r.VehicleID) {
			s.publish(ctx, events.NewRouteUpdated(r.VehicleID, 0, true))
		}
	}
	return &models.ClearResponse{Success: true, DeletedCount: deleted}, nil
}
