package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/affect"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	// ErrInFlight rejects an action submitted again while the first
	// submission is still running.
	ErrInFlight = errors.New("action already in progress")
	// ErrNoOrders and ErrNoVehicles abort a full-fleet optimization with
	// nothing to optimize.
	ErrNoOrders   = errors.New("no open orders to assign")
	ErrNoVehicles = errors.New("no vehicles available")
)

// Defaults applied to optimizer input with missing data.
var (
	DefaultPosition    = models.NewPoint(21.0285, 105.8542)
	DefaultOrderWeight = 10.0
)

// OrderAPI is the part of the backend API mutations use.
type OrderAPI interface {
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	CreateOrder(ctx context.Context, o models.Order) (*models.Order, error)
	UpdateOrder(ctx context.Context, id int64, u models.OrderUpdate) (*models.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	BulkAssign(ctx context.Context, req models.BulkAssignRequest) (*models.BulkResult, error)
	BulkStatus(ctx context.Context, req models.BulkStatusRequest) (*models.BulkResult, error)
	BulkDeleteOrders(ctx context.Context, ids []int64) (*models.BulkResult, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	Optimize(ctx context.Context, req models.OptimizeRequest) (*models.OptimizeResponse, error)
	ClearAuto(ctx context.Context) (*models.ClearResponse, error)
}

// Outcome reports what a committed mutation did. Warning is set when the
// write succeeded but the routes could not be brought up to date.
type Outcome struct {
	Order        *models.Order
	Result       *models.BulkResult
	Optimize     *models.OptimizeResponse
	Affected     affect.DriverSet
	Recalculated bool
	Warning      error
}

// Mutations is the order mutation handler. Each method runs one strict
// sequence: write, resolve the affected drivers, recalculate, invalidate.
// A failed write returns an error and nothing else runs.
type Mutations struct {
	api        OrderAPI
	dispatcher *Dispatcher
	caches     Invalidator
	logger     log.FieldLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewMutations wires a handler.
func NewMutations(client OrderAPI, dispatcher *Dispatcher, caches Invalidator, logger log.FieldLogger) *Mutations {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Mutations{
		api:        client,
		dispatcher: dispatcher,
		caches:     caches,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

func (m *Mutations) begin(key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, ErrInFlight)
	}
	m.inflight[key] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
	}, nil
}

// settle runs the post-write half of the pipeline.
func (m *Mutations) settle(ctx context.Context, action string, out *Outcome) {
	logger := m.logger.WithFields(log.Fields{"action": action, "driver_ids": out.Affected.IDs()})

	if out.Affected.Empty() {
		// The order data still changed, so dashboards must refetch.
		if err := m.caches.Invalidate(ctx, nil); err != nil {
			logger.WithError(err).Warn("Cache invalidation incomplete")
			out.Warning = err
		}
		return
	}

	_, err := m.dispatcher.Recalculate(ctx, out.Affected)
	switch {
	case err == nil:
		out.Recalculated = true
	case errors.Is(err, ErrRoutesStale):
		out.Warning = err
	default:
		out.Recalculated = true
		out.Warning = err
	}
	logger.WithField("recalculated", out.Recalculated).Info("Order mutation settled")
}

// Create posts a new order.
func (m *Mutations) Create(ctx context.Context, form OrderForm) (*Outcome, error) {
	release, err := m.begin("order:create")
	if err != nil {
		return nil, err
	}
	defer release()

	u, err := Normalize(nil, form)
	if err != nil {
		return nil, err
	}
	created, err := m.api.CreateOrder(ctx, newOrder(u, form))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	out := &Outcome{Order: created, Affected: affect.ResolveCreate(*created)}
	m.settle(ctx, "create", out)
	return out, nil
}

// Update saves the edit form for before.
func (m *Mutations) Update(ctx context.Context, before models.Order, form OrderForm) (*Outcome, error) {
	release, err := m.begin(fmt.Sprintf("order:%d", before.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	u, err := Normalize(&before, form)
	if err != nil {
		return nil, err
	}
	updated, err := m.api.UpdateOrder(ctx, before.ID, u)
	if err != nil {
		return nil, fmt.Errorf("update order %d: %w", before.ID, err)
	}

	out := &Outcome{Order: updated, Affected: affect.ResolveEdit(affect.EditOf(before, *updated))}
	m.settle(ctx, "update", out)
	return out, nil
}

// Delete removes order.
func (m *Mutations) Delete(ctx context.Context, order models.Order) (*Outcome, error) {
	release, err := m.begin(fmt.Sprintf("order:%d", order.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if err := m.api.DeleteOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("delete order %d: %w", order.ID, err)
	}

	out := &Outcome{Affected: affect.ResolveDelete(order)}
	m.settle(ctx, "delete", out)
	return out, nil
}

// BulkAssign manually assigns selected orders to driverID.
func (m *Mutations) BulkAssign(ctx context.Context, selected []models.Order, driverID int64) (*Outcome, error) {
	release, err := m.begin("bulk-assign")
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := m.api.BulkAssign(ctx, models.BulkAssignRequest{OrderIDs: orderIDs(selected), DriverID: driverID})
	if err != nil {
		return nil, fmt.Errorf("bulk assign: %w", err)
	}

	out := &Outcome{Result: res, Affected: affect.ResolveBulkAssign(selected, driverID)}
	m.settle(ctx, "bulk-assign", out)
	return out, nil
}

// BulkStatus moves selected orders to status. Reverting to pending or
// approved unassigns their drivers in the same request.
func (m *Mutations) BulkStatus(ctx context.Context, selected []models.Order, status models.OrderStatus) (*Outcome, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	release, err := m.begin("bulk-status")
	if err != nil {
		return nil, err
	}
	defer release()

	set, unassign := affect.ResolveBulkStatus(selected, status)
	res, err := m.api.BulkStatus(ctx, models.BulkStatusRequest{
		OrderIDs:       orderIDs(selected),
		NewStatus:      status,
		UnassignDriver: unassign,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk status: %w", err)
	}

	out := &Outcome{Result: res, Affected: set}
	m.settle(ctx, "bulk-status", out)
	return out, nil
}

// BulkDelete deletes selected orders.
func (m *Mutations) BulkDelete(ctx context.Context, selected []models.Order) (*Outcome, error) {
	release, err := m.begin("bulk-delete")
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := m.api.BulkDeleteOrders(ctx, orderIDs(selected))
	if err != nil {
		return nil, fmt.Errorf("bulk delete: %w", err)
	}

	out := &Outcome{Result: res, Affected: affect.ResolveBulkDelete(selected)}
	m.settle(ctx, "bulk-delete", out)
	return out, nil
}

// ResetAuto returns every auto-assigned order to pending and deletes the
// optimizer-generated routes. Manual assignments are left alone.
func (m *Mutations) ResetAuto(ctx context.Context) (*Outcome, error) {
	release, err := m.begin("reset-auto")
	if err != nil {
		return nil, err
	}
	defer release()

	orders, err := m.api.ListOrders(ctx, models.OrderFilter{AssignmentType: models.AssignmentAuto})
	if err != nil {
		return nil, fmt.Errorf("list auto orders: %w", err)
	}

	var drivers affect.DriverSet
	res := &models.BulkResult{}
	for _, o := range orders {
		if o.Status != models.StatusAssigned {
			continue
		}
		res.Matched++
		u := models.OrderUpdate{
			SenderID:   o.SenderID,
			ReceiverID: o.ReceiverID,
			Weight:     o.Weight,
			Status:     models.StatusPending,
			Notes:      o.Notes,
		}
		if _, err := m.api.UpdateOrder(ctx, o.ID, u); err != nil {
			return nil, fmt.Errorf("reset order %d: %w", o.ID, err)
		}
		res.Modified++
		if o.DriverID != nil {
			drivers.Add(*o.DriverID)
		}
	}

	if _, err := m.api.ClearAuto(ctx); err != nil {
		return nil, fmt.Errorf("clear auto routes: %w", err)
	}

	out := &Outcome{Result: res, Affected: drivers, Recalculated: true}
	if err := m.caches.Invalidate(ctx, drivers.IDs()); err != nil {
		out.Warning = err
	}
	m.logger.WithFields(log.Fields{"reset": res.Modified, "driver_ids": drivers.IDs()}).Info("Auto assignments reset")
	return out, nil
}

// OptimizeAll sends every open order and every vehicle to the full-fleet
// optimizer. Manual assignments travel along so the optimizer keeps them.
// This is the only path that reoptimizes the whole fleet.
func (m *Mutations) OptimizeAll(ctx context.Context) (*Outcome, error) {
	release, err := m.begin("optimize")
	if err != nil {
		return nil, err
	}
	defer release()

	vehicles, err := m.api.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	orders, err := m.api.ListOrders(ctx, models.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	req, prior := BuildOptimizeRequest(vehicles, orders)
	if len(req.Orders) == 0 {
		return nil, ErrNoOrders
	}
	if len(req.Vehicles) == 0 {
		return nil, ErrNoVehicles
	}

	if err := m.caches.Invalidate(ctx, nil); err != nil {
		m.logger.WithError(err).Warn("Cache invalidation incomplete")
	}
	res, err := m.api.Optimize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	for _, r := range res.Routes {
		prior.Add(r.VehicleID)
	}
	out := &Outcome{Optimize: res, Affected: prior, Recalculated: true}
	if err := m.caches.Invalidate(ctx, prior.IDs()); err != nil {
		out.Warning = err
	}
	m.logger.WithFields(log.Fields{
		"orders":   res.Stats.TotalOrders,
		"assigned": res.Stats.AssignedOrders,
		"vehicles": res.Stats.VehiclesWithRoutes,
	}).Info("Fleet optimized")
	return out, nil
}

// BuildOptimizeRequest packs vehicles and the open orders for the
// optimizer, filling gaps with defaults. It also returns the drivers the
// open orders are currently on.
func BuildOptimizeRequest(vehicles []models.Vehicle, orders []models.Order) (models.OptimizeRequest, affect.DriverSet) {
	var req models.OptimizeRequest
	var prior affect.DriverSet

	for _, v := range vehicles {
		pos := v.Depot()
		if !pos.Valid() {
			pos = DefaultPosition
		}
		req.Vehicles = append(req.Vehicles, models.OptimizeVehicle{ID: v.ID, MaxLoad: v.Load(), Position: pos})
	}
	for _, o := range orders {
		if o.Status.Closed() {
			continue
		}
		weight := o.Weight
		if weight <= 0 {
			weight = DefaultOrderWeight
		}
		pickup, delivery := o.Pickup, o.Delivery
		if !pickup.Valid() {
			pickup = DefaultPosition
		}
		if !delivery.Valid() {
			delivery = DefaultPosition
		}
		req.Orders = append(req.Orders, models.OptimizeOrder{
			ID:              o.ID,
			Weight:          weight,
			Pickup:          pickup,
			Delivery:        delivery,
			PickupAddress:   o.PickupAddress,
			DeliveryAddress: o.DeliveryAddress,
		})
		if o.DriverID != nil {
			prior.Add(*o.DriverID)
		}
	}
	return req, prior
}

func orderIDs(orders []models.Order) []int64 {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
