package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/affect"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// fakeAPI is an in-memory backend that records every call.
type fakeAPI struct {
	mu         sync.Mutex
	orders     map[int64]models.Order
	vehicles   []models.Vehicle
	nextID     int64
	writeErr   error
	recalcErr  error
	recalcs    [][]int64
	bulkStatus []models.BulkStatusRequest
	optimized  []models.OptimizeRequest
	cleared    int
	block      chan struct{}
	entered    chan struct{}
}

func newFakeAPI(orders ...models.Order) *fakeAPI {
	f := &fakeAPI{orders: map[int64]models.Order{}, nextID: 100}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeAPI) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if filter.AssignmentType != "" && o.AssignmentType != filter.AssignmentType {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeAPI) CreateOrder(_ context.Context, o models.Order) (*models.Order, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.nextID++
	o.ID = f.nextID
	f.orders[o.ID] = o
	return &o, nil
}

func (f *fakeAPI) UpdateOrder(_ context.Context, id int64, u models.OrderUpdate) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	o := f.orders[id]
	o.SenderID, o.ReceiverID, o.Weight, o.Notes = u.SenderID, u.ReceiverID, u.Weight, u.Notes
	o.Status, o.DriverID, o.AssignmentType = u.Status, u.DriverID, u.AssignmentType
	f.orders[id] = o
	return &o, nil
}

func (f *fakeAPI) DeleteOrder(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeAPI) BulkAssign(_ context.Context, req models.BulkAssignRequest) (*models.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range req.OrderIDs {
		o := f.orders[id]
		o.Assign(req.DriverID, models.AssignmentManual, time.Now())
		f.orders[id] = o
	}
	n := int64(len(req.OrderIDs))
	return &models.BulkResult{Matched: n, Modified: n}, nil
}

func (f *fakeAPI) BulkStatus(_ context.Context, req models.BulkStatusRequest) (*models.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.bulkStatus = append(f.bulkStatus, req)
	for _, id := range req.OrderIDs {
		o := f.orders[id]
		o.SetStatus(req.NewStatus, time.Now())
		f.orders[id] = o
	}
	n := int64(len(req.OrderIDs))
	return &models.BulkResult{Matched: n, Modified: n}, nil
}

func (f *fakeAPI) BulkDeleteOrders(_ context.Context, ids []int64) (*models.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.orders, id)
	}
	return &models.BulkResult{Matched: int64(len(ids)), Modified: int64(len(ids))}, nil
}

func (f *fakeAPI) ListVehicles(context.Context) ([]models.Vehicle, error) {
	return f.vehicles, nil
}

func (f *fakeAPI) Optimize(_ context.Context, req models.OptimizeRequest) (*models.OptimizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimized = append(f.optimized, req)
	routes := []models.Route{{VehicleID: req.Vehicles[0].ID}}
	return &models.OptimizeResponse{Routes: routes, Stats: models.OptimizeStats{TotalOrders: len(req.Orders)}}, nil
}

func (f *fakeAPI) ClearAuto(context.Context) (*models.ClearResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return &models.ClearResponse{Success: true}, nil
}

func (f *fakeAPI) RecalculateDrivers(_ context.Context, ids []int64) (*models.RecalculateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalcs = append(f.recalcs, ids)
	if f.recalcErr != nil {
		return nil, f.recalcErr
	}
	return &models.RecalculateResponse{Success: true, Recalculated: len(ids)}, nil
}

type harness struct {
	api   *fakeAPI
	store *cache.MemoryStore
	muts  *Mutations
}

func newHarness(t *testing.T, orders ...models.Order) *harness {
	t.Helper()
	api := newFakeAPI(orders...)
	store := cache.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutFleet(ctx, cache.FleetEntry{Data: []byte(`[]`), CachedAt: time.Now()}))
	for _, id := range []int64{2, 5, 7, 9} {
		require.NoError(t, store.PutDriverRoute(ctx, id, []byte(`{"vehicleId":1}`)))
	}
	inv := cache.NewInvalidator(store, nil, nil)
	return &harness{api: api, store: store, muts: NewMutations(api, NewDispatcher(api, inv, nil), inv, nil)}
}

func (h *harness) cached(id int64) bool {
	data, _ := h.store.GetDriverRoute(context.Background(), id)
	return data != nil
}

func (h *harness) fleetCached() bool {
	e, _ := h.store.GetFleet(context.Background())
	return e != nil
}

func (h *harness) flag() bool {
	set, _ := h.store.TakeForceRefresh(context.Background())
	return set
}

func TestDispatcher_EmptySetSkipsBackend(t *testing.T) {
	h := newHarness(t)
	_, err := h.muts.dispatcher.Recalculate(context.Background(), affect.DriverSet{})
	assert.ErrorIs(t, err, ErrNothingToRecalculate)
	assert.Empty(t, h.api.recalcs)
	assert.True(t, h.fleetCached())
}

func TestDispatcher_FailureLeavesCaches(t *testing.T) {
	h := newHarness(t)
	h.api.recalcErr = errors.New("connection refused")

	_, err := h.muts.dispatcher.Recalculate(context.Background(), affect.NewDriverSet(5))
	assert.ErrorIs(t, err, ErrRoutesStale)
	assert.ErrorContains(t, err, "connection refused")
	assert.Len(t, h.api.recalcs, 1, "no retry")
	assert.True(t, h.cached(5))
	assert.True(t, h.fleetCached())
	assert.False(t, h.flag())
}

func TestUpdate_DriverChangeRecalculatesBoth(t *testing.T) {
	before := models.Order{ID: 42, SenderID: 1, ReceiverID: 2, Weight: 5, Status: models.StatusAssigned,
		DriverID: models.IDPtr(7), AssignmentType: models.AssignmentAuto}
	h := newHarness(t, before)

	out, err := h.muts.Update(context.Background(), before, OrderForm{
		SenderID: 1, ReceiverID: 2, Weight: 5, Status: models.StatusAssigned, DriverID: models.IDPtr(2),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{2, 7}}, h.api.recalcs)
	assert.True(t, out.Recalculated)
	assert.NoError(t, out.Warning)
	assert.Equal(t, models.AssignmentManual, out.Order.AssignmentType)
	assert.False(t, h.cached(2))
	assert.False(t, h.cached(7))
	assert.True(t, h.cached(5), "unaffected driver keeps its cache")
	assert.False(t, h.fleetCached())
	assert.True(t, h.flag())
}

func TestUpdate_RevertToPendingUnassigns(t *testing.T) {
	before := models.Order{ID: 42, Status: models.StatusAssigned, DriverID: models.IDPtr(5), AssignmentType: models.AssignmentManual}
	h := newHarness(t, before)

	out, err := h.muts.Update(context.Background(), before, OrderForm{Status: models.StatusPending, DriverID: models.IDPtr(5)})
	require.NoError(t, err)

	assert.Nil(t, h.api.orders[42].DriverID)
	assert.Equal(t, models.AssignmentNone, h.api.orders[42].AssignmentType)
	assert.Equal(t, []int64{5}, out.Affected.IDs())
	assert.Equal(t, [][]int64{{5}}, h.api.recalcs)
	assert.False(t, h.cached(5))
}

func TestUpdate_SameDriverStatusChangeSkipsRecalc(t *testing.T) {
	before := models.Order{ID: 42, Status: models.StatusAssigned, DriverID: models.IDPtr(5), AssignmentType: models.AssignmentAuto}
	h := newHarness(t, before)

	out, err := h.muts.Update(context.Background(), before, OrderForm{Status: models.StatusInTransit, DriverID: models.IDPtr(5)})
	require.NoError(t, err)

	assert.True(t, out.Affected.Empty())
	assert.Empty(t, h.api.recalcs)
	assert.False(t, out.Recalculated)
	assert.Equal(t, models.AssignmentAuto, out.Order.AssignmentType)
	assert.True(t, h.cached(5))
	assert.False(t, h.fleetCached(), "committed write still clears the fleet cache")
	assert.True(t, h.flag())
}

func TestUpdate_WriteFailureStopsPipeline(t *testing.T) {
	before := models.Order{ID: 42, Status: models.StatusAssigned, DriverID: models.IDPtr(7)}
	h := newHarness(t, before)
	h.api.writeErr = errors.New("500 internal error")

	out, err := h.muts.Update(context.Background(), before, OrderForm{Status: models.StatusAssigned, DriverID: models.IDPtr(2)})
	assert.Error(t, err)
	assert.Nil(t, out)
	assert.Empty(t, h.api.recalcs)
	assert.True(t, h.fleetCached())
	assert.False(t, h.flag())
}

func TestUpdate_RecalcFailureIsWarning(t *testing.T) {
	before := models.Order{ID: 42, Status: models.StatusAssigned, DriverID: models.IDPtr(7)}
	h := newHarness(t, before)
	h.api.recalcErr = errors.New("timeout")

	out, err := h.muts.Update(context.Background(), before, OrderForm{Status: models.StatusAssigned, DriverID: models.IDPtr(2)})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Warning, ErrRoutesStale)
	assert.False(t, out.Recalculated)
	o42 := h.api.orders[42]
	assert.Equal(t, int64(2), o42.Driver(), "mutation stays committed")
	assert.True(t, h.cached(7))
}

func TestCreate_WithDriverIsManual(t *testing.T) {
	h := newHarness(t)

	out, err := h.muts.Create(context.Background(), OrderForm{SenderID: 1, ReceiverID: 2, Weight: 3, DriverID: models.IDPtr(9)})
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentManual, out.Order.AssignmentType)
	assert.Equal(t, models.StatusAssigned, out.Order.Status)
	assert.Equal(t, []int64{9}, out.Affected.IDs())
	assert.Equal(t, [][]int64{{9}}, h.api.recalcs)
	assert.False(t, h.cached(9))
}

func TestCreate_WithoutDriver(t *testing.T) {
	h := newHarness(t)
	out, err := h.muts.Create(context.Background(), OrderForm{SenderID: 1, ReceiverID: 2, Weight: 3})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Order.Status)
	assert.Empty(t, h.api.recalcs)
	assert.True(t, h.flag())
}

func TestBulkStatus_RevertScenario(t *testing.T) {
	o42 := models.Order{ID: 42, Status: models.StatusAssigned, DriverID: models.IDPtr(5), AssignmentType: models.AssignmentAuto}
	o43 := models.Order{ID: 43, Status: models.StatusApproved}
	h := newHarness(t, o42, o43)

	out, err := h.muts.BulkStatus(context.Background(), []models.Order{o42, o43}, models.StatusPending)
	require.NoError(t, err)

	require.Len(t, h.api.bulkStatus, 1)
	assert.True(t, h.api.bulkStatus[0].UnassignDriver)
	assert.Equal(t, []int64{42, 43}, h.api.bulkStatus[0].OrderIDs)
	assert.Equal(t, []int64{5}, out.Affected.IDs())
	assert.Equal(t, [][]int64{{5}}, h.api.recalcs)
	assert.Nil(t, h.api.orders[42].DriverID)
	assert.False(t, h.cached(5))
}

func TestBulkStatus_ForwardChangeSkipsRecalc(t *testing.T) {
	o := models.Order{ID: 1, Status: models.StatusAssigned, DriverID: models.IDPtr(5)}
	h := newHarness(t, o)

	out, err := h.muts.BulkStatus(context.Background(), []models.Order{o}, models.StatusInTransit)
	require.NoError(t, err)
	assert.False(t, h.api.bulkStatus[0].UnassignDriver)
	assert.True(t, out.Affected.Empty())
	assert.Empty(t, h.api.recalcs)

	_, err = h.muts.BulkStatus(context.Background(), []models.Order{o}, "lost")
	assert.Error(t, err)
}

func TestBulkAssign(t *testing.T) {
	orders := []models.Order{
		{ID: 1, Status: models.StatusAssigned, DriverID: models.IDPtr(7)},
		{ID: 2, Status: models.StatusPending},
	}
	h := newHarness(t, orders...)

	out, err := h.muts.BulkAssign(context.Background(), orders, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 7}, out.Affected.IDs())
	assert.Equal(t, [][]int64{{2, 7}}, h.api.recalcs)
	assert.Equal(t, models.AssignmentManual, h.api.orders[2].AssignmentType)
}

func TestDeleteAndBulkDelete(t *testing.T) {
	o1 := models.Order{ID: 1, Status: models.StatusAssigned, DriverID: models.IDPtr(5)}
	o2 := models.Order{ID: 2, Status: models.StatusPending}
	o3 := models.Order{ID: 3, Status: models.StatusPicked, DriverID: models.IDPtr(9)}
	h := newHarness(t, o1, o2, o3)

	out, err := h.muts.Delete(context.Background(), o1)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, out.Affected.IDs())

	out, err = h.muts.BulkDelete(context.Background(), []models.Order{o2, o3})
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, out.Affected.IDs())
	assert.Equal(t, [][]int64{{5}, {9}}, h.api.recalcs)
	assert.Empty(t, h.api.orders)
}

func TestInFlightGuard(t *testing.T) {
	h := newHarness(t)
	h.api.block = make(chan struct{})
	h.api.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.muts.Create(context.Background(), OrderForm{SenderID: 1, ReceiverID: 2, Weight: 1})
		done <- err
	}()
	<-h.api.entered

	_, err := h.muts.Create(context.Background(), OrderForm{SenderID: 1, ReceiverID: 2, Weight: 1})
	assert.ErrorIs(t, err, ErrInFlight)

	// Other orders are not blocked by an in-flight create.
	_, err = h.muts.Delete(context.Background(), models.Order{ID: 77})
	assert.NoError(t, err)

	close(h.api.block)
	require.NoError(t, <-done)

	h.api.block = nil
	_, err = h.muts.Create(context.Background(), OrderForm{SenderID: 1, ReceiverID: 2, Weight: 1})
	assert.NoError(t, err, "guard is released after the first submission completes")
}

func TestResetAuto(t *testing.T) {
	h := newHarness(t,
		models.Order{ID: 1, Status: models.StatusAssigned, DriverID: models.IDPtr(5), AssignmentType: models.AssignmentAuto},
		models.Order{ID: 2, Status: models.StatusAssigned, DriverID: models.IDPtr(7), AssignmentType: models.AssignmentManual},
		models.Order{ID: 3, Status: models.StatusInTransit, DriverID: models.IDPtr(9), AssignmentType: models.AssignmentAuto},
	)

	out, err := h.muts.ResetAuto(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Result.Modified)
	assert.Equal(t, []int64{5}, out.Affected.IDs())
	assert.Equal(t, 1, h.api.cleared)
	assert.Equal(t, models.StatusPending, h.api.orders[1].Status)
	assert.Nil(t, h.api.orders[1].DriverID)
	o2 := h.api.orders[2]
	assert.Equal(t, int64(7), o2.Driver())
	assert.False(t, h.cached(5))
	assert.True(t, h.flag())
}

func TestOptimizeAll(t *testing.T) {
	h := newHarness(t,
		models.Order{ID: 1, Status: models.StatusPending, Weight: 0},
		models.Order{ID: 2, Status: models.StatusAssigned, DriverID: models.IDPtr(7), AssignmentType: models.AssignmentManual,
			Pickup: models.NewPoint(35.1, 33.3), Delivery: models.NewPoint(35.2, 33.4), Weight: 4},
		models.Order{ID: 3, Status: models.StatusDelivered, DriverID: models.IDPtr(9)},
	)
	h.api.vehicles = []models.Vehicle{{ID: 2, MaxLoad: 200, Position: models.NewPoint(35.0, 33.0)}}

	out, err := h.muts.OptimizeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, h.api.optimized, 1)
	req := h.api.optimized[0]
	assert.Len(t, req.Orders, 2, "closed orders are not sent")
	for _, o := range req.Orders {
		if o.ID == 1 {
			assert.Equal(t, DefaultOrderWeight, o.Weight)
			assert.Equal(t, DefaultPosition, o.Pickup)
		}
	}
	assert.Equal(t, 200.0, req.Vehicles[0].MaxLoad)
	assert.Equal(t, []int64{2, 7}, out.Affected.IDs())
	assert.Empty(t, h.api.recalcs, "full optimization does not use scoped recalculation")
	assert.False(t, h.cached(2))
	assert.False(t, h.cached(7))
}

func TestOptimizeAll_NothingToDo(t *testing.T) {
	h := newHarness(t)
	_, err := h.muts.OptimizeAll(context.Background())
	assert.ErrorIs(t, err, ErrNoOrders)

	h = newHarness(t, models.Order{ID: 1, Status: models.StatusPending})
	_, err = h.muts.OptimizeAll(context.Background())
	assert.ErrorIs(t, err, ErrNoVehicles)
}
