package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Memory keeps every collection in process. It backs fleetd when no
// MongoDB is configured, and the handler tests.
type Memory struct {
	mu       sync.RWMutex
	orders   map[int64]models.Order
	vehicles map[int64]models.Vehicle
	users    map[int64]models.User
	routes   map[int64]models.Route
	seq      map[string]int64
	now      func() time.Time
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		orders:   map[int64]models.Order{},
		vehicles: map[int64]models.Vehicle{},
		users:    map[int64]models.User{},
		routes:   map[int64]models.Route{},
		seq:      map[string]int64{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewMemoryStore wires a fresh Memory into every collection of a Store.
func NewMemoryStore() *Store {
	m := NewMemory()
	return &Store{Orders: m, Vehicles: m, Users: m, Routes: m}
}

// next must be called with mu held. Explicit ids push the sequence forward.
func (m *Memory) next(name string, explicit int64) int64 {
	if explicit != 0 {
		if explicit > m.seq[name] {
			m.seq[name] = explicit
		}
		return explicit
	}
	m.seq[name]++
	return m.seq[name]
}

func cloneRoute(r models.Route) models.Route {
	r.Stops = append([]models.Stop(nil), r.Stops...)
	r.AssignedOrders = append([]int64(nil), r.AssignedOrders...)
	r.Path = append([]models.Point(nil), r.Path...)
	return r
}

func (m *Memory) InsertOrder(_ context.Context, order models.Order) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; order.ID != 0 && exists {
		return nil, fmt.Errorf("order %d already exists", order.ID)
	}
	order.ID = m.next("orders", order.ID)
	now := m.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	m.orders[order.ID] = order.Clone()
	return &order, nil
}

func (m *Memory) FindOrders(_ context.Context, q OrderQuery) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := []models.Order{}
	for _, o := range m.orders {
		if matchOrder(q, o) {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *Memory) FindOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	o = o.Clone()
	return &o, nil
}

func (m *Memory) FindOrdersByIDs(_ context.Context, ids []int64) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := []models.Order{}
	seen := map[int64]bool{}
	for _, id := range ids {
		if o, ok := m.orders[id]; ok && !seen[id] {
			seen[id] = true
			orders = append(orders, o.Clone())
		}
	}
	return orders, nil
}

func (m *Memory) ReplaceOrder(_ context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	order.UpdatedAt = m.now()
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *Memory) DeleteOrder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	delete(m.orders, id)
	return nil
}

func (m *Memory) DeleteOrders(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.orders[id]; ok {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) OrderStats(_ context.Context, from, to *time.Time) (*models.OrderStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := OrderQuery{From: from, To: to}
	stats := &models.OrderStats{ByStatus: map[models.OrderStatus]int64{}, ByDriver: []models.DriverLoad{}}
	byDriver := map[int64]*models.DriverLoad{}
	for _, o := range m.orders {
		if !matchOrder(q, o) {
			continue
		}
		stats.Total++
		stats.ByStatus[o.Status]++
		if o.DriverID == nil {
			continue
		}
		load, ok := byDriver[*o.DriverID]
		if !ok {
			load = &models.DriverLoad{DriverID: *o.DriverID}
			byDriver[*o.DriverID] = load
		}
		load.OrderCount++
		load.TotalWeight += o.Weight
	}
	for _, load := range byDriver {
		stats.ByDriver = append(stats.ByDriver, *load)
	}
	sort.Slice(stats.ByDriver, func(i, j int) bool { return stats.ByDriver[i].DriverID < stats.ByDriver[j].DriverID })
	return stats, nil
}

func (m *Memory) InsertVehicle(_ context.Context, vehicle models.Vehicle) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.vehicles[vehicle.ID]; vehicle.ID != 0 && exists {
		return nil, fmt.Errorf("vehicle %d already exists", vehicle.ID)
	}
	vehicle.ID = m.next("vehicles", vehicle.ID)
	m.vehicles[vehicle.ID] = vehicle
	return &vehicle, nil
}

func (m *Memory) FindVehicles(_ context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vehicles := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		vehicles = append(vehicles, v)
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	return vehicles, nil
}

func (m *Memory) FindVehicleByID(_ context.Context, id int64) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %d: %w", id, ErrNotFound)
	}
	return &v, nil
}

func (m *Memory) ReplaceVehicle(_ context.Context, vehicle models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[vehicle.ID]; !ok {
		return fmt.Errorf("vehicle %d: %w", vehicle.ID, ErrNotFound)
	}
	m.vehicles[vehicle.ID] = vehicle
	return nil
}

func (m *Memory) DeleteVehicle(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return fmt.Errorf("vehicle %d: %w", id, ErrNotFound)
	}
	delete(m.vehicles, id)
	return nil
}

func (m *Memory) SetVehicleStatus(_ context.Context, ids []int64, status models.VehicleStatus) (models.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res models.BulkResult
	for _, id := range ids {
		v, ok := m.vehicles[id]
		if !ok {
			continue
		}
		res.Matched++
		if v.Status != status {
			v.Status = status
			m.vehicles[id] = v
			res.Modified++
		}
	}
	return res, nil
}

func (m *Memory) DeleteVehicles(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.vehicles[id]; ok {
			delete(m.vehicles, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertUser(_ context.Context, user models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.ID]; user.ID != 0 && exists {
		return nil, fmt.Errorf("user %d already exists", user.ID)
	}
	user.ID = m.next("users", user.ID)
	m.users[user.ID] = user
	return &user, nil
}

func (m *Memory) FindUsers(_ context.Context, role models.Role) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := []models.User{}
	for _, u := range m.users {
		if role == "" || u.Role == role {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *Memory) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (m *Memory) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

func (m *Memory) SetUserStatus(_ context.Context, ids []int64, status models.DriverStatus) (models.BulkResult, error) {
	return m.updateUsers(ids, func(u *models.User) bool {
		changed := u.Status != status
		u.Status = status
		return changed
	}), nil
}

func (m *Memory) SetUserRole(_ context.Context, ids []int64, role models.Role) (models.BulkResult, error) {
	return m.updateUsers(ids, func(u *models.User) bool {
		changed := u.Role != role
		u.Role = role
		return changed
	}), nil
}

func (m *Memory) updateUsers(ids []int64, apply func(*models.User) bool) models.BulkResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res models.BulkResult
	for _, id := range ids {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		res.Matched++
		if apply(&u) {
			m.users[id] = u
			res.Modified++
		}
	}
	return res
}

func (m *Memory) DeleteUsers(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.users[id]; ok {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindActiveRoutes(_ context.Context) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	routes := []models.Route{}
	for _, r := range m.routes {
		if r.Status == models.RouteStatusActive {
			routes = append(routes, cloneRoute(r))
		}
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].VehicleID < routes[j].VehicleID })
	return routes, nil
}

func (m *Memory) FindRoute(_ context.Context, vehicleID int64) (*models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[vehicleID]
	if !ok || !r.IsActive {
		return nil, fmt.Errorf("route for vehicle %d: %w", vehicleID, ErrNotFound)
	}
	r = cloneRoute(r)
	return &r, nil
}

func (m *Memory) UpsertRoute(_ context.Context, route models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[route.VehicleID] = cloneRoute(route)
	return nil
}

func (m *Memory) DeleteRoute(_ context.Context, vehicleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.routes[vehicleID]
	delete(m.routes, vehicleID)
	return ok, nil
}

func (m *Memory) DeleteAllRoutes(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.routes))
	m.routes = map[int64]models.Route{}
	return n, nil
}

var (
	_ OrderCollection   = (*Memory)(nil)
	_ VehicleCollection = (*Memory)(nil)
	_ UserCollection    = (*Memory)(nil)
	_ RouteCollection   = (*Memory)(nil)
	_ OrderCollection   = (*MongoOrderCollection)(nil)
	_ VehicleCollection = (*MongoVehicleCollection)(nil)
	_ UserCollection    = (*MongoUserCollection)(nil)
	_ RouteCollection   = (*MongoRouteCollection)(nil)
)
