package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// OrderQuery selects orders. When UserID is set it matches orders the user
// sent or receives and the status, driver, sender and receiver fields are
// ignored. AssignmentType, Statuses and the date range always apply.
type OrderQuery struct {
	models.OrderFilter
	Statuses []models.OrderStatus
	From     *time.Time
	To       *time.Time
}

// OrderCollection defines the interface for order data operations.
type OrderCollection interface {
	InsertOrder(ctx context.Context, order models.Order) (*models.Order, error)
	FindOrders(ctx context.Context, q OrderQuery) ([]models.Order, error)
	FindOrderByID(ctx context.Context, id int64) (*models.Order, error)
	FindOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error)
	ReplaceOrder(ctx context.Context, order models.Order) error
	DeleteOrder(ctx context.Context, id int64) error
	DeleteOrders(ctx context.Context, ids []int64) (int64, error)
	OrderStats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error)
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) (*models.Vehicle, error)
	FindVehicles(ctx context.Context) ([]models.Vehicle, error)
	FindVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	ReplaceVehicle(ctx context.Context, vehicle models.Vehicle) error
	DeleteVehicle(ctx context.Context, id int64) error
	SetVehicleStatus(ctx context.Context, ids []int64, status models.VehicleStatus) (models.BulkResult, error)
	DeleteVehicles(ctx context.Context, ids []int64) (int64, error)
}

// UserCollection defines the interface for user database operations.
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) (*models.User, error)
	FindUsers(ctx context.Context, role models.Role) ([]models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	SetUserStatus(ctx context.Context, ids []int64, status models.DriverStatus) (models.BulkResult, error)
	SetUserRole(ctx context.Context, ids []int64, role models.Role) (models.BulkResult, error)
	DeleteUsers(ctx context.Context, ids []int64) (int64, error)
}

// RouteCollection stores at most one route per vehicle.
type RouteCollection interface {
	FindActiveRoutes(ctx context.Context) ([]models.Route, error)
	FindRoute(ctx context.Context, vehicleID int64) (*models.Route, error)
	UpsertRoute(ctx context.Context, route models.Route) error
	DeleteRoute(ctx context.Context, vehicleID int64) (bool, error)
	DeleteAllRoutes(ctx context.Context) (int64, error)
}

// Store groups the collections fleetd works with.
type Store struct {
	Orders   OrderCollection
	Vehicles VehicleCollection
	Users    UserCollection
	Routes   RouteCollection
}

// matchOrder is the in-memory equivalent of orderFilter.
func matchOrder(q OrderQuery, o models.Order) bool {
	if q.UserID != nil {
		if o.SenderID != *q.UserID && o.ReceiverID != *q.UserID {
			return false
		}
	} else {
		if q.Status != "" && o.Status != q.Status {
			return false
		}
		if q.DriverID != nil && !models.SameID(q.DriverID, o.DriverID) {
			return false
		}
		if q.SenderID != nil && o.SenderID != *q.SenderID {
			return false
		}
		if q.ReceiverID != nil && o.ReceiverID != *q.ReceiverID {
			return false
		}
	}
	if q.AssignmentType != "" && o.AssignmentType != q.AssignmentType {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.From != nil && o.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && o.CreatedAt.After(*q.To) {
		return false
	}
	return true
}

// ActiveStatuses are the statuses of orders that sit on a route.
var ActiveStatuses = []models.OrderStatus{
	models.StatusAssigned,
	models.StatusInTransit,
	models.StatusPicked,
	models.StatusDelivering,
}
