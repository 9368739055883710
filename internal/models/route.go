package models

import "time"

// StopType distinguishes the kinds of stop on a route.
type StopType string

const (
	StopDepot    StopType = "depot"
	StopPickup   StopType = "pickup"
	StopDelivery StopType = "delivery"
)

// Stop is one visit on a route.
type Stop struct {
	Type        StopType `json:"type" bson:"type"`
	OrderID     int64    `json:"orderId,omitempty" bson:"orderId,omitempty"`
	Point       Point    `json:"point" bson:"point"`
	Weight      float64  `json:"weight,omitempty" bson:"weight,omitempty"`
	Address     string   `json:"address,omitempty" bson:"address,omitempty"`
	ArrivalTime float64  `json:"arrivalTime,omitempty" bson:"arrivalTime,omitempty"` // minutes from departure
}

// Route is the computed plan for one vehicle. Routes are produced by the
// backend and never authored by clients.
type Route struct {
	VehicleID       int64     `json:"vehicleId" bson:"vehicleId"`
	Stops           []Stop    `json:"stops" bson:"stops"`
	AssignedOrders  []int64   `json:"assignedOrders" bson:"assignedOrders"`
	Distance        float64   `json:"distance" bson:"distance"` // km
	Duration        float64   `json:"duration" bson:"duration"` // minutes
	TotalWeight     float64   `json:"totalWeight" bson:"totalWeight"`
	Path            []Point   `json:"path" bson:"path"`
	VehiclePosition Point     `json:"vehiclePosition" bson:"vehiclePosition"`
	Status          string    `json:"status" bson:"status"`
	IsActive        bool      `json:"isActive" bson:"isActive"`
	Version         int64     `json:"version" bson:"version"`
	LastUpdated     time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// RouteStatusActive marks a route the dashboards should display.
const RouteStatusActive = "active"

// HasOrder reports whether orderID is assigned to the route.
func (r *Route) HasOrder(orderID int64) bool {
	for _, id := range r.AssignedOrders {
		if id == orderID {
			return true
		}
	}
	return false
}
