package models

import (
	"encoding/json"
	"time"
)

// OrderStatus is the lifecycle state of a delivery order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusApproved   OrderStatus = "approved"
	StatusAssigned   OrderStatus = "assigned"
	StatusInTransit  OrderStatus = "in_transit"
	StatusPicked     OrderStatus = "picked"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusApproved, StatusCancelled},
	StatusApproved:   {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInTransit, StatusCancelled},
	StatusInTransit:  {StatusPicked, StatusCancelled},
	StatusPicked:     {StatusDelivering, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusCancelled},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// Valid checks if the status is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Reverts reports whether moving an order to s takes it off its driver.
func (s OrderStatus) Reverts() bool {
	return s == StatusPending || s == StatusApproved
}

// RequiresDriver reports whether an order in status s normally has a driver.
func (s OrderStatus) RequiresDriver() bool {
	switch s {
	case StatusAssigned, StatusInTransit, StatusPicked, StatusDelivering, StatusDelivered:
		return true
	default:
		return false
	}
}

// Active reports whether an order in status s belongs on its driver's route.
func (s OrderStatus) Active() bool {
	return s.RequiresDriver() && s != StatusDelivered
}

// Closed reports whether the order left the workflow.
func (s OrderStatus) Closed() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition checks the driver-facing lifecycle: pending → approved →
// assigned → in_transit → picked → delivering → delivered, with
// cancellation allowed from any open state.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AssignmentType records who linked an order to its driver. The zero value
// means no assignment and is encoded as JSON null.
type AssignmentType string

const (
	AssignmentNone   AssignmentType = ""
	AssignmentManual AssignmentType = "manual"
	AssignmentAuto   AssignmentType = "auto"
)

func (a AssignmentType) MarshalJSON() ([]byte, error) {
	if a == AssignmentNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

func (a *AssignmentType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = AssignmentNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = AssignmentType(s)
	return nil
}

// Order is a pickup-and-delivery job.
type Order struct {
	ID              int64          `json:"id" bson:"id"`
	SenderID        int64          `json:"senderId" bson:"senderId"`
	ReceiverID      int64          `json:"receiverId" bson:"receiverId"`
	Pickup          Point          `json:"pickup" bson:"pickup"`
	Delivery        Point          `json:"delivery" bson:"delivery"`
	PickupAddress   string         `json:"pickupAddress" bson:"pickupAddress"`
	DeliveryAddress string         `json:"deliveryAddress" bson:"deliveryAddress"`
	Weight          float64        `json:"weight" bson:"weight"` // kg
	Status          OrderStatus    `json:"status" bson:"status"`
	DriverID        *int64         `json:"driverId" bson:"driverId"`
	AssignmentType  AssignmentType `json:"assignmentType" bson:"assignmentType"`
	Notes           string         `json:"notes,omitempty" bson:"notes,omitempty"`
	CancelReason    string         `json:"cancelReason,omitempty" bson:"cancelReason,omitempty"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty" bson:"approvedAt,omitempty"`
	AssignedAt      *time.Time     `json:"assignedAt,omitempty" bson:"assignedAt,omitempty"`
	StartedAt       *time.Time     `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	PickupTime      *time.Time     `json:"pickupTime,omitempty" bson:"pickupTime,omitempty"`
	DeliveryTime    *time.Time     `json:"deliveryTime,omitempty" bson:"deliveryTime,omitempty"`
	CancelledAt     *time.Time     `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// HasDriver reports whether the order is linked to a driver.
func (o *Order) HasDriver() bool {
	return o.DriverID != nil
}

// Driver returns the driver id, or 0 when unassigned.
func (o *Order) Driver() int64 {
	if o.DriverID == nil {
		return 0
	}
	return *o.DriverID
}

// Unassign drops the driver link and its assignment type.
func (o *Order) Unassign() {
	o.DriverID = nil
	o.AssignmentType = AssignmentNone
	o.AssignedAt = nil
}

// Assign links the order to a driver.
func (o *Order) Assign(driverID int64, kind AssignmentType, at time.Time) {
	o.DriverID = IDPtr(driverID)
	o.AssignmentType = kind
	o.AssignedAt = &at
	if !o.Status.RequiresDriver() {
		o.Status = StatusAssigned
	}
}

// SetStatus moves the order to status and stamps the matching timestamp.
// Reverting to pending or approved also unassigns the driver.
func (o *Order) SetStatus(status OrderStatus, at time.Time) {
	o.Status = status
	switch status {
	case StatusPending:
		o.Unassign()
	case StatusApproved:
		o.Unassign()
		o.ApprovedAt = &at
	case StatusAssigned:
		if o.AssignedAt == nil {
			o.AssignedAt = &at
		}
	case StatusInTransit:
		o.StartedAt = &at
	case StatusPicked:
		o.PickupTime = &at
	case StatusDelivered:
		o.DeliveryTime = &at
	case StatusCancelled:
		o.CancelledAt = &at
	}
	o.UpdatedAt = at
}

// Clone returns a copy of o that shares no pointers with it.
func (o Order) Clone() Order {
	if o.DriverID != nil {
		o.DriverID = IDPtr(*o.DriverID)
	}
	for _, t := range []**time.Time{&o.ApprovedAt, &o.AssignedAt, &o.StartedAt, &o.PickupTime, &o.DeliveryTime, &o.CancelledAt} {
		if *t != nil {
			v := **t
			*t = &v
		}
	}
	return o
}

// IDPtr returns a pointer to a copy of id.
func IDPtr(id int64) *int64 {
	return &id
}

// SameID compares two nullable ids.
func SameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
