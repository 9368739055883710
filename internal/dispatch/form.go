package dispatch

import (
	"errors"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ErrDriverRequired rejects a form that clears the driver of an order whose
// status needs one.
var ErrDriverRequired = errors.New("status requires a driver")

// OrderForm is what an operator submits when creating or editing an order.
type OrderForm struct {
	SenderID        int64
	ReceiverID      int64
	Weight          float64
	Status          models.OrderStatus
	DriverID        *int64
	Notes           string
	Pickup          *models.Point
	Delivery        *models.Point
	PickupAddress   string
	DeliveryAddress string
}

// Normalize turns a form into the order fields to write. before is nil when
// creating.
//
// A status moved to pending or approved drops the driver and assignment
// type. Otherwise a driver picked by a human (on create, on a driver change,
// or on any edit of a non-auto order) is a manual assignment and lifts a
// pending or approved order to assigned; an auto order saved with the same
// driver stays auto.
func Normalize(before *models.Order, form OrderForm) (models.OrderUpdate, error) {
	u := models.OrderUpdate{
		SenderID:   form.SenderID,
		ReceiverID: form.ReceiverID,
		Weight:     form.Weight,
		Status:     form.Status,
		Notes:      form.Notes,
	}
	if u.Status == "" {
		u.Status = models.StatusPending
		if before != nil {
			u.Status = before.Status
		}
	}
	if !u.Status.Valid() {
		return u, errors.New("invalid status " + string(u.Status))
	}

	reverted := before != nil && u.Status.Reverts() && u.Status != before.Status
	switch {
	case reverted:
		u.DriverID = nil
		u.AssignmentType = models.AssignmentNone

	case form.DriverID != nil:
		u.DriverID = models.IDPtr(*form.DriverID)
		u.AssignmentType = models.AssignmentManual
		if before != nil && before.AssignmentType == models.AssignmentAuto && models.SameID(before.DriverID, form.DriverID) {
			u.AssignmentType = models.AssignmentAuto
		}
		if u.Status.Reverts() {
			u.Status = models.StatusAssigned
		}

	default:
		if u.Status.RequiresDriver() {
			return u, ErrDriverRequired
		}
		u.DriverID = nil
		u.AssignmentType = models.AssignmentNone
	}
	return u, nil
}

// newOrder builds the body of a create request.
func newOrder(u models.OrderUpdate, form OrderForm) models.Order {
	o := models.Order{
		SenderID:        u.SenderID,
		ReceiverID:      u.ReceiverID,
		Weight:          u.Weight,
		Status:          u.Status,
		DriverID:        u.DriverID,
		AssignmentType:  u.AssignmentType,
		Notes:           u.Notes,
		PickupAddress:   form.PickupAddress,
		DeliveryAddress: form.DeliveryAddress,
	}
	if form.Pickup != nil {
		o.Pickup = *form.Pickup
	}
	if form.Delivery != nil {
		o.Delivery = *form.Delivery
	}
	return o
}
