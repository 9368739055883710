package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	errDriverRequired = errors.New("an order in this status must keep its driver")
	errOrderClosed    = errors.New("order is delivered or cancelled")
)

// OrderHandler serves /api/orders. It enforces the order invariants but
// never touches routes; clients ask for a recalculation afterwards.
type OrderHandler struct {
	orders   db.OrderCollection
	vehicles db.VehicleCollection
	logger   log.FieldLogger
	now      func() time.Time
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(orders db.OrderCollection, vehicles db.VehicleCollection, logger log.FieldLogger) *OrderHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &OrderHandler{orders: orders, vehicles: vehicles, logger: logger, now: time.Now}
}

// List handles GET /api/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := orderQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	orders, err := h.orders.FindOrders(r.Context(), q)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func orderQuery(r *http.Request) (db.OrderQuery, error) {
	var q db.OrderQuery
	var err error
	ids := []struct {
		name string
		dst  **int64
	}{
		{"userId", &q.UserID},
		{"driverId", &q.DriverID},
		{"senderId", &q.SenderID},
		{"receiverId", &q.ReceiverID},
	}
	for _, id := range ids {
		if *id.dst, err = queryID(r, id.name); err != nil {
			return q, err
		}
	}
	if q.UserID == nil {
		if q.UserID, err = queryID(r, "customerId"); err != nil {
			return q, err
		}
	}
	if s := models.OrderStatus(r.URL.Query().Get("status")); s != "" {
		if !s.Valid() {
			return q, fmt.Errorf("unknown status %q", s)
		}
		q.Status = s
	}
	switch a := models.AssignmentType(r.URL.Query().Get("assignmentType")); a {
	case models.AssignmentNone, models.AssignmentManual, models.AssignmentAuto:
		q.AssignmentType = a
	default:
		return q, fmt.Errorf("unknown assignment type %q", a)
	}
	q.From, q.To, err = dateRange(r)
	return q, err
}

// Get handles GET /api/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.FindOrderByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var order models.Order
	if !readJSON(w, r, &order) {
		return
	}
	now := h.now()
	order.ID = 0
	if order.Status == "" {
		order.Status = models.StatusPending
	}
	if err := validateOrder(&order); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order", err)
		return
	}
	if order.HasDriver() {
		if !h.driverExists(w, r, order.Driver()) {
			return
		}
		if order.AssignmentType == models.AssignmentNone {
			order.AssignmentType = models.AssignmentManual
		}
		order.Assign(order.Driver(), order.AssignmentType, now)
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	created, err := h.orders.InsertOrder(r.Context(), order)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	h.logger.WithFields(log.Fields{"order_id": created.ID, "driver_id": created.Driver()}).Info("Order created")
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PATCH /api/orders/{id}. Fields present in the body
// replace the stored ones.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var raw json.RawMessage
	if !readJSON(w, r, &raw) {
		return
	}
	existing, err := h.orders.FindOrderByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}

	updated := existing.Clone()
	if err := json.Unmarshal(raw, &updated); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt

	now := h.now()
	if updated.Status != existing.Status && updated.Status.Valid() {
		updated.SetStatus(updated.Status, now)
	}
	if updated.HasDriver() && updated.Status.Reverts() {
		updated.Status = models.StatusAssigned
	}
	if err := validateOrder(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order", err)
		return
	}
	switch {
	case !updated.HasDriver():
		updated.Unassign()
	case !models.SameID(updated.DriverID, existing.DriverID):
		if !h.driverExists(w, r, updated.Driver()) {
			return
		}
		updated.AssignmentType = models.AssignmentManual
		updated.AssignedAt = &now
	case updated.AssignmentType == models.AssignmentNone:
		updated.AssignmentType = models.AssignmentManual
	}
	updated.UpdatedAt = now

	if err := h.orders.ReplaceOrder(r.Context(), updated); err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	h.logger.WithFields(log.Fields{
		"order_id":    id,
		"from_driver": existing.Driver(),
		"to_driver":   updated.Driver(),
		"status":      updated.Status,
	}).Info("Order updated")
	writeJSON(w, http.StatusOK, updated)
}

// UpdateStatus handles PATCH /api/orders/{id}/status along the lifecycle.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.StatusUpdate
	if !readJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", req.Status))
		return
	}
	order, err := h.orders.FindOrderByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	if !models.CanTransition(order.Status, req.Status) {
		writeError(w, http.StatusBadRequest, "Invalid status transition",
			fmt.Errorf("cannot change status from %s to %s", order.Status, req.Status))
		return
	}
	if req.Status.RequiresDriver() && !order.HasDriver() {
		writeError(w, http.StatusBadRequest, "Invalid status transition", errDriverRequired)
		return
	}
	order.SetStatus(req.Status, h.now())
	if req.Status == models.StatusCancelled {
		order.CancelReason = req.Reason
	}
	if err := h.orders.ReplaceOrder(r.Context(), *order); err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	h.logger.WithFields(log.Fields{"order_id": id, "status": order.Status}).Info("Order status changed")
	writeJSON(w, http.StatusOK, order)
}

// Assign handles PATCH /api/orders/{id}/assign. The driver is picked by a
// person, so the assignment is manual.
func (h *OrderHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.AssignRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.DriverID <= 0 {
		writeError(w, http.StatusBadRequest, "driverId is required", nil)
		return
	}
	order, err := h.orders.FindOrderByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	if order.Status.Closed() {
		writeError(w, http.StatusBadRequest, "Cannot assign order", errOrderClosed)
		return
	}
	if !h.driverExists(w, r, req.DriverID) {
		return
	}
	now := h.now()
	order.Assign(req.DriverID, models.AssignmentManual, now)
	order.UpdatedAt = now
	if err := h.orders.ReplaceOrder(r.Context(), *order); err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Cancel handles PATCH /api/orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CancelRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	order, err := h.orders.FindOrderByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	if !models.CanTransition(order.Status, models.StatusCancelled) {
		writeError(w, http.StatusBadRequest, "Cannot cancel order", errOrderClosed)
		return
	}
	order.SetStatus(models.StatusCancelled, h.now())
	order.CancelReason = req.Reason
	if err := h.orders.ReplaceOrder(r.Context(), *order); err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Delete handles DELETE /api/orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(r.Context(), id); err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	h.logger.WithField("order_id", id).Info("Order deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order deleted"})
}

// BulkAssign handles POST /api/orders/bulk-assign. Closed orders are
// matched but left alone.
func (h *OrderHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var req models.BulkAssignRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.OrderIDs) == 0 || req.DriverID <= 0 {
		writeError(w, http.StatusBadRequest, "orderIds and driverId are required", nil)
		return
	}
	if !h.driverExists(w, r, req.DriverID) {
		return
	}
	orders, err := h.orders.FindOrdersByIDs(r.Context(), req.OrderIDs)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	now := h.now()
	res := models.BulkResult{Matched: int64(len(orders))}
	for _, o := range orders {
		if o.Status.Closed() {
			continue
		}
		o.Assign(req.DriverID, models.AssignmentManual, now)
		o.UpdatedAt = now
		if err := h.orders.ReplaceOrder(r.Context(), o); err != nil {
			storeError(w, r, h.logger, "Order", err)
			return
		}
		res.Modified++
	}
	h.logger.WithFields(log.Fields{"driver_id": req.DriverID, "modified": res.Modified}).Info("Orders bulk assigned")
	writeJSON(w, http.StatusOK, res)
}

// BulkStatus handles PUT /api/orders/bulk-status. Orders that would end
// up in a driver-requiring status without a driver are skipped.
func (h *OrderHandler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	var req models.BulkStatusRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.OrderIDs) == 0 || !req.NewStatus.Valid() {
		writeError(w, http.StatusBadRequest, "orderIds and a valid newStatus are required", nil)
		return
	}
	orders, err := h.orders.FindOrdersByIDs(r.Context(), req.OrderIDs)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	now := h.now()
	res := models.BulkResult{Matched: int64(len(orders))}
	for _, o := range orders {
		o.SetStatus(req.NewStatus, now)
		if req.UnassignDriver {
			o.Unassign()
		}
		if o.Status.RequiresDriver() && !o.HasDriver() {
			h.logger.WithField("order_id", o.ID).Warn("Skipping order without driver")
			continue
		}
		if err := h.orders.ReplaceOrder(r.Context(), o); err != nil {
			storeError(w, r, h.logger, "Order", err)
			return
		}
		res.Modified++
	}
	h.logger.WithFields(log.Fields{"status": req.NewStatus, "modified": res.Modified}).Info("Orders bulk status changed")
	writeJSON(w, http.StatusOK, res)
}

// BulkDelete handles DELETE /api/orders/bulk-delete.
func (h *OrderHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req models.BulkDeleteRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "orderIds is required", nil)
		return
	}
	n, err := h.orders.DeleteOrders(r.Context(), req.IDs)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	writeJSON(w, http.StatusOK, models.BulkResult{Matched: n, Modified: n})
}

// Stats handles GET /api/orders/stats.
func (h *OrderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	stats, err := h.orders.OrderStats(r.Context(), from, to)
	if err != nil {
		storeError(w, r, h.logger, "Order", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) driverExists(w http.ResponseWriter, r *http.Request, driverID int64) bool {
	if _, err := h.vehicles.FindVehicleByID(r.Context(), driverID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Unknown driver", fmt.Errorf("vehicle %d does not exist", driverID))
			return false
		}
		storeError(w, r, h.logger, "Vehicle", err)
		return false
	}
	return true
}

func validateOrder(o *models.Order) error {
	if !o.Status.Valid() {
		return fmt.Errorf("unknown status %q", o.Status)
	}
	switch o.AssignmentType {
	case models.AssignmentNone, models.AssignmentManual, models.AssignmentAuto:
	default:
		return fmt.Errorf("unknown assignment type %q", o.AssignmentType)
	}
	if !o.Pickup.Valid() || !o.Delivery.Valid() {
		return fmt.Errorf("pickup and delivery must be valid coordinates")
	}
	if o.Weight < 0 {
		return fmt.Errorf("weight must not be negative")
	}
	if o.Status.RequiresDriver() && !o.HasDriver() {
		return errDriverRequired
	}
	return nil
}
