package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// OrderQuery encodes f as GET /api/orders query parameters.
func OrderQuery(f models.OrderFilter) url.Values {
	q := url.Values{}
	set := func(key string, v *int64) {
		if v != nil {
			q.Set(key, strconv.FormatInt(*v, 10))
		}
	}
	set("userId", f.UserID)
	set("driverId", f.DriverID)
	set("senderId", f.SenderID)
	set("receiverId", f.ReceiverID)
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.AssignmentType != models.AssignmentNone {
		q.Set("assignmentType", string(f.AssignmentType))
	}
	return q
}

// ListOrders fetches orders matching f.
func (c *Client) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	path := "/api/orders"
	if q := OrderQuery(f).Encode(); q != "" {
		path += "?" + q
	}
	var orders []models.Order
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder posts a new order. The server assigns the id.
func (c *Client) CreateOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	var created models.Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", o, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateOrder patches an order from the edit form.
func (c *Client) UpdateOrder(ctx context.Context, id int64, u models.OrderUpdate) (*models.Order, error) {
	var updated models.Order
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/orders/%d", id), u, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateOrderStatus moves an order along its lifecycle.
func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, u models.StatusUpdate) (*models.Order, error) {
	var updated models.Order
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", id), u, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteOrder removes an order.
func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/orders/%d", id), nil, nil)
}

// BulkAssign assigns orders to one driver.
func (c *Client) BulkAssign(ctx context.Context, req models.BulkAssignRequest) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/orders/bulk-assign", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkStatus changes the status of many orders.
func (c *Client) BulkStatus(ctx context.Context, req models.BulkStatusRequest) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodPut, "/api/orders/bulk-status", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkDeleteOrders deletes many orders.
func (c *Client) BulkDeleteOrders(ctx context.Context, ids []int64) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodDelete, "/api/orders/bulk-delete", models.BulkDeleteRequest{IDs: ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// OrderStats fetches order counts per status and driver.
func (c *Client) OrderStats(ctx context.Context) (*models.OrderStats, error) {
	var stats models.OrderStats
	if err := c.do(ctx, http.MethodGet, "/api/orders/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// AssignOrder manually assigns one order to a driver.
func (c *Client) AssignOrder(ctx context.Context, id, driverID int64) (*models.Order, error) {
	var updated models.Order
	req := models.AssignRequest{DriverID: driverID}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/orders/%d/assign", id), req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelOrder cancels one order with an optional reason.
func (c *Client) CancelOrder(ctx context.Context, id int64, reason string) (*models.Order, error) {
	var updated models.Order
	req := models.CancelRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/orders/%d/cancel", id), req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
