package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ListVehicles fetches every vehicle.
func (c *Client) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	if err := c.do(ctx, http.MethodGet, "/api/vehicles", nil, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// CreateVehicle registers a vehicle.
func (c *Client) CreateVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	var created models.Vehicle
	if err := c.do(ctx, http.MethodPost, "/api/vehicles", v, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateVehicle patches a vehicle with the given fields.
func (c *Client) UpdateVehicle(ctx context.Context, id int64, fields map[string]interface{}) (*models.Vehicle, error) {
	var updated models.Vehicle
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/vehicles/%d", id), fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteVehicle removes a vehicle.
func (c *Client) DeleteVehicle(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/vehicles/%d", id), nil, nil)
}

// BulkVehicleStatus sets the status of many vehicles.
func (c *Client) BulkVehicleStatus(ctx context.Context, ids []int64, status models.VehicleStatus) (*models.BulkResult, error) {
	var res models.BulkResult
	req := models.BulkIDsRequest{IDs: ids, Status: string(status)}
	if err := c.do(ctx, http.MethodPut, "/api/vehicles/bulk-status", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkDeleteVehicles deletes many vehicles.
func (c *Client) BulkDeleteVehicles(ctx context.Context, ids []int64) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodDelete, "/api/vehicles/bulk-delete", models.BulkIDsRequest{IDs: ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListUsers fetches users, optionally only those with role.
func (c *Client) ListUsers(ctx context.Context, role models.Role) ([]models.User, error) {
	path := "/api/users"
	if role != "" {
		path += "?role=" + string(role)
	}
	var users []models.User
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser registers a user.
func (c *Client) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	var created models.User
	if err := c.do(ctx, http.MethodPost, "/api/users", u, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// BulkUserStatus sets the driver status of many users.
func (c *Client) BulkUserStatus(ctx context.Context, ids []int64, status models.DriverStatus) (*models.BulkResult, error) {
	var res models.BulkResult
	req := models.BulkIDsRequest{IDs: ids, Status: string(status)}
	if err := c.do(ctx, http.MethodPut, "/api/users/bulk-status", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkUserRole sets the role of many users.
func (c *Client) BulkUserRole(ctx context.Context, ids []int64, role models.Role) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodPut, "/api/users/bulk-role", models.BulkIDsRequest{IDs: ids, Role: role}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkDeleteUsers deletes many users.
func (c *Client) BulkDeleteUsers(ctx context.Context, ids []int64) (*models.BulkResult, error) {
	var res models.BulkResult
	if err := c.do(ctx, http.MethodDelete, "/api/users/bulk-delete", models.BulkIDsRequest{IDs: ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
