package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// FetchRoutes fetches GET /api/routes and returns the decoded routes along
// with the exact response body, which is what the fleet cache stores.
func (c *Client) FetchRoutes(ctx context.Context) ([]models.Route, []byte, error) {
	raw, err := c.raw(ctx, http.MethodGet, "/api/routes", nil)
	if err != nil {
		return nil, nil, err
	}
	routes, err := DecodeRoutes(raw)
	if err != nil {
		return nil, nil, err
	}
	return routes, raw, nil
}

// DecodeRoutes accepts both {"routes": [...]} and a bare array.
func DecodeRoutes(raw []byte) ([]models.Route, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty routes body")
	}
	if trimmed[0] == '[' {
		var routes []models.Route
		if err := json.Unmarshal(trimmed, &routes); err != nil {
			return nil, fmt.Errorf("failed to decode routes: %w", err)
		}
		return routes, nil
	}
	var envelope models.RoutesResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}
	return envelope.Routes, nil
}

// FetchRoute fetches the active route of one vehicle. A vehicle without a
// route yields an error matching ErrNotFound.
func (c *Client) FetchRoute(ctx context.Context, vehicleID int64) (*models.Route, error) {
	var res models.RouteResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/routes/%d", vehicleID), nil, &res); err != nil {
		return nil, err
	}
	if res.Route == nil {
		return nil, &StatusError{Code: http.StatusNotFound, Body: res.Message}
	}
	return res.Route, nil
}

// Optimize runs a full-fleet optimization. Only the explicit auto-assign-all
// action uses it.
func (c *Client) Optimize(ctx context.Context, req models.OptimizeRequest) (*models.OptimizeResponse, error) {
	var res models.OptimizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecalculateDrivers recomputes the routes of exactly driverIDs.
func (c *Client) RecalculateDrivers(ctx context.Context, driverIDs []int64) (*models.RecalculateResponse, error) {
	var res models.RecalculateResponse
	req := models.RecalculateRequest{DriverIDs: driverIDs}
	if err := c.do(ctx, http.MethodPost, "/api/optimize/recalculate-drivers", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ClearAuto deletes the optimizer-generated routes.
func (c *Client) ClearAuto(ctx context.Context) (*models.ClearResponse, error) {
	var res models.ClearResponse
	if err := c.do(ctx, http.MethodDelete, "/api/optimize/clear-auto", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
