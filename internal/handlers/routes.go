package handlers

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/recompute"
)

// Recomputer rebuilds routes. *recompute.Service implements it.
type Recomputer interface {
	RecalculateDrivers(ctx context.Context, ids []int64) (*models.RecalculateResponse, error)
	OptimizeAll(ctx context.Context, req models.OptimizeRequest) (*models.OptimizeResponse, error)
	ClearAuto(ctx context.Context) (*models.ClearResponse, error)
}

// RouteHandler serves /api/routes and /api/optimize.
type RouteHandler struct {
	routes db.RouteCollection
	svc    Recomputer
	logger log.FieldLogger
}

// NewRouteHandler creates a new route handler.
func NewRouteHandler(routes db.RouteCollection, svc Recomputer, logger log.FieldLogger) *RouteHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RouteHandler{routes: routes, svc: svc, logger: logger}
}

// List handles GET /api/routes.
func (h *RouteHandler) List(w http.ResponseWriter, r *http.Request) {
	routes, err := h.routes.FindActiveRoutes(r.Context())
	if err != nil {
		storeError(w, r, h.logger, "Route", err)
		return
	}
	if routes == nil {
		routes = []models.Route{}
	}
	writeJSON(w, http.StatusOK, models.RoutesResponse{Success: true, Routes: routes})
}

// Get handles GET /api/routes/{vehicleId}.
func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "vehicleId")
	if !ok {
		return
	}
	route, err := h.routes.FindRoute(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, models.RouteResponse{Message: "No active route found for this vehicle"})
		return
	}
	if err != nil {
		storeError(w, r, h.logger, "Route", err)
		return
	}
	writeJSON(w, http.StatusOK, models.RouteResponse{Success: true, Route: route})
}

// Optimize handles POST /api/optimize.
func (h *RouteHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req models.OptimizeRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := h.svc.OptimizeAll(r.Context(), req)
	switch {
	case errors.Is(err, recompute.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Invalid optimization request", err)
	case err != nil:
		h.logger.WithError(err).Error("Optimization failed")
		writeError(w, http.StatusInternalServerError, "Optimization failed", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// RecalculateDrivers handles POST /api/optimize/recalculate-drivers.
func (h *RouteHandler) RecalculateDrivers(w http.ResponseWriter, r *http.Request) {
	var req models.RecalculateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.DriverIDs) == 0 {
		writeError(w, http.StatusBadRequest, "driverIds must be a non-empty array", nil)
		return
	}
	res, err := h.svc.RecalculateDrivers(r.Context(), req.DriverIDs)
	switch {
	case errors.Is(err, recompute.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Invalid recalculation request", err)
	case err != nil:
		h.logger.WithError(err).WithField("driver_ids", req.DriverIDs).Error("Recalculation failed")
		writeError(w, http.StatusInternalServerError, "Recalculation failed", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// ClearAuto handles DELETE /api/optimize/clear-auto.
func (h *RouteHandler) ClearAuto(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ClearAuto(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Clearing automatic routes failed")
		writeError(w, http.StatusInternalServerError, "Failed to clear routes", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
