package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// VehicleHandler serves /api/vehicles.
type VehicleHandler struct {
	vehicles db.VehicleCollection
	logger   log.FieldLogger
}

// NewVehicleHandler creates a new vehicle handler.
func NewVehicleHandler(vehicles db.VehicleCollection, logger log.FieldLogger) *VehicleHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &VehicleHandler{vehicles: vehicles, logger: logger}
}

// List handles GET /api/vehicles.
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.vehicles.FindVehicles(r.Context())
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// Get handles GET /api/vehicles/{id}.
func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.vehicles.FindVehicleByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Create handles POST /api/vehicles. A vehicle posted with an id keeps it,
// so seeded drivers can share ids with their vehicles.
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if !readJSON(w, r, &v) {
		return
	}
	if v.Status == "" {
		v.Status = models.VehicleAvailable
	}
	if err := validateVehicle(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vehicle", err)
		return
	}
	created, err := h.vehicles.InsertVehicle(r.Context(), v)
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	h.logger.WithFields(log.Fields{"vehicle_id": created.ID, "license_plate": created.LicensePlate}).Info("Vehicle created")
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PATCH /api/vehicles/{id}.
func (h *VehicleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var raw json.RawMessage
	if !readJSON(w, r, &raw) {
		return
	}
	existing, err := h.vehicles.FindVehicleByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	updated := *existing
	if err := json.Unmarshal(raw, &updated); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	updated.ID = existing.ID
	if err := validateVehicle(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vehicle", err)
		return
	}
	if err := h.vehicles.ReplaceVehicle(r.Context(), updated); err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/vehicles/{id}.
func (h *VehicleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.vehicles.DeleteVehicle(r.Context(), id); err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Vehicle deleted"})
}

// BulkStatus handles PUT /api/vehicles/bulk-status.
func (h *VehicleHandler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	var req models.BulkIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	status := models.VehicleStatus(req.Status)
	if len(req.IDs) == 0 || !models.ValidVehicleStatus(status) {
		writeError(w, http.StatusBadRequest, "ids and a valid status are required", nil)
		return
	}
	res, err := h.vehicles.SetVehicleStatus(r.Context(), req.IDs, status)
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkDelete handles DELETE /api/vehicles/bulk-delete.
func (h *VehicleHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req models.BulkIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required", nil)
		return
	}
	n, err := h.vehicles.DeleteVehicles(r.Context(), req.IDs)
	if err != nil {
		storeError(w, r, h.logger, "Vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, models.BulkResult{Matched: n, Modified: n})
}

func validateVehicle(v *models.Vehicle) error {
	if strings.TrimSpace(v.LicensePlate) == "" {
		return fmt.Errorf("licensePlate is required")
	}
	if !models.ValidVehicleStatus(v.Status) {
		return fmt.Errorf("unknown status %q", v.Status)
	}
	if v.Capacity < 0 || v.MaxLoad < 0 || v.CurrentLoad < 0 {
		return fmt.Errorf("loads must not be negative")
	}
	return nil
}

// UserHandler serves /api/users.
type UserHandler struct {
	users  db.UserCollection
	logger log.FieldLogger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users db.UserCollection, logger log.FieldLogger) *UserHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &UserHandler{users: users, logger: logger}
}

// List handles GET /api/users[?role=].
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))
	if role != "" && !models.IsValidRole(role) {
		writeError(w, http.StatusBadRequest, "Invalid role", nil)
		return
	}
	users, err := h.users.FindUsers(r.Context(), role)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Get handles GET /api/users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.users.FindUserByID(r.Context(), id)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Create handles POST /api/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if !readJSON(w, r, &u) {
		return
	}
	if strings.TrimSpace(u.Username) == "" {
		writeError(w, http.StatusBadRequest, "Username is required", nil)
		return
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if !models.IsValidRole(u.Role) {
		writeError(w, http.StatusBadRequest, "Invalid role", nil)
		return
	}
	if u.Status != "" && !models.IsValidDriverStatus(u.Status) {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}
	if _, err := h.users.FindUserByUsername(r.Context(), u.Username); err == nil {
		writeError(w, http.StatusConflict, "Username already exists", nil)
		return
	}
	created, err := h.users.InsertUser(r.Context(), u)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	h.logger.WithFields(log.Fields{"user_id": created.ID, "role": created.Role}).Info("User created")
	writeJSON(w, http.StatusCreated, created)
}

// BulkStatus handles PUT /api/users/bulk-status.
func (h *UserHandler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	var req models.BulkIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	status := models.DriverStatus(req.Status)
	if len(req.IDs) == 0 || !models.IsValidDriverStatus(status) {
		writeError(w, http.StatusBadRequest, "ids and a valid status are required", nil)
		return
	}
	res, err := h.users.SetUserStatus(r.Context(), req.IDs, status)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkRole handles PUT /api/users/bulk-role.
func (h *UserHandler) BulkRole(w http.ResponseWriter, r *http.Request) {
	var req models.BulkIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 || !models.IsValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "ids and a valid role are required", nil)
		return
	}
	res, err := h.users.SetUserRole(r.Context(), req.IDs, req.Role)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkDelete handles DELETE /api/users/bulk-delete.
func (h *UserHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req models.BulkIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required", nil)
		return
	}
	n, err := h.users.DeleteUsers(r.Context(), req.IDs)
	if err != nil {
		storeError(w, r, h.logger, "User", err)
		return
	}
	writeJSON(w, http.StatusOK, models.BulkResult{Matched: n, Modified: n})
}
