package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/db"
)

// Deps are the collaborators of the API.
type Deps struct {
	Store      *db.Store
	Recomputer Recomputer
	// Routes streams route events at /ws/routes when set.
	Routes http.Handler
	Logger log.FieldLogger
}

// NewRouter registers every fleetd endpoint on a new mux.
func NewRouter(d Deps) *http.ServeMux {
	orders := NewOrderHandler(d.Store.Orders, d.Store.Vehicles, d.Logger)
	vehicles := NewVehicleHandler(d.Store.Vehicles, d.Logger)
	users := NewUserHandler(d.Store.Users, d.Logger)
	routes := NewRouteHandler(d.Store.Routes, d.Recomputer, d.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/orders", orders.List)
	mux.HandleFunc("POST /api/orders", orders.Create)
	mux.HandleFunc("GET /api/orders/stats", orders.Stats)
	mux.HandleFunc("POST /api/orders/bulk-assign", orders.BulkAssign)
	mux.HandleFunc("PUT /api/orders/bulk-status", orders.BulkStatus)
	mux.HandleFunc("DELETE /api/orders/bulk-delete", orders.BulkDelete)
	mux.HandleFunc("GET /api/orders/{id}", orders.Get)
	mux.HandleFunc("PATCH /api/orders/{id}", orders.Update)
	mux.HandleFunc("DELETE /api/orders/{id}", orders.Delete)
	mux.HandleFunc("PATCH /api/orders/{id}/status", orders.UpdateStatus)
	mux.HandleFunc("PATCH /api/orders/{id}/assign", orders.Assign)
	mux.HandleFunc("PATCH /api/orders/{id}/cancel", orders.Cancel)

	mux.HandleFunc("GET /api/vehicles", vehicles.List)
	mux.HandleFunc("POST /api/vehicles", vehicles.Create)
	mux.HandleFunc("PUT /api/vehicles/bulk-status", vehicles.BulkStatus)
	mux.HandleFunc("DELETE /api/vehicles/bulk-delete", vehicles.BulkDelete)
	mux.HandleFunc("GET /api/vehicles/{id}", vehicles.Get)
	mux.HandleFunc("PATCH /api/vehicles/{id}", vehicles.Update)
	mux.HandleFunc("DELETE /api/vehicles/{id}", vehicles.Delete)

	mux.HandleFunc("GET /api/users", users.List)
	mux.HandleFunc("POST /api/users", users.Create)
	mux.HandleFunc("PUT /api/users/bulk-status", users.BulkStatus)
	mux.HandleFunc("PUT /api/users/bulk-role", users.BulkRole)
	mux.HandleFunc("DELETE /api/users/bulk-delete", users.BulkDelete)
	mux.HandleFunc("GET /api/users/{id}", users.Get)

	mux.HandleFunc("GET /api/routes", routes.List)
	mux.HandleFunc("GET /api/routes/{vehicleId}", routes.Get)
	mux.HandleFunc("POST /api/optimize", routes.Optimize)
	mux.HandleFunc("POST /api/optimize/recalculate-drivers", routes.RecalculateDrivers)
	mux.HandleFunc("DELETE /api/optimize/clear-auto", routes.ClearAuto)

	if d.Routes != nil {
		mux.Handle("GET /ws/routes", d.Routes)
	}
	return mux
}
