package models

// OrderFilter selects orders on GET /api/orders. UserID (alias CustomerID)
// matches either sender or receiver and takes precedence over the other
// party filters.
type OrderFilter struct {
	UserID         *int64
	DriverID       *int64
	SenderID       *int64
	ReceiverID     *int64
	Status         OrderStatus
	AssignmentType AssignmentType
}

// OrderUpdate is the body of PATCH /api/orders/:id. DriverID and
// AssignmentType are always sent so that null clears them.
type OrderUpdate struct {
	SenderID       int64          `json:"senderId"`
	ReceiverID     int64          `json:"receiverId"`
	Weight         float64        `json:"weight"`
	Status         OrderStatus    `json:"status"`
	DriverID       *int64         `json:"driverId"`
	AssignmentType AssignmentType `json:"assignmentType"`
	Notes          string         `json:"notes"`
}

// StatusUpdate is the body of PATCH /api/orders/:id/status.
type StatusUpdate struct {
	Status OrderStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// AssignRequest is the body of PATCH /api/orders/:id/assign.
type AssignRequest struct {
	DriverID int64 `json:"driverId"`
}

// CancelRequest is the body of PATCH /api/orders/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BulkAssignRequest is the body of POST /api/orders/bulk-assign.
type BulkAssignRequest struct {
	OrderIDs []int64 `json:"orderIds"`
	DriverID int64   `json:"driverId"`
}

// BulkStatusRequest is the body of PUT /api/orders/bulk-status.
type BulkStatusRequest struct {
	OrderIDs       []int64     `json:"orderIds"`
	NewStatus      OrderStatus `json:"newStatus"`
	UnassignDriver bool        `json:"unassignDriver"`
}

// BulkDeleteRequest is the body of the bulk-delete endpoints.
type BulkDeleteRequest struct {
	IDs []int64 `json:"orderIds,omitempty"`
}

// BulkIDsRequest is the body of vehicle and user bulk endpoints.
type BulkIDsRequest struct {
	IDs    []int64 `json:"ids"`
	Status string  `json:"status,omitempty"`
	Role   Role    `json:"role,omitempty"`
}

// BulkResult reports how many documents a bulk endpoint touched.
type BulkResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}

// OptimizeVehicle is a vehicle as sent to the full-fleet optimizer.
type OptimizeVehicle struct {
	ID       int64   `json:"id"`
	MaxLoad  float64 `json:"maxLoad"`
	Position Point   `json:"position"`
}

// OptimizeOrder is an order as sent to the full-fleet optimizer.
type OptimizeOrder struct {
	ID              int64   `json:"id"`
	Weight          float64 `json:"weight"`
	Pickup          Point   `json:"pickup"`
	Delivery        Point   `json:"delivery"`
	PickupAddress   string  `json:"pickupAddress,omitempty"`
	DeliveryAddress string  `json:"deliveryAddress,omitempty"`
}

// OptimizeRequest is the body of POST /api/optimize.
type OptimizeRequest struct {
	Vehicles []OptimizeVehicle `json:"vehicles"`
	Orders   []OptimizeOrder   `json:"orders"`
}

// OptimizeStats summarises a full-fleet optimization.
type OptimizeStats struct {
	Makespan           float64 `json:"makespan"`
	TotalOrders        int     `json:"totalOrders"`
	AssignedOrders     int     `json:"assignedOrders"`
	TotalVehicles      int     `json:"totalVehicles"`
	VehiclesWithRoutes int     `json:"vehiclesWithRoutes"`
	UpdatedOrders      int64   `json:"updatedOrders"`
}

// OptimizeResponse is returned by POST /api/optimize.
type OptimizeResponse struct {
	Routes []Route       `json:"routes"`
	Stats  OptimizeStats `json:"stats"`
	Errors []string      `json:"errors,omitempty"`
}

// RecalculateRequest is the body of POST /api/optimize/recalculate-drivers.
type RecalculateRequest struct {
	DriverIDs []int64 `json:"driverIds"`
}

// RecalculateResponse is returned by POST /api/optimize/recalculate-drivers.
type RecalculateResponse struct {
	Success      bool    `json:"success"`
	Recalculated int     `json:"recalculated"`
	Removed      []int64 `json:"removed,omitempty"`
	Routes       []Route `json:"routes"`
}

// ClearResponse is returned by DELETE /api/optimize/clear-auto.
type ClearResponse struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

// RoutesResponse is the envelope of GET /api/routes.
type RoutesResponse struct {
	Success bool    `json:"success"`
	Routes  []Route `json:"routes"`
}

// RouteResponse is the envelope of GET /api/routes/:vehicleId.
type RouteResponse struct {
	Success bool   `json:"success"`
	Route   *Route `json:"route,omitempty"`
	Message string `json:"message,omitempty"`
}

// OrderStats is returned by GET /api/orders/stats.
type OrderStats struct {
	Total    int64                 `json:"total"`
	ByStatus map[OrderStatus]int64 `json:"byStatus"`
	ByDriver []DriverLoad          `json:"byDriver"`
}

// DriverLoad aggregates orders per driver.
type DriverLoad struct {
	DriverID    int64   `json:"driverId" bson:"_id"`
	OrderCount  int64   `json:"orderCount" bson:"orderCount"`
	TotalWeight float64 `json:"totalWeight" bson:"totalWeight"`
}

// ErrorResponse is the JSON error body written by the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
