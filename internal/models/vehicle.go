package models

// VehicleStatus is the operational state of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleInUse       VehicleStatus = "in_use"
	VehicleBusy        VehicleStatus = "busy"
	VehicleMaintenance VehicleStatus = "maintenance"
)

// DefaultLoad is the capacity assumed for a vehicle with neither capacity
// nor maxLoad set.
const DefaultLoad = 100.0

// Vehicle represents a fleet vehicle. Its id doubles as the driver id used
// by orders and routes.
type Vehicle struct {
	ID             int64         `json:"id" bson:"id"`
	LicensePlate   string        `json:"licensePlate" bson:"licensePlate"`
	Brand          string        `json:"brand,omitempty" bson:"brand,omitempty"`
	Model          string        `json:"model,omitempty" bson:"model,omitempty"`
	Year           int           `json:"year,omitempty" bson:"year,omitempty"`
	Color          string        `json:"color,omitempty" bson:"color,omitempty"`
	FuelType       string        `json:"fuelType,omitempty" bson:"fuelType,omitempty"` // "gasoline", "diesel", "electric", "hybrid"
	Type           string        `json:"type,omitempty" bson:"type,omitempty"`         // "Standard", "Truck", "Van", "Motorcycle"
	Capacity       float64       `json:"capacity,omitempty" bson:"capacity,omitempty"`
	MaxLoad        float64       `json:"maxLoad" bson:"maxLoad"`
	Position       Point         `json:"position" bson:"position"`
	Location       *Point        `json:"location,omitempty" bson:"location,omitempty"`
	CurrentAddress string        `json:"currentAddress,omitempty" bson:"currentAddress,omitempty"`
	Status         VehicleStatus `json:"status" bson:"status"`
	CurrentLoad    float64       `json:"currentLoad" bson:"currentLoad"`
}

// Depot returns where the vehicle's route starts: its live location when
// known, otherwise its registered position.
func (v *Vehicle) Depot() Point {
	if v.Location != nil && v.Location.Valid() {
		return *v.Location
	}
	return v.Position
}

// Load returns the usable capacity in kg.
func (v *Vehicle) Load() float64 {
	switch {
	case v.Capacity > 0:
		return v.Capacity
	case v.MaxLoad > 0:
		return v.MaxLoad
	default:
		return DefaultLoad
	}
}

// ValidVehicleStatus checks if a vehicle status is known.
func ValidVehicleStatus(s VehicleStatus) bool {
	switch s {
	case VehicleAvailable, VehicleInUse, VehicleBusy, VehicleMaintenance:
		return true
	default:
		return false
	}
}
