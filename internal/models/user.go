package models

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
	RoleUser   Role = "user"
)

// DriverStatus is the availability of a driver.
type DriverStatus string

const (
	DriverActive    DriverStatus = "active"
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
	DriverOnLeave   DriverStatus = "on_leave"
)

// User represents an admin, a driver or a customer.
type User struct {
	ID              int64        `json:"id" bson:"id"`
	Name            string       `json:"name" bson:"name"`
	Username        string       `json:"username" bson:"username"`
	Email           string       `json:"email,omitempty" bson:"email,omitempty"`
	Phone           string       `json:"phone,omitempty" bson:"phone,omitempty"`
	Role            Role         `json:"role" bson:"role"`
	VehicleID       *int64       `json:"vehicleId,omitempty" bson:"vehicleId,omitempty"`
	Status          DriverStatus `json:"status,omitempty" bson:"status,omitempty"`
	CurrentLocation *Point       `json:"currentLocation,omitempty" bson:"currentLocation,omitempty"`
}

// RouteKey returns the vehicle id a driver's route is stored under. Drivers
// without a vehicle fall back to their own id.
func (u *User) RouteKey() int64 {
	if u.VehicleID != nil {
		return *u.VehicleID
	}
	return u.ID
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver, RoleUser:
		return true
	default:
		return false
	}
}

// IsValidDriverStatus checks if a driver status is valid
func IsValidDriverStatus(s DriverStatus) bool {
	switch s {
	case DriverActive, DriverAvailable, DriverBusy, DriverOffline, DriverOnLeave:
		return true
	default:
		return false
	}
}
