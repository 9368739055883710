// Package planner turns a vehicle and its orders into a route, and assigns
// orders to vehicles for a full-fleet optimisation.
package planner

import (
	"math"
	"sort"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b models.Point) float64 {
	dLat := (b.Lat() - a.Lat()) * math.Pi / 180
	dLon := (b.Lng() - a.Lng()) * math.Pi / 180
	lat1 := a.Lat() * math.Pi / 180
	lat2 := b.Lat() * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusKm * c
}

// Config tunes route estimates.
type Config struct {
	AverageSpeedKmh float64 `mapstructure:"average_speed_kmh"`
	ServiceMinutes  float64 `mapstructure:"service_minutes"`
	ReturnToDepot   bool    `mapstructure:"return_to_depot"`
}

// DefaultConfig matches the estimates shown to dispatchers.
func DefaultConfig() Config {
	return Config{AverageSpeedKmh: 40, ServiceMinutes: 6, ReturnToDepot: true}
}

// Build lays out the route of vehicle over orders: the depot, then the
// pickup and delivery of each order in id order. It is a pure function of
// its inputs; Version and LastUpdated are left for the caller. Orders with
// unusable coordinates are left off and returned as skipped.
func Build(vehicle models.Vehicle, orders []models.Order, cfg Config) (models.Route, []int64) {
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = DefaultConfig().AverageSpeedKmh
	}

	sorted := append([]models.Order(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	depot := vehicle.Depot()
	route := models.Route{
		VehicleID:       vehicle.ID,
		Stops:           []models.Stop{{Type: models.StopDepot, Point: depot, Address: vehicle.CurrentAddress}},
		AssignedOrders:  []int64{},
		Path:            []models.Point{depot},
		VehiclePosition: depot,
		Status:          models.RouteStatusActive,
		IsActive:        true,
	}

	var skipped []int64
	pos := depot
	elapsed := 0.0
	visit := func(s models.Stop) {
		d := HaversineKm(pos, s.Point)
		route.Distance += d
		elapsed += d / cfg.AverageSpeedKmh * 60
		s.ArrivalTime = round2(elapsed)
		elapsed += cfg.ServiceMinutes
		route.Stops = append(route.Stops, s)
		route.Path = append(route.Path, s.Point)
		pos = s.Point
	}

	for _, o := range sorted {
		if !o.Pickup.Valid() || !o.Delivery.Valid() {
			skipped = append(skipped, o.ID)
			continue
		}
		route.AssignedOrders = append(route.AssignedOrders, o.ID)
		route.TotalWeight += o.Weight
		visit(models.Stop{Type: models.StopPickup, OrderID: o.ID, Point: o.Pickup, Weight: o.Weight, Address: o.PickupAddress})
		visit(models.Stop{Type: models.StopDelivery, OrderID: o.ID, Point: o.Delivery, Weight: o.Weight, Address: o.DeliveryAddress})
	}

	if cfg.ReturnToDepot && len(route.AssignedOrders) > 0 {
		d := HaversineKm(pos, depot)
		route.Distance += d
		elapsed += d / cfg.AverageSpeedKmh * 60
		route.Path = append(route.Path, depot)
	}

	route.Distance = round2(route.Distance)
	route.Duration = round2(elapsed)
	return route, skipped
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
