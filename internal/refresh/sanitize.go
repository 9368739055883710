// Package refresh keeps the dashboard and driver views current: the
// dashboard reacts to the force-refresh flag and to route events, the driver
// view polls its own route.
package refresh

import (
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Sanitize drops stops and path points that cannot be placed on a map. A
// route left with nothing to show is rejected.
func Sanitize(route models.Route, logger log.FieldLogger) (models.Route, bool) {
	if route.VehicleID == 0 {
		logger.Warn("Skipping route without vehicle id")
		return route, false
	}

	stops := make([]models.Stop, 0, len(route.Stops))
	for i, s := range route.Stops {
		if !s.Point.Valid() {
			logger.WithFields(log.Fields{
				"vehicle_id": route.VehicleID,
				"stop":       i,
				"order_id":   s.OrderID,
				"type":       s.Type,
			}).Warn("Skipping stop with invalid coordinates")
			continue
		}
		stops = append(stops, s)
	}
	path := make([]models.Point, 0, len(route.Path))
	for _, p := range route.Path {
		if p.Valid() {
			path = append(path, p)
		}
	}

	if len(stops) == 0 && !route.VehiclePosition.Valid() {
		logger.WithField("vehicle_id", route.VehicleID).Warn("Skipping route with no valid coordinates")
		return route, false
	}
	route.Stops = stops
	route.Path = path
	return route, true
}
