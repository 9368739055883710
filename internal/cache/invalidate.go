package cache

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/events"
)

// Invalidator makes sure no view keeps showing a route that a mutation made
// stale.
type Invalidator struct {
	store  Store
	events events.Publisher
	logger log.FieldLogger
}

// NewInvalidator builds an Invalidator. pub receives a RouteUpdated for each
// invalidated driver and may be nil.
func NewInvalidator(store Store, pub events.Publisher, logger log.FieldLogger) *Invalidator {
	if pub == nil {
		pub = events.Discard
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Invalidator{store: store, events: pub, logger: logger}
}

// Invalidate runs, in order: clear the fleet snapshot and its timestamp,
// remove the cached route of every id, set the force-refresh flag. Every
// step is attempted even if an earlier one fails; the failures are joined.
// Route events are published last.
func (i *Invalidator) Invalidate(ctx context.Context, vehicleIDs []int64) error {
	var errs []error

	if err := i.store.ClearFleet(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear fleet cache: %w", err))
	}
	for _, id := range vehicleIDs {
		if err := i.store.RemoveDriverRoute(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", DriverRouteKey(id), err))
		}
	}
	if err := i.store.SetForceRefresh(ctx); err != nil {
		errs = append(errs, fmt.Errorf("set force refresh: %w", err))
	}

	for _, id := range vehicleIDs {
		if err := i.events.Publish(ctx, events.NewRouteUpdated(id, 0, false)); err != nil {
			i.logger.WithError(err).WithField("vehicle_id", id).Warn("Failed to publish route event")
		}
	}

	i.logger.WithField("vehicle_ids", vehicleIDs).Debug("Route caches invalidated")
	return errors.Join(errs...)
}
