// Package dispatch runs order mutations through the route consistency
// pipeline: write the order, work out the affected drivers, recompute their
// routes, invalidate the caches.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/affect"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	// ErrNothingToRecalculate is returned for an empty driver set; the
	// backend is not called.
	ErrNothingToRecalculate = errors.New("no drivers to recalculate")
	// ErrRoutesStale wraps a failed recalculation. The order write it
	// followed stays committed.
	ErrRoutesStale = errors.New("routes may be stale")
)

// Recalculator recomputes routes for named drivers.
type Recalculator interface {
	RecalculateDrivers(ctx context.Context, driverIDs []int64) (*models.RecalculateResponse, error)
}

// Invalidator clears cached routes for a set of drivers.
type Invalidator interface {
	Invalidate(ctx context.Context, vehicleIDs []int64) error
}

// Dispatcher asks the backend to recompute exactly the affected drivers and
// then invalidates the caches.
type Dispatcher struct {
	backend Recalculator
	caches  Invalidator
	logger  log.FieldLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(backend Recalculator, caches Invalidator, logger log.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{backend: backend, caches: caches, logger: logger}
}

// Recalculate issues one recalculation request for set. There is no retry:
// on failure the caller is told the routes may be stale and nothing is
// invalidated. An invalidation failure after a successful recalculation is
// returned alongside the response.
func (d *Dispatcher) Recalculate(ctx context.Context, set affect.DriverSet) (*models.RecalculateResponse, error) {
	if set.Empty() {
		return nil, ErrNothingToRecalculate
	}
	ids := set.IDs()
	logger := d.logger.WithField("driver_ids", ids)

	res, err := d.backend.RecalculateDrivers(ctx, ids)
	if err != nil {
		logger.WithError(err).Warn("Route recalculation failed")
		return nil, fmt.Errorf("%w: %w", ErrRoutesStale, err)
	}
	logger.WithField("recalculated", res.Recalculated).Info("Routes recalculated")

	if err := d.caches.Invalidate(ctx, ids); err != nil {
		logger.WithError(err).Error("Cache invalidation incomplete")
		return res, fmt.Errorf("invalidate caches: %w", err)
	}
	return res, nil
}
