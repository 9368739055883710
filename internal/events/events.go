// Package events carries RouteUpdated notifications from the component
// that recomputed or invalidated a route to every view that shows it.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RouteUpdated announces that the route of VehicleID changed. Removed is set
// when the route was deleted because the driver has no active orders left.
type RouteUpdated struct {
	ID        string    `json:"id"`
	VehicleID int64     `json:"vehicleId"`
	Removed   bool      `json:"removed,omitempty"`
	Version   int64     `json:"version,omitempty"`
	At        time.Time `json:"at"`
}

// NewRouteUpdated stamps a fresh event for vehicleID.
func NewRouteUpdated(vehicleID int64, version int64, removed bool) RouteUpdated {
	return RouteUpdated{
		ID:        uuid.NewString(),
		VehicleID: vehicleID,
		Removed:   removed,
		Version:   version,
		At:        time.Now().UTC(),
	}
}

// Publisher delivers route events.
type Publisher interface {
	Publish(ctx context.Context, ev RouteUpdated) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, RouteUpdated) error { return nil }

// MultiPublisher fans an event out to several publishers. Every publisher is
// tried; the first error is returned.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev RouteUpdated) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DefaultBuffer is the per-subscriber queue length of a Bus.
const DefaultBuffer = 16

type subscription struct {
	ch        chan RouteUpdated
	vehicleID int64
}

// Bus is an in-process publish/subscribe channel for route events.
// Publishing never blocks: when a subscriber's queue is full the event is
// dropped for that subscriber. Subscribers always refetch server state, so
// one queued event is as good as many.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	logger log.FieldLogger
}

// NewBus creates an empty bus.
func NewBus(logger log.FieldLogger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{subs: make(map[int]*subscription), logger: logger}
}

// Subscribe registers for every event. The returned cancel func unregisters
// and closes the channel.
func (b *Bus) Subscribe() (<-chan RouteUpdated, func()) {
	return b.subscribe(0)
}

// SubscribeVehicle registers for events about one vehicle only.
func (b *Bus) SubscribeVehicle(vehicleID int64) (<-chan RouteUpdated, func()) {
	return b.subscribe(vehicleID)
}

func (b *Bus) subscribe(vehicleID int64) (<-chan RouteUpdated, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan RouteUpdated, DefaultBuffer), vehicleID: vehicleID}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers ev to every matching subscriber.
func (b *Bus) Publish(_ context.Context, ev RouteUpdated) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.vehicleID != 0 && sub.vehicleID != ev.VehicleID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.WithField("vehicle_id", ev.VehicleID).Warn("Route event dropped, subscriber queue full")
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
