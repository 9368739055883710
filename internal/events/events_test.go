package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan RouteUpdated) RouteUpdated {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for route event")
		return RouteUpdated{}
	}
}

func TestNewRouteUpdated(t *testing.T) {
	ev := NewRouteUpdated(5, 3, true)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, int64(5), ev.VehicleID)
	assert.Equal(t, int64(3), ev.Version)
	assert.True(t, ev.Removed)
	assert.False(t, ev.At.IsZero())
	assert.NotEqual(t, ev.ID, NewRouteUpdated(5, 3, true).ID)
}

func TestBus_SubscribeAndFilter(t *testing.T) {
	bus := NewBus(nil)
	all, cancelAll := bus.Subscribe()
	defer cancelAll()
	five, cancelFive := bus.SubscribeVehicle(5)
	defer cancelFive()

	require.NoError(t, bus.Publish(context.Background(), NewRouteUpdated(7, 1, false)))
	require.NoError(t, bus.Publish(context.Background(), NewRouteUpdated(5, 1, false)))

	assert.Equal(t, int64(7), receive(t, all).VehicleID)
	assert.Equal(t, int64(5), receive(t, all).VehicleID)
	assert.Equal(t, int64(5), receive(t, five).VehicleID)
	select {
	case ev := <-five:
		t.Fatalf("unexpected event for vehicle %d", ev.VehicleID)
	default:
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	assert.Equal(t, 1, bus.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())
	assert.NoError(t, bus.Publish(context.Background(), NewRouteUpdated(1, 1, false)))
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*3; i++ {
			bus.Publish(context.Background(), NewRouteUpdated(1, int64(i), false))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

type recordingPublisher struct {
	events []RouteUpdated
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev RouteUpdated) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiPublisher(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	multi := MultiPublisher{failing, nil, ok, Discard}

	err := multi.Publish(context.Background(), NewRouteUpdated(2, 1, false))
	assert.EqualError(t, err, "broker down")
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)
}
