package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/api"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/planner"
)

var (
	depot    = models.NewPoint(21.0285, 105.8542)
	pickup   = models.NewPoint(21.0288, 105.8525)
	delivery = models.NewPoint(21.0450, 105.8890)
)

func startServer(t *testing.T, rateLimit int) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := &config.Config{
		Server:  config.ServerConfig{RateLimit: rateLimit, RateWindow: time.Minute},
		Planner: planner.DefaultConfig(),
	}
	a, err := newApp(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go a.hub.Run(ctx)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.Close()
	})
	return srv
}

func TestHealth(t *testing.T) {
	srv := startServer(t, 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	srv := startServer(t, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMutationPipeline(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	srv := startServer(t, 0)
	client := api.New(srv.URL)

	for _, id := range []int64{2, 5} {
		_, err := client.CreateVehicle(ctx, models.Vehicle{ID: id, LicensePlate: fmt.Sprintf("29A-%05d", id), MaxLoad: 100, Position: depot})
		require.NoError(t, err)
	}

	store := cache.NewMemoryStore()
	routes := cache.NewRouteCache(store)
	bus := events.NewBus(logger)
	local, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	inv := cache.NewInvalidator(store, bus, logger)
	mutations := dispatch.NewMutations(client, dispatch.NewDispatcher(client, inv, logger), inv, logger)

	require.NoError(t, routes.StoreFleet(ctx, []byte(`{"success":true,"routes":[]}`)))

	created, err := mutations.Create(ctx, dispatch.OrderForm{
		SenderID: 1, ReceiverID: 3, Weight: 5, DriverID: models.IDPtr(2), Pickup: &pickup, Delivery: &delivery,
	})
	require.NoError(t, err)
	require.NoError(t, created.Warning)
	assert.True(t, created.Recalculated)
	assert.Equal(t, []int64{2}, created.Affected.IDs())
	assert.Equal(t, models.StatusAssigned, created.Order.Status)
	assert.Equal(t, models.AssignmentManual, created.Order.AssignmentType)

	route, err := client.FetchRoute(ctx, 2)
	require.NoError(t, err)
	assert.True(t, route.HasOrder(created.Order.ID))

	_, fresh, err := routes.Fleet(ctx)
	require.NoError(t, err)
	assert.False(t, fresh)
	flagged, err := store.TakeForceRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, flagged)
	select {
	case ev := <-local:
		assert.Equal(t, int64(2), ev.VehicleID)
	case <-time.After(time.Second):
		t.Fatal("no local route event")
	}

	moved, err := mutations.Update(ctx, *created.Order, dispatch.OrderForm{
		SenderID: 1, ReceiverID: 3, Weight: 5, Status: models.StatusAssigned, DriverID: models.IDPtr(5),
	})
	require.NoError(t, err)
	require.NoError(t, moved.Warning)
	assert.Equal(t, []int64{2, 5}, moved.Affected.IDs())

	_, err = client.FetchRoute(ctx, 2)
	assert.ErrorIs(t, err, api.ErrNotFound)
	route, err = client.FetchRoute(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{created.Order.ID}, route.AssignedOrders)

	deleted, err := mutations.Delete(ctx, *moved.Order)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, deleted.Affected.IDs())
	_, err = client.FetchRoute(ctx, 5)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestRouteEventsOverWebsocket(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t, 0)
	client := api.New(srv.URL)

	_, err := client.CreateVehicle(ctx, models.Vehicle{ID: 7, LicensePlate: "29A-10007", MaxLoad: 100, Position: depot})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/routes?vehicleId=7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan events.RouteUpdated, 16)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg events.WSMessage
			var ev events.RouteUpdated
			if json.Unmarshal(data, &msg) == nil && msg.Type == events.MessageRouteUpdated && json.Unmarshal(msg.Payload, &ev) == nil {
				received <- ev
			}
		}
	}()

	// The hub registers subscribers asynchronously, so recalculate until
	// an event makes it through.
	require.Eventually(t, func() bool {
		if _, err := client.RecalculateDrivers(ctx, []int64{7}); err != nil {
			return false
		}
		select {
		case ev := <-received:
			return ev.VehicleID == 7 && ev.Removed
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}
