package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "route.updated.42", RoutingKey(42))
}

// Integration test (requires running RabbitMQ)
func TestAMQPBroker_Integration(t *testing.T) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set, skipping integration test")
	}
	broker, err := DialAMQP(url, "fleet.routes.test", nil)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	defer broker.Close()

	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go broker.Consume(ctx, 8, bus)

	ev := NewRouteUpdated(8, 1, false)
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, broker.Publish(context.Background(), ev))
		select {
		case got := <-ch:
			assert.Equal(t, ev.ID, got.ID)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("event never consumed")
		}
	}
}
