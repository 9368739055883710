package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// DefaultMQTTTopic is the topic prefix; events go to <prefix>/<vehicleId>.
const DefaultMQTTTopic = "fleet/routes"

// MQTTBridge publishes route events to an MQTT broker and feeds events from
// the broker into a local publisher. It lets fleetd instances and remote
// views share one stream without a direct websocket.
type MQTTBridge struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  log.FieldLogger
}

// NewMQTTBridge connects to broker (e.g. tcp://mosquitto:1883).
func NewMQTTBridge(broker, clientID, prefix string, logger log.FieldLogger) (*MQTTBridge, error) {
	if prefix == "" {
		prefix = DefaultMQTTTopic
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		})
	return newMQTTBridge(mqtt.NewClient(opts), prefix, logger)
}

func newMQTTBridge(client mqtt.Client, prefix string, logger log.FieldLogger) (*MQTTBridge, error) {
	b := &MQTTBridge{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: 1, timeout: 10 * time.Second, logger: logger}
	if err := b.wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func (b *MQTTBridge) wait(token mqtt.Token) error {
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("timed out after %s", b.timeout)
	}
	return token.Error()
}

// Topic returns the topic events for vehicleID are published on.
func (b *MQTTBridge) Topic(vehicleID int64) string {
	return b.prefix + "/" + strconv.FormatInt(vehicleID, 10)
}

// Publish sends ev on the vehicle's topic.
func (b *MQTTBridge) Publish(_ context.Context, ev RouteUpdated) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.wait(b.client.Publish(b.Topic(ev.VehicleID), b.qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Forward subscribes to events for vehicleID (zero means every vehicle) and
// republishes them to target.
func (b *MQTTBridge) Forward(vehicleID int64, target Publisher) error {
	topic := b.prefix + "/+"
	if vehicleID != 0 {
		topic = b.Topic(vehicleID)
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var ev RouteUpdated
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			b.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Ignoring malformed MQTT route event")
			return
		}
		if err := target.Publish(context.Background(), ev); err != nil {
			b.logger.WithError(err).Warn("Failed to forward MQTT route event")
		}
	}
	if err := b.wait(b.client.Subscribe(topic, b.qos, handler)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
