package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/model"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
)

// MQTT publishes readings as JSON to <topic>/<sensor_id>.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTT connects to the configured broker. The client reconnects on its
// own after the initial connection succeeds.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "sink", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}

	return newMQTT(client, cfg.Topic, cfg.QoS), nil
}

func newMQTT(client mqtt.Client, topic string, qos int) *MQTT {
	return &MQTT{client: client, topic: topic, qos: byte(qos)}
}

// Name implements Sink.
func (m *MQTT) Name() string { return "mqtt" }

// Topic returns the topic a reading is published to.
func (m *MQTT) Topic(r model.SensorReading) string {
	return m.topic + "/" + r.SensorID
}

// Send implements Sink.
func (m *MQTT) Send(ctx context.Context, r model.SensorReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	token := m.client.Publish(m.Topic(r), m.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

// Close implements Sink.
func (m *MQTT) Close() error {
	m.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}
