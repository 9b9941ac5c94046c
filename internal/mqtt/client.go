package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/berfenger/surpluscharge/internal/config"
	"github.com/berfenger/surpluscharge/internal/core/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

var ErrTimeout = errors.New("MQTT operation timed out")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("surpluscharge_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client: mqtt.NewClient(opts),
		cfg:    cfg.MQTT,
	}
}

// MQTTClient publishes state. It never subscribes: the bridge exposes no
// command topics.
type MQTTClient struct {
	client mqtt.Client
	cfg    config.MQTTConfig
}

// Message is a single MQTT publication.
type Message struct {
	Topic   string
	Payload string
	Retain  bool
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

// EventMessage maps a sensor update to its state topic and payload. It returns
// nil for unknown events.
func (c *MQTTClient) EventMessage(event domain.SensorUpdateEvent) *Message {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &Message{
			Topic:   c.SensorStateTopic(msg.Id),
			Payload: fmt.Sprintf("%.*f", int(msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &Message{
			Topic:   c.BinarySensorStateTopic(msg.Id),
			Payload: boolPayload(msg.Value),
		}
	case domain.TextSensorUpdateEvent:
		return &Message{
			Topic:   c.SensorStateTopic(msg.Id),
			Payload: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		payload := MQTT_PAYLOAD_OFFLINE
		if msg.Value {
			payload = MQTT_PAYLOAD_ONLINE
		}
		return &Message{
			Topic:   c.BridgeStateTopic(),
			Payload: payload,
			Retain:  true,
		}
	default:
		return nil
	}
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go waitToken(token, continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go waitToken(token, continuation, timeout)
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func waitToken(token mqtt.Token, continuation func(error), timeout time.Duration) {
	var err error
	if !token.WaitTimeout(timeout) {
		err = ErrTimeout
	} else {
		err = token.Error()
	}
	if continuation != nil {
		continuation(err)
	}
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}

func boolPayload(value bool) string {
	if value {
		return MQTT_PAYLOAD_ON
	}
	return MQTT_PAYLOAD_OFF
}
