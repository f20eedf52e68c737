package messaging

import (
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"logosnode/config"
)

// mqttClient rides an MQTT broker. Topics are broadcast by nature, which
// suits peer gossip; QoS 1 gives at-least-once within a session.
type mqttClient struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

func newMQTTClient(cfg config.MessagingConfig) *mqttClient {
	return &mqttClient{cfg: cfg.MQTT}
}

func (c *mqttClient) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(false)
	opts.OnConnect = func(mqtt.Client) {
		log.Printf("messaging: connected to mqtt at %s:%d", c.cfg.Broker, c.cfg.Port)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("messaging: mqtt connection lost: %v", err)
	}

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt connect timed out")
	}
	return token.Error()
}

func (c *mqttClient) Publish(topic string, payload []byte) error {
	if c.client == nil {
		return errors.New("mqtt client not connected")
	}
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (c *mqttClient) Subscribe(topic string, h Handler) error {
	if c.client == nil {
		return errors.New("mqtt client not connected")
	}
	token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}
	log.Printf("messaging: subscribed to %s", topic)
	return nil
}

func (c *mqttClient) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *mqttClient) Close() error {
	if c.client != nil {
		c.client.Disconnect(250)
	}
	return nil
}

var _ Client = (*mqttClient)(nil)
