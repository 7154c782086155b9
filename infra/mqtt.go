package infra

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// MQTTHandler 收到訊息時呼叫
type MQTTHandler func(topic string, payload []byte)

type mqttSubscription struct {
	qos     byte
	handler MQTTHandler
}

// MQTTClient 車機端 MQTT 連線，重連後自動恢復訂閱
type MQTTClient struct {
	client mqtt.Client
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]mqttSubscription
}

func NewMQTTClient(config MQTTConfig, logger zerolog.Logger) (*MQTTClient, error) {
	c := &MQTTClient{
		logger: logger.With().Str("module", "mqtt").Logger(),
		subs:   make(map[string]mqttSubscription),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn().Err(err).Msg("MQTT 連線中斷")
		})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout", config.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", config.BrokerURL, err)
	}

	c.logger.Info().Str("broker", config.BrokerURL).Msg("Connected to MQTT!")
	return c, nil
}

// onConnect 連線（含重連）後重新訂閱
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		c.subscribe(client, topic, sub)
	}
}

func (c *MQTTClient) subscribe(client mqtt.Client, topic string, sub mqttSubscription) {
	handler := sub.handler
	token := client.Subscribe(topic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("MQTT 訂閱失敗")
			return
		}
		c.logger.Info().Str("topic", topic).Msg("MQTT 已訂閱")
	}()
}

// Subscribe 訂閱主題，重連後會自動再訂閱
func (c *MQTTClient) Subscribe(topic string, qos byte, handler MQTTHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := mqttSubscription{qos: qos, handler: handler}
	c.subs[topic] = sub
	if c.client.IsConnectionOpen() {
		c.subscribe(c.client, topic, sub)
	}
}

// Unsubscribe 取消所有訂閱
func (c *MQTTClient) Unsubscribe() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subs = make(map[string]mqttSubscription)
	c.mu.Unlock()

	if len(topics) > 0 && c.client.IsConnectionOpen() {
		c.client.Unsubscribe(topics...).WaitTimeout(5 * time.Second)
	}
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}
