package relay

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	FrameTopic     string        `mapstructure:"frame_topic"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MessageHandler receives the payload of every message on the frame topic.
type MessageHandler func(payload []byte)

// PahoClient subscribes to frames and publishes records on one connection.
type PahoClient struct {
	client  paho.Client
	cfg     MQTTConfig
	handler MessageHandler
	logger  zerolog.Logger
}

// NewPahoClient connects to the broker and subscribes to cfg.FrameTopic on
// every (re)connect.
func NewPahoClient(cfg MQTTConfig, handler MessageHandler, logger zerolog.Logger) (*PahoClient, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url is required")
	}
	c := &PahoClient{cfg: cfg, handler: handler, logger: logger}
	c.client = paho.NewClient(c.clientOptions())

	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout()) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *PahoClient) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 10 * time.Second
}

func (c *PahoClient) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(c.connectTimeout()).
		// Frames must reach the decoder in receive order.
		SetOrderMatters(true)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.KeepAlive)
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Error().Err(err).Msg("lost MQTT connection, reconnecting")
	})
	return opts
}

func (c *PahoClient) onConnect(client paho.Client) {
	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("connected to MQTT broker")
	if c.cfg.FrameTopic == "" || c.handler == nil {
		return
	}
	token := client.Subscribe(c.cfg.FrameTopic, 1, c.onMessage)
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Str("topic", c.cfg.FrameTopic).Msg("subscribe failed")
		return
	}
	c.logger.Info().Str("topic", c.cfg.FrameTopic).Msg("subscribed to frames")
}

func (c *PahoClient) onMessage(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	c.handler(payload)
}

// Publish sends payload with QoS 0, not retained.
func (c *PahoClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *PahoClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *PahoClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
