package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	publishTimeout = 5 * time.Second
)

// Client wraps the paho client with the monitor's status topic and last will.
type Client struct {
	client      paho.Client
	cfg         config.MQTTConfig
	statusTopic string
	logger      *zap.Logger
}

func NewClient(cfg config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		cfg:         cfg,
		statusTopic: cfg.TopicPrefix + "/status",
		logger:      logger,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Broker markiert uns offline, wenn die Verbindung abreißt
	opts.SetWill(c.statusTopic, statusOffline, 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		if token := client.Publish(c.statusTopic, 1, true, statusOnline); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			logger.Warn("Failed to publish online status", zap.Error(token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect starts connecting. If the broker is not reachable within the
// connect timeout paho keeps retrying in the background and Connect returns nil.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-time.After(timeout):
		c.logger.Warn("MQTT broker not reachable yet, retrying in background",
			zap.String("broker", c.cfg.Broker))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Publish implements PublishFunc.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, c.cfg.QoS, c.cfg.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

// Disconnect publishes offline and closes the connection.
func (c *Client) Disconnect() {
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.statusTopic, 1, true, statusOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(250)
	c.logger.Info("MQTT disconnected")
}
