// Package mqtt wraps the paho MQTT client with connection management,
// subscription restoration on reconnect and panic-safe message handlers.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/config"
)

// MessageHandler is the callback signature for received messages.
// Handlers run on the paho delivery goroutine and should not block.
type MessageHandler func(topic string, payload []byte) error

// Client is a connected MQTT client. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	qos    byte
	id     string
	logger zerolog.Logger

	// subscriptions are replayed after every reconnect.
	subscriptions map[string]MessageHandler
	subMu         sync.RWMutex

	connected atomic.Bool
}

// Connect establishes a connection to the broker. It fails if the broker
// cannot be reached within cfg.ConnectTimeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	id := clientID(cfg)
	c := &Client{
		qos:           byte(cfg.QoS),
		id:            id,
		logger:        log.With().Str("component", "mqtt").Str("client_id", id).Logger(),
		subscriptions: make(map[string]MessageHandler),
	}

	opts := buildClientOptions(cfg, id)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Debug().Msg("Reconnecting to MQTT broker")
	})

	c.client = pahomqtt.NewClient(opts)
	timeout := cfg.ConnectTimeout.Duration()
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		// Stop the background retry loop.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark connected now.
	c.connected.Store(true)

	c.logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("Connected to MQTT broker")
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// restoreSubscriptions re-subscribes to all tracked filters after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for filter, handler := range c.subscriptions {
		c.client.Subscribe(filter, c.qos, c.wrapHandler(handler))
	}
}

// ID returns the client identifier used on the broker.
func (c *Client) ID() string {
	return c.id
}

// Publish sends payload to topic and waits for the acknowledgment.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for filter. Wildcards are allowed.
// The subscription is restored automatically after a reconnect.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[filter] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(filter, c.qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultOperationTimeout) {
		c.forget(filter)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(filter)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (c *Client) forget(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnectionOpen()
}

// HealthCheck reports whether the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	c.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}

// wrapHandler adds panic recovery and error logging to a handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().
					Str("topic", msg.Topic()).
					Interface("panic", r).
					Msg("MQTT handler panic recovered")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT handler returned error")
		}
	}
}
