package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/SmithLEDs/wb-buttonLight/internal/config"
)

const (
	// defaultOperationTimeout bounds publish and subscribe acknowledgments.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 500 // milliseconds

	defaultKeepAlive = 30 * time.Second

	clientIDPrefix = "wb-buttonlight-"
)

// buildClientOptions creates paho options from the MQTT config.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Retained device state is replayed by the broker on every subscribe.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.Reconnect.InitialDelay.Duration())
	opts.SetMaxReconnectInterval(cfg.Reconnect.MaxDelay.Duration())
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration())
	opts.SetKeepAlive(defaultKeepAlive)

	// Messages are delivered to handlers in arrival order on a single goroutine.
	opts.SetOrderMatters(true)

	return opts
}

// clientID returns the configured id or a random one.
func clientID(cfg config.MQTTConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return clientIDPrefix + uuid.NewString()[:8]
}
