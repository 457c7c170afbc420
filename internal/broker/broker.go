// Package broker runs an embedded MQTT broker for installations without one.
package broker

import (
	"errors"
	"fmt"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Broker is an in-process MQTT broker listening on a TCP address.
type Broker struct {
	server  *mochi.Server
	address string
	logger  zerolog.Logger

	mu      sync.Mutex
	nextSub int
	started bool
}

// New creates a broker for address (e.g. ":1883"). It does not listen until Start.
func New(address string) *Broker {
	return &Broker{
		server:  mochi.New(&mochi.Options{InlineClient: true}),
		address: address,
		logger:  log.With().Str("component", "broker").Str("address", address).Logger(),
		nextSub: 1,
	}
}

// Start binds the listener and serves clients in the background.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("broker already started")
	}

	if err := b.server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: b.address})
	if err := b.server.AddListener(tcp); err != nil {
		return fmt.Errorf("listening on %s: %w", b.address, err)
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Error().Err(err).Msg("Embedded broker stopped")
		}
	}()

	b.started = true
	b.logger.Info().Msg("Embedded MQTT broker started")
	return nil
}

// Publish injects a message as the inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool) error {
	return b.server.Publish(topic, payload, retain, 0)
}

// Subscribe delivers messages matching filter to fn as the inline client.
func (b *Broker) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.mu.Unlock()

	return b.server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}

// Close stops all listeners and disconnects clients.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.logger.Info().Msg("Stopping embedded MQTT broker")
	return b.server.Close()
}
