package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/broker"
	"github.com/SmithLEDs/wb-buttonLight/internal/config"
	"github.com/SmithLEDs/wb-buttonLight/internal/db"
	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/ledger"
	"github.com/SmithLEDs/wb-buttonLight/internal/mqtt"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry/memory"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry/wbmqtt"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

// Registry drivers.
const (
	DriverMQTT   = "mqtt"
	DriverMemory = "memory"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	KV     *kv.Manager
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Transport, set up on Start for the mqtt driver
	Broker   *broker.Broker
	MQTT     *mqtt.Client
	Registry registry.Registry

	// High-level services
	Recorder *Recorder
	Groups   *GroupService
	Health   *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.KV = kv.NewManager(database.DB)
	s.Ledger = ledger.New(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Recorder = NewRecorder(s.Ledger)
	s.Recorder.Attach(s.Bus)

	switch cfg.Registry.Driver {
	case DriverMemory:
		// Devices only exist when added programmatically; used for dry runs and tests.
		s.Registry = memory.New()
	case DriverMQTT:
		if cfg.MQTT.Embedded.Enabled {
			s.Broker = broker.New(cfg.MQTT.Embedded.Address)
		}
	default:
		s.Close()
		return nil, fmt.Errorf("%w: unknown registry driver %q", config.ErrInvalidConfig, cfg.Registry.Driver)
	}

	s.Groups = NewGroupService(cfg, s.KV, s.Bus)
	s.Health = NewHealthService(cfg, s.Groups, s.transportCheck)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if s.Broker != nil {
		if err := s.Broker.Start(); err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
	}

	if s.Registry == nil {
		client, err := mqtt.Connect(s.cfg.MQTT)
		if err != nil {
			return err
		}
		s.MQTT = client

		reg := wbmqtt.New(client, s.cfg.Registry.DeviceDriver)
		if err := reg.Start(); err != nil {
			return err
		}
		s.Registry = reg
	}

	s.Health.Start(ctx)
	go s.Recorder.RunCleanup(ctx, time.Duration(s.cfg.Ledger.RetentionDays)*24*time.Hour, s.cfg.Ledger.CleanupInterval.Duration())
	s.Groups.Start(ctx, s.Registry)

	return nil
}

// transportCheck reports whether the broker connection is usable.
func (s *Services) transportCheck(ctx context.Context) error {
	if s.MQTT == nil {
		if s.cfg.Registry.Driver == DriverMQTT {
			return mqtt.ErrNotConnected
		}
		return nil
	}
	return s.MQTT.HealthCheck(ctx)
}

// ClearStorage clears all persisted relay states and returns the buckets it emptied.
func (s *Services) ClearStorage() ([]string, error) {
	buckets, err := s.KV.List()
	if err != nil {
		return nil, err
	}
	if err := s.KV.ClearAll(); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	s.Groups.Close(ctx)
	return s.Close()
}

// Close releases all resources.
func (s *Services) Close() error {
	var errs []error

	if s.MQTT != nil {
		errs = append(errs, s.MQTT.Close())
	}
	if s.Broker != nil {
		errs = append(errs, s.Broker.Close())
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Error releasing resources")
		return err
	}
	return nil
}
