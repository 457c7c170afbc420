package app

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/config"
)

// App runs the configured lighting groups on top of one device registry.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires storage, transport and groups. Nothing is started yet.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Services exposes the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start connects the registry and schedules group construction. Groups are
// built in the background once the startup delay has passed.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	masters := 0
	names := make([]string, 0, len(a.cfg.Groups))
	for _, g := range a.cfg.Groups {
		names = append(names, g.Name)
		if g.Master {
			masters++
		}
	}

	log.Info().
		Str("registry", a.cfg.Registry.Driver).
		Bool("embedded_broker", a.services.Broker != nil).
		Str("groups", strings.Join(names, ",")).
		Int("masters", masters).
		Dur("startup_delay", a.cfg.GetStartupDelay()).
		Msg("wb-buttonlight started")
	return nil
}

// Stop tears down every group, then releases the registry and storage.
func (a *App) Stop() error {
	if a.services != nil && a.services.Groups != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		sum := summarize(a.services.Groups.Statuses(ctx))
		cancel()

		log.Info().
			Int("ready", sum.Ready).
			Int("aborted", sum.Aborted).
			Int("pending", sum.Pending).
			Int("lit", sum.Lit).
			Msg("Stopping lighting groups")
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetStorage forgets the relay states remembered by master groups and
// returns the buckets it emptied.
func (a *App) ResetStorage() ([]string, error) {
	if a.services == nil {
		return nil, nil
	}

	buckets, err := a.services.ClearStorage()
	if err != nil {
		return nil, err
	}
	log.Info().Strs("buckets", buckets).Msg("Forgot remembered relay states")
	return buckets, nil
}

// GroupSummary counts groups by lifecycle phase.
type GroupSummary struct {
	Ready   int
	Aborted int
	Pending int
	// Lit counts ready groups whose lights are on.
	Lit int
}

func summarize(statuses []GroupStatus) GroupSummary {
	var sum GroupSummary
	for _, st := range statuses {
		switch st.Phase {
		case PhaseReady:
			sum.Ready++
			if st.State != nil && st.State.On {
				sum.Lit++
			}
		case PhaseAborted:
			sum.Aborted++
		default:
			sum.Pending++
		}
	}
	return sum
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal, switching to teardown")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}
