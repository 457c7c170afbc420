package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/config"
	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/group"
	"github.com/SmithLEDs/wb-buttonLight/internal/loop"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

// Group lifecycle phases.
const (
	PhasePending = "pending"
	PhaseReady   = "ready"
	PhaseAborted = "aborted"
)

// GroupStatus describes one configured group.
type GroupStatus struct {
	Name  string        `json:"name"`
	Title string        `json:"title"`
	Phase string        `json:"phase"`
	Error string        `json:"error,omitempty"`
	State *group.Status `json:"state,omitempty"`
}

type managedGroup struct {
	cfg   config.GroupConfig
	phase string
	err   error
	loop  *loop.Loop
	group *group.Group
}

// GroupService builds the configured lighting groups and owns their loops.
type GroupService struct {
	cfg    *config.Config
	kv     *kv.Manager
	events eventbus.Publisher

	// newProber overrides device probing; nil uses group defaults.
	newProber func(registry.Registry) *group.Prober

	mu      sync.RWMutex
	groups  []*managedGroup
	pending int
	wg      sync.WaitGroup
}

// NewGroupService creates the service. Groups are built on Start.
func NewGroupService(cfg *config.Config, store *kv.Manager, events eventbus.Publisher) *GroupService {
	s := &GroupService{
		cfg:    cfg,
		kv:     store,
		events: events,
	}
	for _, gc := range cfg.Groups {
		s.groups = append(s.groups, &managedGroup{cfg: gc, phase: PhasePending})
	}
	s.pending = len(s.groups)
	return s
}

// Start waits for the startup delay in the background and then builds every
// group concurrently. A group that cannot be built never affects the others.
func (s *GroupService) Start(ctx context.Context, reg registry.Registry) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if delay := s.cfg.GetStartupDelay(); delay > 0 {
			log.Info().Dur("delay", delay).Int("groups", len(s.groups)).Msg("Waiting before creating lighting groups")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		for _, m := range s.groups {
			s.wg.Add(1)
			go func(m *managedGroup) {
				defer s.wg.Done()
				s.build(ctx, reg, m)
			}(m)
		}
	}()
}

func (s *GroupService) build(ctx context.Context, reg registry.Registry, m *managedGroup) {
	l := loop.New(m.cfg.Name)

	deps := group.Deps{
		Registry:  reg,
		Scheduler: l,
		Events:    s.events,
	}
	if m.cfg.Master {
		deps.Storage = s.kv.Bucket(m.cfg.Name+"_storage", true)
	}
	if s.newProber != nil {
		deps.Prober = s.newProber(reg)
	}

	g, err := group.Create(ctx, deps, group.Options{
		Title:   m.cfg.Title,
		Name:    m.cfg.Name,
		Buttons: m.cfg.Buttons.Topics(),
		Lights:  m.cfg.Lights.Topics(),
		Motion:  m.cfg.Motion.Topics(),
		Master:  m.cfg.Master,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--

	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		l.Close(closeCtx)
		cancel()

		m.phase = PhaseAborted
		m.err = err
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("group", m.cfg.Name).Msg("Lighting group not created")
		}
		return
	}

	m.phase = PhaseReady
	m.loop = l
	m.group = g
	log.Info().Str("group", m.cfg.Name).Str("title", m.cfg.Title).Msg("Lighting group ready")
}

// Ready reports whether every configured group finished construction.
func (s *GroupService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending == 0
}

// Group returns a running group by name.
func (s *GroupService) Group(name string) (*group.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.groups {
		if m.cfg.Name == name && m.group != nil {
			return m.group, true
		}
	}
	return nil, false
}

// Statuses reports every configured group in configuration order.
func (s *GroupService) Statuses(ctx context.Context) []GroupStatus {
	s.mu.RLock()
	snapshot := make([]GroupStatus, len(s.groups))
	running := make([]*group.Group, len(s.groups))
	for i, m := range s.groups {
		snapshot[i] = GroupStatus{Name: m.cfg.Name, Title: m.cfg.Title, Phase: m.phase}
		if m.err != nil {
			snapshot[i].Error = m.err.Error()
		}
		running[i] = m.group
	}
	s.mu.RUnlock()

	for i, g := range running {
		if g == nil {
			continue
		}
		st, err := g.Status(ctx)
		if err != nil {
			snapshot[i].Error = err.Error()
			continue
		}
		snapshot[i].State = &st
	}
	return snapshot
}

// Close stops construction in progress, then tears down every running group.
// The context passed to Start must be cancelled first for pending probes to return.
func (s *GroupService) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for lighting group construction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.groups {
		if m.group == nil {
			continue
		}
		m.group.Close()
		m.loop.Close(ctx)
		m.group = nil
		m.loop = nil
	}
}
