package group

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// Startup probing parameters.
const (
	ProbeInterval = 5 * time.Second
	ProbeAttempts = 60
)

// Exists reports whether the device of t is registered and has the control.
func Exists(reg registry.Registry, t registry.Topic) bool {
	return reg.Exists(t)
}

// AllExist reports whether every topic exists. An empty list is vacuously satisfied.
func AllExist(reg registry.Registry, topics []registry.Topic) bool {
	for _, t := range topics {
		if !Exists(reg, t) {
			return false
		}
	}
	return true
}

// Prober polls the registry until the configured devices show up.
type Prober struct {
	reg      registry.Registry
	interval time.Duration
	attempts int
	logger   zerolog.Logger
}

// NewProber creates a prober polling every ProbeInterval, at most ProbeAttempts times.
func NewProber(reg registry.Registry) *Prober {
	return NewProberWithConfig(reg, ProbeInterval, ProbeAttempts)
}

// NewProberWithConfig creates a prober with a custom polling interval and attempt budget.
func NewProberWithConfig(reg registry.Registry, interval time.Duration, attempts int) *Prober {
	if attempts < 1 {
		attempts = 1
	}
	return &Prober{
		reg:      reg,
		interval: interval,
		attempts: attempts,
		logger:   log.Logger,
	}
}

// Wait polls each category independently until all are satisfied or the attempt
// budget runs out, and reports which categories fully resolved. Categories with
// no topics are not evaluated. Only a cancelled context is an error: partial
// availability is left to the caller.
func (p *Prober) Wait(ctx context.Context, required map[Category][]registry.Topic) (map[Category]bool, error) {
	resolved := make(map[Category]bool, len(required))
	pending := 0
	for cat, topics := range required {
		if len(topics) == 0 {
			continue
		}
		resolved[cat] = false
		pending++
	}

	for attempt := 1; pending > 0; attempt++ {
		for cat, ok := range resolved {
			if ok {
				continue
			}
			if AllExist(p.reg, required[cat]) {
				resolved[cat] = true
				pending--
				p.logger.Debug().Str("category", string(cat)).Int("attempt", attempt).Msg("Devices available")
			}
		}
		if pending == 0 || attempt >= p.attempts {
			break
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resolved, ctx.Err()
		case <-timer.C:
		}
	}

	for cat, ok := range resolved {
		if ok {
			continue
		}
		for _, t := range required[cat] {
			if !Exists(p.reg, t) {
				p.logger.Warn().Str("category", string(cat)).Str("topic", t.String()).Msg("Device or control is not available")
			}
		}
	}

	return resolved, nil
}
