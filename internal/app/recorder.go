package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/ledger"
)

// Recorder appends every group transition to the ledger.
type Recorder struct {
	ledger *ledger.Ledger
}

// NewRecorder creates a recorder writing to l.
func NewRecorder(l *ledger.Ledger) *Recorder {
	return &Recorder{ledger: l}
}

// Attach subscribes the recorder to every group event type.
func (r *Recorder) Attach(bus *eventbus.Bus) {
	bus.SubscribeAll(r.Record)
}

// Record stores a single event. Each delivery gets its own idempotency key.
func (r *Recorder) Record(e eventbus.Event) {
	key := uuid.NewString()
	if err := r.ledger.Append(ledger.EventType(e.Type), e.Group, key, e.Data); err != nil {
		log.Error().Err(err).
			Str("event_type", string(e.Type)).
			Str("group", e.Group).
			Msg("Failed to record event")
		return
	}

	log.Debug().
		Str("event_type", string(e.Type)).
		Str("group", e.Group).
		Str("key", key).
		Msg("Event recorded")
}

// RunCleanup periodically removes ledger entries older than retention.
func (r *Recorder) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := r.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
