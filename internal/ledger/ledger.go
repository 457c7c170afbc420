// Package ledger provides an append-only history of lighting group transitions.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventGroupCreated    EventType = "group_created"
	EventGroupAborted    EventType = "group_aborted"
	EventGroupToggled    EventType = "group_toggled"
	EventTimeoutExpired  EventType = "timeout_expired"
	EventDeviceInvalid   EventType = "device_invalid"
	EventDeviceRecovered EventType = "device_recovered"
	EventMotionChanged   EventType = "motion_changed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64
	EventType      EventType
	Timestamp      time.Time
	Group          string
	Payload        map[string]any
	IdempotencyKey string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger. A repeated non-empty idempotency key is ignored.
func (l *Ledger) Append(eventType EventType, group, idempotencyKey string, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO event_ledger (event_type, timestamp, group_name, payload, idempotency_key)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), time.Now().UTC().Unix(), group, string(payloadJSON), idempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// GetByGroup returns the latest entries of a group, newest first
func (l *Ledger) GetByGroup(group string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, group_name, payload, idempotency_key
		FROM event_ledger
		WHERE group_name = ?
		ORDER BY id DESC
		LIMIT ?
	`, group, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, group_name, payload, idempotency_key
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, idempotencyKey sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &entry.Group, &payloadStr, &idempotencyKey); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}
		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
