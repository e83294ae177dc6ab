package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "INFO"
	AuditWarning  AuditSeverity = "WARNING"
	AuditCritical AuditSeverity = "CRITICAL"
)

// AuditEvent is an append-only security/operations record.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	Severity   AuditSeverity  `json:"severity"`
	OwnerID    *string        `json:"ownerId,omitempty"`
	ClientID   *string        `json:"clientId,omitempty"`
	Endpoint   *string        `json:"endpoint,omitempty"`
	StatusCode *int           `json:"statusCode,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AppendAudit persists one event. Once it returns nil the event survives a
// crash; callers that must not block sit behind the async recorder.
func (s *Store) AppendAudit(ctx context.Context, ev *AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var payload any
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, owner_id, client_id, endpoint, status_code, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Type, ev.Severity, ev.OwnerID, ev.ClientID, ev.Endpoint,
		ev.StatusCode, payload, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAudit returns the newest events up to limit.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, owner_id, client_id, endpoint, status_code, payload, timestamp
		FROM audit_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var id string
		var payload *string
		if err := rows.Scan(&id, &ev.Type, &ev.Severity, &ev.OwnerID, &ev.ClientID,
			&ev.Endpoint, &ev.StatusCode, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("malformed audit id %q: %w", id, err)
		}
		if payload != nil {
			if err := json.Unmarshal([]byte(*payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("malformed audit payload for %s: %w", id, err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
