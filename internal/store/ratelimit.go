package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Scope string

const (
	ScopeRequest Scope = "REQUEST"
	ScopeAuth    Scope = "AUTH"
	ScopeAdmin   Scope = "ADMIN"
)

// BlockDuration is the penalty applied after repeated overruns of a scope.
func (sc Scope) BlockDuration() time.Duration {
	switch sc {
	case ScopeAuth:
		return 5 * time.Minute
	case ScopeAdmin:
		return 60 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Consecutive overruns inside this span before a scope block kicks in.
const overrunEscalation = 3

type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
	// Blocked is set on the overrun that triggers a scope block, not on
	// later denials while the block holds.
	Blocked bool
}

// RateCheck counts a request against the (clientID, scope) fixed window and
// decides atomically, so concurrent bursts cannot slip past the cap. Three
// consecutive overruns within an hour escalate to a scope-specific block.
func (s *Store) RateCheck(ctx context.Context, clientID string, scope Scope, limit int, window time.Duration) (*RateDecision, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rate check: %w", err)
	}
	defer tx.Rollback()

	var (
		windowStart    time.Time
		count          int
		overruns       int
		firstOverrunAt *time.Time
		blockedUntil   *time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT window_start, count, overruns, first_overrun_at, blocked_until
		FROM rate_limits WHERE client_id = ? AND scope = ?`, clientID, scope).
		Scan(&windowStart, &count, &overruns, &firstOverrunAt, &blockedUntil)
	if err == sql.ErrNoRows {
		windowStart = now
	} else if err != nil {
		return nil, fmt.Errorf("failed to read rate window: %w", err)
	}

	if blockedUntil != nil && now.Before(*blockedUntil) {
		return &RateDecision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      *blockedUntil,
			RetryAfter: blockedUntil.Sub(now),
		}, nil
	}

	if now.Sub(windowStart) >= window {
		windowStart = now
		count = 0
	}

	decision := &RateDecision{Limit: limit, Reset: windowStart.Add(window)}

	if count < limit {
		count++
		overruns = 0
		firstOverrunAt = nil
		blockedUntil = nil
		decision.Allowed = true
		decision.Remaining = limit - count
	} else {
		if firstOverrunAt == nil || now.Sub(*firstOverrunAt) > time.Hour {
			overruns = 1
			firstOverrunAt = &now
		} else {
			overruns++
		}
		if overruns >= overrunEscalation {
			until := now.Add(scope.BlockDuration())
			blockedUntil = &until
			overruns = 0
			firstOverrunAt = nil
			decision.Reset = until
			decision.Blocked = true
		}
		decision.Allowed = false
		decision.Remaining = 0
		decision.RetryAfter = decision.Reset.Sub(now)
	}

	var firstOverrun, blocked any
	if firstOverrunAt != nil {
		firstOverrun = firstOverrunAt.UTC()
	}
	if blockedUntil != nil {
		blocked = blockedUntil.UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rate_limits (client_id, scope, window_start, count, overruns, first_overrun_at, blocked_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, scope) DO UPDATE SET
			window_start = excluded.window_start,
			count = excluded.count,
			overruns = excluded.overruns,
			first_overrun_at = excluded.first_overrun_at,
			blocked_until = excluded.blocked_until`,
		clientID, scope, windowStart, count, overruns, firstOverrun, blocked); err != nil {
		return nil, fmt.Errorf("failed to write rate window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rate check: %w", err)
	}
	return decision, nil
}
