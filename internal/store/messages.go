package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sms-dispatch/internal/sms"

	"go.uber.org/zap"
)

const messageColumns = `id, phone_number, content, priority, retry_strategy, status,
	created_at, scheduled_at, sent_at, retry_count, max_retries, last_error,
	queue_seq, cancel_requested`

func scanMessage(row interface{ Scan(...any) error }) (*sms.Message, error) {
	var m sms.Message
	err := row.Scan(
		&m.ID, &m.PhoneNumber, &m.Content, &m.Priority, &m.RetryStrategy, &m.Status,
		&m.CreatedAt, &m.ScheduledAt, &m.SentAt, &m.RetryCount, &m.MaxRetries,
		&m.LastError, &m.QueueSeq, &m.CancelRequested)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage assigns id and queue_seq and persists msg as QUEUED.
// Invariant breaks surface as ErrValidation.
func (s *Store) InsertMessage(ctx context.Context, msg *sms.Message) (int64, error) {
	if err := validateInsert(msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var scheduledAt any
	if msg.ScheduledAt != nil {
		scheduledAt = msg.ScheduledAt.UTC()
	}

	// queue_seq is assigned here so insertion order is the tie-break order.
	// It derives from the AUTOINCREMENT high-water mark rather than
	// MAX(queue_seq), which could repeat after a purge removed the tail.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (phone_number, content, priority, retry_strategy, status,
			created_at, scheduled_at, retry_count, max_retries, queue_seq)
		VALUES (?, ?, ?, ?, 'QUEUED', ?, ?, 0, ?,
			COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'messages'), 0) + 1)
		RETURNING id, queue_seq`,
		msg.PhoneNumber, msg.Content, msg.Priority, msg.RetryStrategy,
		msg.CreatedAt.UTC(), scheduledAt, msg.MaxRetries)

	if err := row.Scan(&msg.ID, &msg.QueueSeq); err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	msg.Status = sms.StatusQueued

	s.logger.Info("message queued",
		zap.Int64("id", msg.ID),
		zap.String("priority", string(msg.Priority)),
		zap.Int64("queue_seq", msg.QueueSeq))
	return msg.ID, nil
}

func validateInsert(msg *sms.Message) error {
	if err := sms.ValidatePhoneNumber(msg.PhoneNumber); err != nil {
		return err
	}
	if err := sms.ValidateContent(msg.Content); err != nil {
		return err
	}
	if !msg.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", msg.Priority)
	}
	if !msg.RetryStrategy.Valid() {
		return fmt.Errorf("unknown retry strategy %q", msg.RetryStrategy)
	}
	if msg.MaxRetries < 0 || msg.MaxRetries > sms.MaxRetriesCeiling {
		return fmt.Errorf("maxRetries %d outside allowed range 0-%d", msg.MaxRetries, sms.MaxRetriesCeiling)
	}
	if msg.ScheduledAt != nil && msg.ScheduledAt.Before(msg.CreatedAt) {
		return fmt.Errorf("scheduledAt precedes createdAt")
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*sms.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

type MessagePage struct {
	Items []*sms.Message `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// ListMessages returns a page of messages newest-first, optionally filtered
// by status. page is 1-based.
func (s *Store) ListMessages(ctx context.Context, status sms.Status, page, size int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}

	where := ""
	args := []any{}
	if status != "" {
		where = ` WHERE status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	args = append(args, size, (page-1)*size)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := &MessagePage{Items: []*sms.Message{}, Total: total, Page: page, Size: size}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out.Items = append(out.Items, msg)
	}
	return out, rows.Err()
}

// ClaimDueForScheduling atomically reserves up to limit due rows. Eligible
// rows are QUEUED ones whose earliest send time has arrived and SCHEDULED
// ones whose (retry or appointment) time is due; they flip to the CLAIMED
// reservation so no concurrent tick sees them again. Future-dated QUEUED
// rows are promoted to SCHEDULED in the same critical section, which is the
// queue-to-schedule stage of the pipeline. Snapshots come back ordered by
// (priority desc, due time asc, queue_seq asc).
func (s *Store) ClaimDueForScheduling(ctx context.Context, now time.Time, limit int) ([]*sms.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'SCHEDULED'
		WHERE status = 'QUEUED' AND scheduled_at IS NOT NULL AND scheduled_at > ?`,
		now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to promote queued rows: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (status = 'QUEUED' AND (scheduled_at IS NULL OR scheduled_at <= ?))
		   OR (status = 'SCHEDULED' AND scheduled_at <= ?)
		ORDER BY
			CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'NORMAL' THEN 1 ELSE 0 END DESC,
			COALESCE(scheduled_at, created_at) ASC,
			queue_seq ASC
		LIMIT ?`, now.UTC(), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due rows: %w", err)
	}

	var claimed []*sms.Message
	var ids []any
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan due row: %w", err)
		}
		msg.Status = sms.StatusClaimed
		claimed = append(claimed, msg)
		ids = append(ids, msg.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = 'CLAIMED' WHERE id IN (`+placeholders+`)`,
			ids...); err != nil {
			return nil, fmt.Errorf("failed to claim due rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// ReleaseClaim drops claimed rows back to their pre-claim state. Used for
// backpressure and for claims the dispatcher never took over.
func (s *Store) ReleaseClaim(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = CASE WHEN scheduled_at IS NULL THEN 'QUEUED' ELSE 'SCHEDULED' END
		WHERE status = 'CLAIMED' AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to release claims: %w", err)
	}
	return nil
}

// CommitSending moves a claim to SENDING. Returns ErrConflict when the row
// was cancelled (or otherwise moved on) between claim and commit.
func (s *Store) CommitSending(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'SENDING' WHERE id = ? AND status = 'CLAIMED'`, id)
	if err != nil {
		return fmt.Errorf("failed to commit sending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d not claimable: %w", id, ErrConflict)
	}
	return nil
}

func (s *Store) CommitSent(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'SENT', sent_at = ? WHERE id = ? AND status = 'SENDING'`,
		now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to commit sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d not in flight: %w", id, ErrConflict)
	}
	return nil
}

// CommitRetry records a failed attempt and returns the resulting status.
// While retries remain the row goes back to SCHEDULED at nextAttemptAt with
// retry_count bumped; once the bump would exceed max_retries the row settles
// as FAILED with retry_count and scheduled_at frozen. A cancel intent raised
// during the attempt settles the row as CANCELLED instead of rescheduling.
func (s *Store) CommitRetry(ctx context.Context, id int64, nextAttemptAt time.Time, sendErr string) (sms.Status, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var status sms.Status
	err := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET status = CASE
		        WHEN cancel_requested = 1 THEN 'CANCELLED'
		        WHEN retry_count + 1 > max_retries THEN 'FAILED'
		        ELSE 'SCHEDULED' END,
		    retry_count  = CASE WHEN cancel_requested = 0 AND retry_count + 1 <= max_retries THEN retry_count + 1 ELSE retry_count END,
		    scheduled_at = CASE WHEN cancel_requested = 0 AND retry_count + 1 <= max_retries THEN ? ELSE scheduled_at END,
		    last_error   = ?
		WHERE id = ? AND status = 'SENDING'
		RETURNING status`,
		nextAttemptAt.UTC(), sendErr, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("message %d not in flight: %w", id, ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit retry: %w", err)
	}
	return status, nil
}

// CommitFailed settles a SENDING row as FAILED immediately (terminal
// transmitter errors), exhausting its retry budget.
func (s *Store) CommitFailed(ctx context.Context, id int64, sendErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'FAILED', retry_count = max_retries, last_error = ?
		WHERE id = ? AND status = 'SENDING'`, sendErr, id)
	if err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d not in flight: %w", id, ErrConflict)
	}
	return nil
}

type CancelOutcome int

const (
	CancelDone CancelOutcome = iota
	CancelAlreadyTerminal
	CancelInFlight
)

// Cancel moves any non-terminal, non-SENDING row to CANCELLED. A SENDING
// row instead gets a cancel-intent flag the dispatcher observes around the
// transmitter call.
func (s *Store) Cancel(ctx context.Context, id int64) (CancelOutcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cancel: %w", err)
	}
	defer tx.Rollback()

	var status sms.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read message: %w", err)
	}

	switch {
	case status.Terminal():
		return CancelAlreadyTerminal, nil
	case status == sms.StatusSending:
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET cancel_requested = 1 WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to flag cancel intent: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return CancelInFlight, nil
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = 'CANCELLED' WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to cancel message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		s.logger.Info("message cancelled", zap.Int64("id", id))
		return CancelDone, nil
	}
}

// CancelRequested reports the cancel-intent flag for an in-flight row.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flagged bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM messages WHERE id = ?`, id).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return flagged, err
}

// CancelClaimed settles a claimed row whose cancel intent was observed
// before the dispatcher started the send.
func (s *Store) CancelClaimed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'CANCELLED' WHERE id = ? AND status IN ('CLAIMED', 'SENDING')`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel claimed message: %w", err)
	}
	return nil
}

// UpdatePriority changes the priority of a message still waiting in the
// queue. Rows already claimed, in flight or settled return ErrConflict.
func (s *Store) UpdatePriority(ctx context.Context, id int64, priority sms.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, priority)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET priority = ?
		WHERE id = ? AND status IN ('QUEUED', 'SCHEDULED')`, priority, id)
	if err != nil {
		return fmt.Errorf("failed to update priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("message %d not reprioritizable: %w", id, ErrConflict)
	}
	return nil
}

// PurgeExpired deletes settled SENT and CANCELLED rows older than cutoff.
// FAILED rows are retained for inspection.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE status IN ('SENT', 'CANCELLED') AND created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("retention purge", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// QueueDepth counts rows still waiting for dispatch.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status IN ('QUEUED', 'SCHEDULED', 'CLAIMED')`).Scan(&n)
	return n, err
}
