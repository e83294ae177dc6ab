// Package audit feeds the append-only audit trail without ever blocking the
// data plane: events queue onto a bounded channel and a single writer
// drains them into the store.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sms-dispatch/internal/store"

	"go.uber.org/zap"
)

// Event types written by the gateway.
const (
	EventQueued            = "MESSAGE_QUEUED"
	EventCancelled         = "MESSAGE_CANCELLED"
	EventCancelAfterSend   = "CANCEL_AFTER_SEND"
	EventAccessDenied      = "ACCESS_DENIED"
	EventAuthFailed        = "AUTH_FAILED"
	EventSecurityViolation = "SECURITY_VIOLATION"
	EventSystemError       = "SYSTEM_ERROR"
	EventSuspicious        = "SUSPICIOUS"
	EventRecoveredInFlight = "RECOVERED_IN_FLIGHT"
	EventTokenIssued       = "TOKEN_ISSUED"
	EventTokenRevoked      = "TOKEN_REVOKED"
	EventQueuePaused       = "QUEUE_PAUSED"
	EventQueueResumed      = "QUEUE_RESUMED"
	EventRetentionSweep    = "RETENTION_SWEEP"
	EventAPICall           = "API_CALL"
)

type Recorder struct {
	store  *store.Store
	logger *zap.Logger

	queue   chan *store.AuditEvent
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  chan struct{}
}

func NewRecorder(st *store.Store, logger *zap.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		store:  st,
		logger: logger,
		queue:  make(chan *store.AuditEvent, queueSize),
		closed: make(chan struct{}),
	}
}

// Start launches the single writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-r.closed:
			// Drain whatever is still queued, then stop.
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev *store.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendAudit(ctx, ev); err != nil {
		// Audit failures never propagate; log and move on.
		r.logger.Error("failed to append audit event",
			zap.String("type", ev.Type), zap.Error(err))
	}
}

// Record enqueues an event. When the queue is full the event is dropped and
// counted; the caller is never blocked.
func (r *Recorder) Record(ev *store.AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		if n%100 == 1 {
			r.logger.Warn("audit queue full, dropping events", zap.Int64("dropped_total", n))
		}
	}
}

// RecordSync writes an event directly, for callers that need the crash
// guarantee (for example boot recovery).
func (r *Recorder) RecordSync(ctx context.Context, ev *store.AuditEvent) {
	if err := r.store.AppendAudit(ctx, ev); err != nil {
		r.logger.Error("failed to append audit event",
			zap.String("type", ev.Type), zap.Error(err))
	}
}

// Dropped reports how many events overflowed the queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close drains the queue and stops the writer.
func (r *Recorder) Close() {
	close(r.closed)
	r.wg.Wait()
}
