// Package dispatch runs the worker pool that turns scheduled messages into
// transmitter calls and commits the outcome back to the store.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/sms"
	"sms-dispatch/internal/store"
	"sms-dispatch/internal/transmit"

	"go.uber.org/zap"
)

// Task is one claimed message snapshot handed over by the scheduler.
type Task struct {
	Msg *sms.Message
}

type Dispatcher struct {
	store       *store.Store
	transmitter transmit.Transmitter
	recorder    *audit.Recorder
	metrics     *observability.Metrics
	logger      *zap.Logger

	workers     int
	sendTimeout time.Duration

	tasks chan Task
	stop  chan struct{}
	wg    sync.WaitGroup
}

func New(st *store.Store, tx transmit.Transmitter, recorder *audit.Recorder, metrics *observability.Metrics, logger *zap.Logger, workers int, sendTimeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 4
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:       st,
		transmitter: tx,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
		workers:     workers,
		sendTimeout: sendTimeout,
		// Channel capacity is worker count x 2; the scheduler backs off
		// when it fills.
		tasks: make(chan Task, workers*2),
		stop:  make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting dispatcher", zap.Int("workers", d.workers))
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Pending reports tasks handed over but not yet picked up by a worker.
func (d *Dispatcher) Pending() int { return len(d.tasks) }

// TryEnqueue offers a task without blocking. False means the channel is
// full and the caller should release its claim.
func (d *Dispatcher) TryEnqueue(t Task) bool {
	select {
	case <-d.stop:
		return false
	default:
	}
	select {
	case d.tasks <- t:
		return true
	default:
		return false
	}
}

// Stop waits up to grace for workers to finish their current task, then
// releases any tasks still queued so boot recovery picks them up cleanly.
func (d *Dispatcher) Stop(grace time.Duration) error {
	close(d.stop)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("dispatcher shutdown grace expired, abandoning in-flight tasks")
		stopErr = errors.New("dispatcher shutdown timed out")
	}

	// Return undispatched claims to the queue.
	var leftover []int64
	for {
		select {
		case t := <-d.tasks:
			leftover = append(leftover, t.Msg.ID)
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.store.ReleaseClaim(ctx, leftover); err != nil {
				d.logger.Error("failed to release leftover claims", zap.Error(err))
			}
			return stopErr
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.process(ctx, logger, t.Msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, logger *zap.Logger, msg *sms.Message) {
	start := time.Now()
	defer func() {
		d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	if err := d.store.CommitSending(ctx, msg.ID, start); err != nil {
		// Cancelled (or otherwise moved on) between claim and pickup.
		logger.Debug("skipping task, claim no longer valid",
			zap.Int64("id", msg.ID), zap.Error(err))
		return
	}

	// Cancel intent raised between claim and pickup settles without a send.
	if flagged, err := d.store.CancelRequested(ctx, msg.ID); err == nil && flagged {
		if err := d.store.CancelClaimed(ctx, msg.ID); err != nil {
			logger.Error("failed to settle cancelled task", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		d.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusCancelled)).Inc()
		d.recorder.Record(&store.AuditEvent{
			Type:     audit.EventCancelled,
			Severity: store.AuditInfo,
			Payload:  map[string]any{"messageId": msg.ID, "stage": "pre-send"},
		})
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	sendErr := d.transmitter.Send(sendCtx, msg.PhoneNumber, msg.Content)
	cancel()

	if sendErr == nil {
		// Cancellation is best-effort once the send completed: the outcome
		// stands, the late intent only leaves an audit mark.
		lateCancel, _ := d.store.CancelRequested(ctx, msg.ID)
		if err := d.store.CommitSent(ctx, msg.ID, time.Now()); err != nil {
			logger.Error("failed to commit sent", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		d.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusSent)).Inc()
		logger.Info("message sent",
			zap.Int64("id", msg.ID),
			zap.Int("attempt", msg.RetryCount),
			zap.Duration("took", time.Since(start)))
		if lateCancel {
			d.recorder.Record(&store.AuditEvent{
				Type:     audit.EventCancelAfterSend,
				Severity: store.AuditWarning,
				Payload:  map[string]any{"messageId": msg.ID},
			})
		}
		return
	}

	classified := transmit.Classify(sendErr)
	if classified.Kind == transmit.KindTerminal {
		if err := d.store.CommitFailed(ctx, msg.ID, classified.Sub); err != nil {
			logger.Error("failed to commit failure", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		d.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusFailed)).Inc()
		logger.Warn("message failed permanently",
			zap.Int64("id", msg.ID), zap.String("error", classified.Error()))
		return
	}

	delay := Backoff(msg.RetryStrategy, msg.Priority, msg.RetryCount)
	outcome, err := d.store.CommitRetry(ctx, msg.ID, time.Now().Add(delay), classified.Sub)
	if err != nil {
		logger.Error("failed to commit retry", zap.Int64("id", msg.ID), zap.Error(err))
		return
	}

	switch outcome {
	case sms.StatusCancelled:
		// A cancel intent raised during the attempt settles the row
		// instead of rescheduling it.
		d.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusCancelled)).Inc()
		d.recorder.Record(&store.AuditEvent{
			Type:     audit.EventCancelled,
			Severity: store.AuditInfo,
			Payload:  map[string]any{"messageId": msg.ID, "stage": "mid-send"},
		})
		logger.Info("message cancelled during attempt", zap.Int64("id", msg.ID))
		return
	case sms.StatusFailed:
		d.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusFailed)).Inc()
		logger.Warn("retries exhausted",
			zap.Int64("id", msg.ID),
			zap.Int("retries", msg.RetryCount),
			zap.String("error", classified.Error()))
		return
	}

	d.metrics.RetriesTotal.WithLabelValues(string(msg.RetryStrategy)).Inc()
	logger.Info("retry scheduled",
		zap.Int64("id", msg.ID),
		zap.Int("attempt", msg.RetryCount+1),
		zap.Duration("delay", delay),
		zap.String("error", classified.Error()))
}
