// Package scheduler is the single logical actor that promotes due messages
// out of the store and feeds the dispatcher's bounded channel.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/dispatch"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/store"

	"go.uber.org/zap"
)

// Sink is where claimed tasks go; satisfied by *dispatch.Dispatcher.
type Sink interface {
	TryEnqueue(t dispatch.Task) bool
}

type Scheduler struct {
	store    *store.Store
	sink     Sink
	recorder *audit.Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger

	tick  time.Duration
	batch int

	paused atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(st *store.Store, sink Sink, recorder *audit.Recorder, metrics *observability.Metrics, logger *zap.Logger, tick time.Duration, batch int) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if batch < 1 {
		batch = 32
	}
	return &Scheduler{
		store:    st,
		sink:     sink,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		tick:     tick,
		batch:    batch,
	}
}

// Start runs store recovery and launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx)
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.tick), zap.Int("batch", s.batch))
	return nil
}

// Stop lets the in-flight tick finish before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Pause()       { s.paused.Store(true) }
func (s *Scheduler) Resume()      { s.paused.Store(false) }
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// recover resets rows a previous process left mid-flight and audits the
// ones whose send outcome was lost.
func (s *Scheduler) recover(ctx context.Context) error {
	recovered, err := s.store.RecoverStartup(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, id := range recovered {
		s.recorder.RecordSync(ctx, &store.AuditEvent{
			Type:     audit.EventRecoveredInFlight,
			Severity: store.AuditWarning,
			Payload:  map[string]any{"messageId": id},
		})
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			// A full batch means more rows are likely due; re-tick
			// immediately instead of sleeping out the period.
			for s.tickOnce(ctx) == s.batch {
				if ctx.Err() != nil || s.paused.Load() {
					break
				}
			}
			s.observeDepth(ctx)
		}
	}
}

// tickOnce claims one batch of due rows and offers them to the dispatcher
// in order. On a full channel the remaining claims are released and the
// tick ends early.
func (s *Scheduler) tickOnce(ctx context.Context) int {
	claimed, err := s.store.ClaimDueForScheduling(ctx, time.Now(), s.batch)
	if err != nil {
		s.logger.Error("claim failed", zap.Error(err))
		return 0
	}
	s.metrics.ClaimBatchSize.Observe(float64(len(claimed)))
	if len(claimed) == 0 {
		return 0
	}

	for i, msg := range claimed {
		if s.sink.TryEnqueue(dispatch.Task{Msg: msg}) {
			continue
		}
		// Backpressure: give the rest of the batch back.
		rest := make([]int64, 0, len(claimed)-i)
		for _, m := range claimed[i:] {
			rest = append(rest, m.ID)
		}
		if err := s.store.ReleaseClaim(ctx, rest); err != nil {
			s.logger.Error("failed to release claims under backpressure", zap.Error(err))
		}
		s.logger.Debug("dispatch channel full, released remaining claims",
			zap.Int("published", i), zap.Int("released", len(rest)))
		return i
	}
	return len(claimed)
}

func (s *Scheduler) observeDepth(ctx context.Context) {
	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		return
	}
	s.metrics.QueueDepth.Set(float64(depth))
}
