package transmit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBreakerOpen reports a send short-circuited by the circuit breaker.
// It classifies as retryable so the message stays in the retry loop.
var ErrBreakerOpen = errors.New("transmitter circuit open")

// Breaker wraps a Transmitter with a circuit breaker so a dead modem or
// upstream outage fails fast instead of burning the worker pool on
// timeouts. Terminal errors do not trip it; they are message-specific.
type Breaker struct {
	inner Transmitter
	cb    *gobreaker.CircuitBreaker
}

func NewBreaker(inner Transmitter, logger *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:    "transmitter",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("transmitter breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Send(ctx context.Context, phoneNumber, content string) error {
	result, err := b.cb.Execute(func() (any, error) {
		err := b.inner.Send(ctx, phoneNumber, content)
		var te *Error
		if errors.As(err, &te) && te.Kind == KindTerminal {
			// Count message-level rejections as breaker successes.
			return te, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Retryable(SubNoService, ErrBreakerOpen)
	}
	if err != nil {
		return err
	}
	if te, ok := result.(*Error); ok {
		return te
	}
	return nil
}

func (b *Breaker) SimState(ctx context.Context) SimState { return b.inner.SimState(ctx) }
