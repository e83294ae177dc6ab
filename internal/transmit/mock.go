package transmit

import (
	"context"
	"crypto/md5"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mock is the development transmitter. Outcomes derive from a hash of the
// destination number so runs are deterministic, and individual numbers can
// be scripted for tests.
type Mock struct {
	logger       *zap.Logger
	successRate  float64
	tempFailRate float64
	latency      time.Duration

	mu       sync.Mutex
	scripted map[string][]error
	sent     []string
}

func NewMock(logger *zap.Logger, successRate, tempFailRate float64, latency time.Duration) *Mock {
	return &Mock{
		logger:       logger,
		successRate:  successRate,
		tempFailRate: tempFailRate,
		latency:      latency,
		scripted:     make(map[string][]error),
	}
}

// Script queues outcomes for a number; each Send consumes one. A nil entry
// means success.
func (m *Mock) Script(phoneNumber string, outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[phoneNumber] = append(m.scripted[phoneNumber], outcomes...)
}

// Sent returns the numbers successfully transmitted to, in order.
func (m *Mock) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *Mock) Send(ctx context.Context, phoneNumber, content string) error {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if queue, ok := m.scripted[phoneNumber]; ok && len(queue) > 0 {
		next := queue[0]
		m.scripted[phoneNumber] = queue[1:]
		if next == nil {
			m.sent = append(m.sent, phoneNumber)
		}
		m.mu.Unlock()
		return next
	}
	m.mu.Unlock()

	outcome := m.determineOutcome(phoneNumber, content)
	if outcome == nil {
		m.mu.Lock()
		m.sent = append(m.sent, phoneNumber)
		m.mu.Unlock()
		m.logger.Debug("mock transmitter: sent", zap.String("to", phoneNumber))
	} else {
		m.logger.Debug("mock transmitter: failed", zap.String("to", phoneNumber), zap.Error(outcome))
	}
	return outcome
}

func (m *Mock) SimState(ctx context.Context) SimState { return SimReady }

func (m *Mock) determineOutcome(phoneNumber, content string) error {
	hash := md5.Sum([]byte(phoneNumber + content))
	value := float64(hash[0]) / 255.0

	switch {
	case value < m.successRate:
		return nil
	case value < m.successRate+m.tempFailRate:
		return Retryable(SubNetwork, errors.New("network unavailable"))
	default:
		return Terminal(SubInvalidNumber, errors.New("number rejected by network"))
	}
}
