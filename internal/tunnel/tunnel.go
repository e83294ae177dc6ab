// Package tunnel pins the external reachability capability consumed by the
// admin endpoints. The core never depends on it for correctness.
package tunnel

import (
	"sync"

	"go.uber.org/zap"
)

type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusError    Status = "ERROR"
)

type Config struct {
	Provider string `json:"provider"`
	Region   string `json:"region,omitempty"`
}

type Tunnel interface {
	Start(cfg Config) error
	Stop() error
	Status() Status
}

// Noop is the default tunnel used when no supervisor is wired in. It only
// tracks the requested state.
type Noop struct {
	logger *zap.Logger

	mu     sync.Mutex
	status Status
}

func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger, status: StatusInactive}
}

func (n *Noop) Start(cfg Config) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusActive
	n.logger.Info("tunnel started", zap.String("provider", cfg.Provider))
	return nil
}

func (n *Noop) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusInactive
	n.logger.Info("tunnel stopped")
	return nil
}

func (n *Noop) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}
