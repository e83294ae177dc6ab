package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`

	// Database
	DatabasePath   string `envconfig:"DATABASE_PATH" default:"data/gateway.db"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	// Scheduler
	TickPeriod time.Duration `envconfig:"TICK_PERIOD" default:"1s"`
	ClaimBatch int           `envconfig:"CLAIM_BATCH" default:"32"`

	// Dispatcher
	Workers       int           `envconfig:"WORKERS" default:"4"`
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`

	// Rate limiting (requests per window per client)
	RequestLimit  int           `envconfig:"RATE_REQUEST_LIMIT" default:"100"`
	RequestWindow time.Duration `envconfig:"RATE_REQUEST_WINDOW" default:"1h"`
	AuthLimit     int           `envconfig:"RATE_AUTH_LIMIT" default:"10"`
	AuthWindow    time.Duration `envconfig:"RATE_AUTH_WINDOW" default:"1h"`
	AdminLimit    int           `envconfig:"RATE_ADMIN_LIMIT" default:"30"`
	AdminWindow   time.Duration `envconfig:"RATE_ADMIN_WINDOW" default:"1h"`

	// Audit
	AuditQueueSize int `envconfig:"AUDIT_QUEUE_SIZE" default:"1024"`

	// Retention
	RetentionDays     int           `envconfig:"RETENTION_DAYS" default:"90"`
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"24h"`

	// Mock transmitter (used until a real modem is wired in)
	MockSuccessRate  float64       `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	MockTempFailRate float64       `envconfig:"MOCK_TEMP_FAIL_RATE" default:"0.03"`
	MockLatency      time.Duration `envconfig:"MOCK_LATENCY" default:"100ms"`

	// Observability
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
