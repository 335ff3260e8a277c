package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig
	Graph     GraphConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Host      HostMonitorConfig
	Otel      OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"3600s"` // long for the SSE change stream
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	BodyLimit       string        `env:"SERVER_BODY_LIMIT" envDefault:"8M"` // embeddings inflate payloads
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string        `env:"DATABASE_URL"`
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"emergent"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"emergent"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MinConns     int           `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	MaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins when set.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// GraphConfig tunes the graph store.
type GraphConfig struct {
	// WriteRetries bounds how often a write that lost a version race is replayed.
	WriteRetries int `env:"GRAPH_WRITE_RETRIES" envDefault:"3"`

	// RequireSchema rejects writes of types with no registered schema.
	// When false such types are stored unvalidated and treated as many_to_many.
	RequireSchema bool `env:"GRAPH_REQUIRE_SCHEMA" envDefault:"false"`

	// Hard ceilings for traversal requests; requests asking for more are clamped.
	TraverseMaxDepth int `env:"GRAPH_TRAVERSE_MAX_DEPTH" envDefault:"8"`
	TraverseMaxNodes int `env:"GRAPH_TRAVERSE_MAX_NODES" envDefault:"500"`

	LexicalWeight float32 `env:"GRAPH_SEARCH_LEXICAL_WEIGHT" envDefault:"0.5"`
	VectorWeight  float32 `env:"GRAPH_SEARCH_VECTOR_WEIGHT" envDefault:"0.5"`
	VectorProbes  int     `env:"GRAPH_VECTOR_PROBES" envDefault:"10"`

	// EmbeddingDimension must match the vector column in the migrations.
	EmbeddingDimension int `env:"GRAPH_EMBEDDING_DIMENSION" envDefault:"768"`
}

// RedisConfig configures the schema cache invalidation bus.
// With an empty URL invalidation stays in-process.
type RedisConfig struct {
	URL     string `env:"REDIS_URL" envDefault:""`
	Channel string `env:"SCHEMA_INVALIDATION_CHANNEL" envDefault:"graph:schema:invalidate"`
}

// Enabled returns true when a redis URL is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// RateLimitConfig bounds write throughput per project.
type RateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`
}

// SchedulerConfig controls background tasks.
type SchedulerConfig struct {
	Enabled       bool   `env:"SCHEDULER_ENABLED" envDefault:"true"`
	AuditSchedule string `env:"AUDIT_SCHEDULE" envDefault:"0 17 3 * * *"`
}

// HostMonitorConfig controls sampling of host pressure for the readiness probe.
type HostMonitorConfig struct {
	Enabled  bool          `env:"HOST_MONITOR_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"HOST_MONITOR_INTERVAL" envDefault:"30s"`
}

// OtelConfig configures span export. With no endpoint spans go to a no-op provider.
type OtelConfig struct {
	ExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"emergent-graph"`
	SamplingRate     float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
	Insecure         bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Enabled returns true when an OTLP endpoint is configured.
func (c OtelConfig) Enabled() bool {
	return c.ExporterEndpoint != ""
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Int("write_retries", cfg.Graph.WriteRetries),
		slog.Bool("redis", cfg.Redis.Enabled()),
	)

	return cfg, nil
}

// Validate rejects settings the graph store cannot run with.
func (c *Config) Validate() error {
	if c.Graph.WriteRetries < 0 {
		return fmt.Errorf("GRAPH_WRITE_RETRIES must be >= 0, got %d", c.Graph.WriteRetries)
	}
	if c.Graph.TraverseMaxDepth < 1 {
		return fmt.Errorf("GRAPH_TRAVERSE_MAX_DEPTH must be >= 1, got %d", c.Graph.TraverseMaxDepth)
	}
	if c.Graph.TraverseMaxNodes < 1 {
		return fmt.Errorf("GRAPH_TRAVERSE_MAX_NODES must be >= 1, got %d", c.Graph.TraverseMaxNodes)
	}
	if c.Graph.EmbeddingDimension < 1 {
		return fmt.Errorf("GRAPH_EMBEDDING_DIMENSION must be >= 1, got %d", c.Graph.EmbeddingDimension)
	}
	if c.Otel.SamplingRate < 0 || c.Otel.SamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be within [0, 1], got %g", c.Otel.SamplingRate)
	}
	if c.Host.Enabled && c.Host.Interval <= 0 {
		return fmt.Errorf("HOST_MONITOR_INTERVAL must be positive, got %s", c.Host.Interval)
	}
	return nil
}
