package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Automation     AutomationConfig
	Broadcast      BroadcastConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	RunMigrations  bool   `mapstructure:"run_migrations"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	EventTopic string   `mapstructure:"event_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AutomationConfig drives the deadline sweep. Dedup windows are deliberately plain
// configuration rather than values derived from the sweep schedule; an operator who
// changes the cadence is expected to revisit the windows in the same edit.
type AutomationConfig struct {
	SweepSchedule   string            `mapstructure:"sweep_schedule"`
	WorkerCount     int               `mapstructure:"worker_count"`
	UnitTimeout     time.Duration     `mapstructure:"unit_timeout"`
	DedupWindows    DedupWindowConfig `mapstructure:"dedup_windows"`
	DeadlineOffsets []int             `mapstructure:"deadline_offsets"`
}

type DedupWindowConfig struct {
	SLABreach           time.Duration `mapstructure:"sla_breach"`
	DeadlineApproaching time.Duration `mapstructure:"deadline_approaching"`
	Overdue             time.Duration `mapstructure:"overdue"`
}

// BroadcastConfig drives the dispatch fan-out. UnitTimeout bounds each store
// call during a dispatch so one hung connection fails that channel instead of
// stalling the whole broadcast.
type BroadcastConfig struct {
	FanoutConcurrency int             `mapstructure:"fanout_concurrency"`
	UnitTimeout       time.Duration   `mapstructure:"unit_timeout"`
	ClaimSchedule     string          `mapstructure:"claim_schedule"`
	ClaimBatchSize    int             `mapstructure:"claim_batch_size"`
	Push              PushConfig      `mapstructure:"push"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
}

type PushConfig struct {
	GatewayURL  string        `mapstructure:"gateway_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
