package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`
	Features FeaturesConfig `mapstructure:"features"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Store    StoreConfig    `mapstructure:"store"`
}

type SecurityConfig struct {
	// EncryptionKey protects per-task GitHub tokens at rest. Empty disables
	// token persistence: tasks submitted with a token then fall back to the
	// service token.
	EncryptionKey  string   `mapstructure:"encryption_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BasePath     string        `mapstructure:"base_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps tasks in
	// process and disables the shared cache tier.
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
	EnableMetrics        bool   `mapstructure:"enable_metrics"`
	EnableStatusStream   bool   `mapstructure:"enable_status_stream"`
}

type GitHubConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxFiles caps how many changed files of one PR are fetched.
	MaxFiles int `mapstructure:"max_files"`
	// FetchConcurrency bounds parallel content downloads per PR.
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

type AgentsConfig struct {
	APIURL              string        `mapstructure:"api_url"`
	APIKey              string        `mapstructure:"api_key"`
	Model               string        `mapstructure:"model"`
	Version             string        `mapstructure:"version"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	ValidatedConfidence float64       `mapstructure:"validated_confidence"`
	RecoveredConfidence float64       `mapstructure:"recovered_confidence"`
}

type AnalysisConfig struct {
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	MaxParallelUnits    int           `mapstructure:"max_parallel_units"`
	GlobalMaxUnits      int           `mapstructure:"global_max_units"`
	MaxFileBytes        int64         `mapstructure:"max_file_bytes"`
	DefaultTypes        []string      `mapstructure:"default_types"`
	FailOrphanedOnStart bool          `mapstructure:"fail_orphaned_on_start"`
	StreamPollInterval  time.Duration `mapstructure:"stream_poll_interval"`
	RecoveryBatchSize   int           `mapstructure:"recovery_batch_size"`
}

type CacheConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	TTL           time.Duration `mapstructure:"ttl"`
	Shared        bool          `mapstructure:"shared"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

type StoreConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "console")
	viper.SetDefault("logger.output_paths", []string{"stdout"})
	viper.SetDefault("logger.error_output_paths", []string{"stderr"})

	viper.SetDefault("features.request_id_header", "X-Request-ID")
	viper.SetDefault("features.enable_request_logging", true)
	viper.SetDefault("features.enable_metrics", true)
	viper.SetDefault("features.enable_status_stream", true)

	viper.SetDefault("github.api_url", "https://api.github.com")
	viper.SetDefault("github.timeout", 60*time.Second)
	viper.SetDefault("github.max_files", 300)
	viper.SetDefault("github.fetch_concurrency", 4)
	viper.SetDefault("github.max_retries", 3)
	viper.SetDefault("github.initial_backoff", 500*time.Millisecond)
	viper.SetDefault("github.max_backoff", 10*time.Second)

	viper.SetDefault("agents.api_url", "https://api.anthropic.com/v1/messages")
	viper.SetDefault("agents.model", "claude-sonnet-4-20250514")
	viper.SetDefault("agents.version", "v1")
	viper.SetDefault("agents.max_tokens", 8192)
	viper.SetDefault("agents.call_timeout", 120*time.Second)
	viper.SetDefault("agents.max_retries", 3)
	viper.SetDefault("agents.initial_backoff", time.Second)
	viper.SetDefault("agents.max_backoff", 30*time.Second)
	viper.SetDefault("agents.requests_per_second", 2.0)
	viper.SetDefault("agents.burst", 4)
	viper.SetDefault("agents.validated_confidence", 0.8)
	viper.SetDefault("agents.recovered_confidence", 0.5)

	viper.SetDefault("analysis.workers", 4)
	viper.SetDefault("analysis.queue_size", 256)
	viper.SetDefault("analysis.max_parallel_units", 4)
	viper.SetDefault("analysis.global_max_units", 16)
	viper.SetDefault("analysis.max_file_bytes", 512*1024)
	viper.SetDefault("analysis.default_types", []string{"style", "bug", "security", "performance"})
	viper.SetDefault("analysis.fail_orphaned_on_start", true)
	viper.SetDefault("analysis.stream_poll_interval", time.Second)
	viper.SetDefault("analysis.recovery_batch_size", 500)

	viper.SetDefault("cache.max_entries", 4096)
	viper.SetDefault("cache.ttl", 7*24*time.Hour)
	viper.SetDefault("cache.shared", true)
	viper.SetDefault("cache.prune_schedule", "@every 1h")

	viper.SetDefault("store.max_retries", 5)
	viper.SetDefault("store.initial_backoff", 50*time.Millisecond)
	viper.SetDefault("store.max_backoff", 2*time.Second)
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("REVIEWD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be positive")
	}
	if c.Analysis.MaxParallelUnits <= 0 {
		return fmt.Errorf("analysis.max_parallel_units must be positive")
	}
	if c.Analysis.GlobalMaxUnits < c.Analysis.MaxParallelUnits {
		return fmt.Errorf("analysis.global_max_units must be >= analysis.max_parallel_units")
	}
	if c.Analysis.MaxFileBytes <= 0 {
		return fmt.Errorf("analysis.max_file_bytes must be positive")
	}
	if c.Agents.RecoveredConfidence >= c.Agents.ValidatedConfidence {
		return fmt.Errorf("agents.recovered_confidence must be below agents.validated_confidence")
	}
	if c.Agents.MaxRetries < 0 || c.Store.MaxRetries < 0 || c.GitHub.MaxRetries < 0 {
		return fmt.Errorf("retry bounds must not be negative")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
