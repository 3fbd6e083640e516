// Package config loads orchestrator configuration from environment
// variables (with typed defaults), optionally layered under a YAML file
// read with viper for operators who prefer files over env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-wide orchestrator configuration. Constructed once
// at startup and passed as an explicit dependency — never a package
// global, per the design notes on global state.
type Config struct {
	// HTTP
	ListenAddr         string
	RateLimitPerMinute int

	// Backend selection
	QueueBackend string // "memory" | "redis"
	StoreBackend string // "sqlite" | "postgres"
	RedisURL     string
	PostgresURL  string
	SQLitePath   string

	// Dispatch engine
	Workers            int
	VisibilityTimeout  time.Duration
	HeartbeatInterval  time.Duration
	ReconcileInterval  time.Duration
	ReconcileGracePeriod time.Duration
	MaxBackoffAttempts int

	// Executor
	AgentTimeout    time.Duration
	CancelGrace     time.Duration
	TmuxBinary      string
	AgentBinaryPath string

	// Conductor
	RunConcurrency int

	// Tiered watcher
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	MultiFailureThreshold int

	// Trail ledger
	TrailHalfLife time.Duration

	// Tenancy
	AuthDisabled bool

	// Workspace root
	WorkspaceRoot  string
	ArtifactRoot   string

	Verbose bool
}

// Load builds a Config from defaults, an optional YAML file, then
// environment variable overrides — in that order, so env vars always win.
func Load(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		if err := mergeFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:            ":8080",
		RateLimitPerMinute:    120,
		QueueBackend:          "memory",
		StoreBackend:          "sqlite",
		SQLitePath:            ".orchestrator/orchestrator.db",
		Workers:               4,
		VisibilityTimeout:     5 * time.Minute,
		HeartbeatInterval:     30 * time.Second,
		ReconcileInterval:     1 * time.Minute,
		ReconcileGracePeriod:  2 * time.Minute,
		MaxBackoffAttempts:    3,
		AgentTimeout:          60 * time.Minute,
		CancelGrace:           5 * time.Second,
		TmuxBinary:            "tmux",
		AgentBinaryPath:       "claude",
		RunConcurrency:        8,
		PollInterval:          30 * time.Second,
		HeartbeatTimeout:      120 * time.Second,
		MultiFailureThreshold: 3,
		TrailHalfLife:         7 * 24 * time.Hour,
		AuthDisabled:          false,
		WorkspaceRoot:         ".orchestrator/workspaces",
		ArtifactRoot:          ".orchestrator/artifacts",
	}
}

func mergeFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return v.Unmarshal(cfg)
}

func applyEnv(cfg *Config) {
	if s := os.Getenv("ORCH_LISTEN_ADDR"); s != "" {
		cfg.ListenAddr = s
	}
	if v, ok := envInt("ORCH_RATE_LIMIT_PER_MINUTE"); ok {
		cfg.RateLimitPerMinute = v
	}
	if s := os.Getenv("ORCH_QUEUE_BACKEND"); s != "" {
		cfg.QueueBackend = s
	}
	if s := os.Getenv("ORCH_STORE_BACKEND"); s != "" {
		cfg.StoreBackend = s
	}
	if s := os.Getenv("ORCH_REDIS_URL"); s != "" {
		cfg.RedisURL = s
	}
	if s := os.Getenv("ORCH_POSTGRES_URL"); s != "" {
		cfg.PostgresURL = s
	}
	if s := os.Getenv("ORCH_SQLITE_PATH"); s != "" {
		cfg.SQLitePath = s
	}
	if v, ok := envInt("ORCH_WORKERS"); ok {
		cfg.Workers = v
	}
	if v, ok := envDuration("ORCH_VISIBILITY_TIMEOUT"); ok {
		cfg.VisibilityTimeout = v
	}
	if v, ok := envDuration("ORCH_HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = v
	}
	if v, ok := envDuration("ORCH_RECONCILE_INTERVAL"); ok {
		cfg.ReconcileInterval = v
	}
	if v, ok := envInt("ORCH_MAX_BACKOFF_ATTEMPTS"); ok {
		cfg.MaxBackoffAttempts = v
	}
	if v, ok := envDuration("ORCH_AGENT_TIMEOUT"); ok {
		cfg.AgentTimeout = v
	}
	if s := os.Getenv("ORCH_TMUX_BINARY"); s != "" {
		cfg.TmuxBinary = s
	}
	if s := os.Getenv("ORCH_AGENT_BINARY_PATH"); s != "" {
		cfg.AgentBinaryPath = s
	}
	if v, ok := envInt("ORCH_RUN_CONCURRENCY"); ok {
		cfg.RunConcurrency = v
	}
	if v, ok := envDuration("ORCH_POLL_INTERVAL"); ok {
		cfg.PollInterval = v
	}
	if v, ok := envDuration("ORCH_HEARTBEAT_TIMEOUT"); ok {
		cfg.HeartbeatTimeout = v
	}
	if v, ok := envInt("ORCH_MULTI_FAILURE_THRESHOLD"); ok {
		cfg.MultiFailureThreshold = v
	}
	if v, ok := envDuration("ORCH_TRAIL_HALF_LIFE"); ok {
		cfg.TrailHalfLife = v
	}
	if s := os.Getenv("ORCH_AUTH_DISABLED"); s != "" {
		cfg.AuthDisabled = s == "true" || s == "1"
	}
	if s := os.Getenv("ORCH_WORKSPACE_ROOT"); s != "" {
		cfg.WorkspaceRoot = s
	}
	if s := os.Getenv("ORCH_ARTIFACT_ROOT"); s != "" {
		cfg.ArtifactRoot = s
	}
	if s := os.Getenv("ORCH_VERBOSE"); s != "" {
		cfg.Verbose = s == "true" || s == "1"
	}
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate rejects nonsensical combinations before the process boots.
func (c *Config) Validate() error {
	if c.QueueBackend != "memory" && c.QueueBackend != "redis" {
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	if c.QueueBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("ORCH_REDIS_URL required when queue backend is redis")
	}
	if c.StoreBackend != "sqlite" && c.StoreBackend != "postgres" {
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.PostgresURL == "" {
		return fmt.Errorf("ORCH_POSTGRES_URL required when store backend is postgres")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("visibility timeout must be > 0")
	}
	return nil
}
