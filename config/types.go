// ABOUTME: This file defines configuration types for the newswatch control-plane
// ABOUTME: Provides env-backed sections with defaults for every tunable
package config

import "time"

type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	HTTP         HTTPConfig         `json:"http"`
	Retry        RetryConfig        `json:"retry"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	AutoAnalysis AutoAnalysisConfig `json:"auto_analysis"`
	Analysis     AnalysisConfig     `json:"analysis"`
	LLM          LLMConfig          `json:"llm"`
	FeatureFlags FeatureFlagsConfig `json:"feature_flags"`
	Metrics      MetricsConfig      `json:"metrics"`
	Logging      LoggingConfig      `json:"logging"`
}

type ServerConfig struct {
	Port            int           `json:"port" env:"SERVER_PORT" default:"9300"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"60s"`
}

type DatabaseConfig struct {
	URL               string        `json:"url" env:"DATABASE_URL"`
	MaxConnections    int           `json:"max_connections" env:"DB_MAX_CONNECTIONS" default:"25"`
	ConnectionTimeout time.Duration `json:"connection_timeout" env:"DB_CONNECTION_TIMEOUT" default:"30s"`
}

type HTTPConfig struct {
	Timeout             time.Duration `json:"timeout" env:"HTTP_TIMEOUT" default:"30s"`
	MaxIdleConns        int           `json:"max_idle_conns" env:"HTTP_MAX_IDLE_CONNS" default:"100"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" env:"HTTP_MAX_IDLE_CONNS_PER_HOST" default:"2"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" env:"HTTP_IDLE_CONN_TIMEOUT" default:"90s"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout" env:"HTTP_TLS_HANDSHAKE_TIMEOUT" default:"10s"`
	UserAgent           string        `json:"user_agent" env:"HTTP_USER_AGENT" default:"newswatch/1.0 (+https://newswatch.example.com/bot)"`
	HostRateInterval    time.Duration `json:"host_rate_interval" env:"HTTP_HOST_RATE_INTERVAL" default:"2s"`
}

type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" env:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay     time.Duration `json:"base_delay" env:"RETRY_BASE_DELAY" default:"100ms"`
	MaxDelay      time.Duration `json:"max_delay" env:"RETRY_MAX_DELAY" default:"2s"`
	BackoffFactor float64       `json:"backoff_factor" env:"RETRY_BACKOFF_FACTOR" default:"5.0"`
	JitterFactor  float64       `json:"jitter_factor" env:"RETRY_JITTER_FACTOR" default:"0.1"`
}

type SchedulerConfig struct {
	TickInterval       time.Duration `json:"tick_interval" env:"SCHEDULER_TICK_SECONDS" default:"60s"`
	MaxConcurrentFeeds int           `json:"max_concurrent_feeds" env:"MAX_CONCURRENT_FEEDS" default:"10"`
	ErrorThreshold     int           `json:"error_threshold" env:"SCHEDULER_ERROR_THRESHOLD" default:"10"`
	MaxBackoff         time.Duration `json:"max_backoff" env:"SCHEDULER_MAX_BACKOFF" default:"6h"`
}

type AutoAnalysisConfig struct {
	TickInterval    time.Duration `json:"tick_interval" env:"PROCESSOR_TICK_SECONDS" default:"30s"`
	MaxItemsPerJob  int           `json:"max_items_per_job" env:"AUTO_ANALYSIS_MAX_ITEMS_PER_JOB" default:"50"`
	MaxDailyPerFeed int           `json:"max_daily_per_feed" env:"AUTO_ANALYSIS_MAX_DAILY_PER_FEED" default:"10"`
}

type AnalysisConfig struct {
	MaxConcurrentRuns int     `json:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS" default:"6"`
	PerRunWorkers     int     `json:"per_run_workers" env:"ANALYSIS_PER_RUN_WORKERS" default:"4"`
	MaxDailyRuns      int     `json:"max_daily_runs" env:"MAX_DAILY_RUNS" default:"300"`
	MaxDailyAutoRuns  int     `json:"max_daily_auto_runs" env:"MAX_DAILY_AUTO_RUNS" default:"1000"`
	MaxHourlyRuns     int     `json:"max_hourly_runs" env:"MAX_HOURLY_RUNS" default:"50"`
	RatePerSecond     float64 `json:"rate_per_second" env:"ANALYSIS_RATE_PER_SECOND" default:"1.5"`
	BatchLimit        int     `json:"batch_limit" env:"ANALYSIS_BATCH_LIMIT" default:"200"`
	MaxBatchLimit     int     `json:"max_batch_limit" env:"ANALYSIS_MAX_BATCH_LIMIT" default:"5000"`
	DefaultModelTag   string  `json:"default_model_tag" env:"DEFAULT_MODEL_TAG" default:"gemma3:4b"`
	AutoModelTag      string  `json:"auto_model_tag" env:"AUTO_MODEL_TAG" default:"gemma3:4b"`
}

type LLMConfig struct {
	Host           string        `json:"host" env:"LLM_HOST" default:"http://news-analyzer:11434"`
	APIPath        string        `json:"api_path" env:"LLM_API_PATH" default:"/api/analyze"`
	HealthPath     string        `json:"health_path" env:"LLM_HEALTH_PATH" default:"/health"`
	Timeout        time.Duration `json:"timeout" env:"LLM_TIMEOUT_SECONDS" default:"60s"`
	MaxPromptChars int           `json:"max_prompt_chars" env:"LLM_MAX_PROMPT_CHARS" default:"24000"`
}

type FeatureFlagsConfig struct {
	WindowSize          int           `json:"window_size" env:"FEATURE_FLAG_WINDOW_SIZE" default:"100"`
	MinSamples          int           `json:"min_samples" env:"FEATURE_FLAG_MIN_SAMPLES" default:"20"`
	ErrorRateThreshold  float64       `json:"error_rate_threshold" env:"FEATURE_FLAG_ERROR_RATE_THRESHOLD" default:"0.05"`
	LatencyFactor       float64       `json:"latency_factor" env:"FEATURE_FLAG_LATENCY_FACTOR" default:"1.5"`
	ConsecutiveFailures int           `json:"consecutive_failures" env:"FEATURE_FLAG_CONSECUTIVE_FAILURES" default:"3"`
	BaselineWindow      time.Duration `json:"baseline_window" env:"FEATURE_FLAG_BASELINE_WINDOW" default:"1h"`
}

type MetricsConfig struct {
	Enabled           bool          `json:"enabled" env:"METRICS_ENABLED" default:"true"`
	Port              int           `json:"port" env:"METRICS_PORT" default:"9301"`
	Path              string        `json:"path" env:"METRICS_PATH" default:"/metrics"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"METRICS_READ_HEADER_TIMEOUT" default:"5s"`
}

type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	EnableOTel bool   `json:"enable_otel" env:"LOG_ENABLE_OTEL" default:"false"`
}
