package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfig builds the configuration from defaults and overrides provided
// via environment variables.
func LoadConfig() (*Config, error) {
	config := defaultConfig()

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9300,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConnections:    25,
			ConnectionTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:             30 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			UserAgent:           "newswatch/1.0 (+https://newswatch.example.com/bot)",
			HostRateInterval:    2 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 5.0,
			JitterFactor:  0.1,
		},
		Scheduler: SchedulerConfig{
			TickInterval:       60 * time.Second,
			MaxConcurrentFeeds: 10,
			ErrorThreshold:     10,
			MaxBackoff:         6 * time.Hour,
		},
		AutoAnalysis: AutoAnalysisConfig{
			TickInterval:    30 * time.Second,
			MaxItemsPerJob:  50,
			MaxDailyPerFeed: 10,
		},
		Analysis: AnalysisConfig{
			MaxConcurrentRuns: 6,
			PerRunWorkers:     4,
			MaxDailyRuns:      300,
			MaxDailyAutoRuns:  1000,
			MaxHourlyRuns:     50,
			RatePerSecond:     1.5,
			BatchLimit:        200,
			MaxBatchLimit:     5000,
			DefaultModelTag:   "gemma3:4b",
			AutoModelTag:      "gemma3:4b",
		},
		LLM: LLMConfig{
			Host:           "http://news-analyzer:11434",
			APIPath:        "/api/analyze",
			HealthPath:     "/health",
			Timeout:        60 * time.Second,
			MaxPromptChars: 24000,
		},
		FeatureFlags: FeatureFlagsConfig{
			WindowSize:          100,
			MinSamples:          20,
			ErrorRateThreshold:  0.05,
			LatencyFactor:       1.5,
			ConsecutiveFailures: 3,
			BaselineWindow:      time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			Port:              9301,
			Path:              "/metrics",
			ReadHeaderTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadFromEnv(config *Config) error {
	if err := loadServerConfig(&config.Server); err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	if err := loadDatabaseConfig(&config.Database); err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}

	if err := loadHTTPConfig(&config.HTTP); err != nil {
		return fmt.Errorf("failed to load HTTP config: %w", err)
	}

	if err := loadRetryConfig(&config.Retry); err != nil {
		return fmt.Errorf("failed to load retry config: %w", err)
	}

	if err := loadSchedulerConfig(&config.Scheduler); err != nil {
		return fmt.Errorf("failed to load scheduler config: %w", err)
	}

	if err := loadAutoAnalysisConfig(&config.AutoAnalysis); err != nil {
		return fmt.Errorf("failed to load auto-analysis config: %w", err)
	}

	if err := loadAnalysisConfig(&config.Analysis); err != nil {
		return fmt.Errorf("failed to load analysis config: %w", err)
	}

	if err := loadLLMConfig(&config.LLM); err != nil {
		return fmt.Errorf("failed to load LLM config: %w", err)
	}

	if err := loadFeatureFlagsConfig(&config.FeatureFlags); err != nil {
		return fmt.Errorf("failed to load feature flags config: %w", err)
	}

	if err := loadMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("failed to load metrics config: %w", err)
	}

	loadLoggingConfig(&config.Logging)

	return nil
}

func loadServerConfig(cfg *ServerConfig) error {
	var err error

	if cfg.Port, err = parseIntEnv("SERVER_PORT", cfg.Port); err != nil {
		return err
	}

	if cfg.ShutdownTimeout, err = parseDurationEnv("SERVER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}

	if cfg.ReadTimeout, err = parseDurationEnv("SERVER_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return err
	}

	if cfg.WriteTimeout, err = parseDurationEnv("SERVER_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return err
	}

	return nil
}

func loadDatabaseConfig(cfg *DatabaseConfig) error {
	var err error

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.URL = url
	}

	if cfg.MaxConnections, err = parseIntEnv("DB_MAX_CONNECTIONS", cfg.MaxConnections); err != nil {
		return err
	}

	if cfg.ConnectionTimeout, err = parseDurationEnv("DB_CONNECTION_TIMEOUT", cfg.ConnectionTimeout); err != nil {
		return err
	}

	return nil
}

func loadHTTPConfig(cfg *HTTPConfig) error {
	var err error

	if cfg.Timeout, err = parseDurationEnv("HTTP_TIMEOUT", cfg.Timeout); err != nil {
		return err
	}

	if cfg.MaxIdleConns, err = parseIntEnv("HTTP_MAX_IDLE_CONNS", cfg.MaxIdleConns); err != nil {
		return err
	}

	if cfg.MaxIdleConnsPerHost, err = parseIntEnv("HTTP_MAX_IDLE_CONNS_PER_HOST", cfg.MaxIdleConnsPerHost); err != nil {
		return err
	}

	if cfg.IdleConnTimeout, err = parseDurationEnv("HTTP_IDLE_CONN_TIMEOUT", cfg.IdleConnTimeout); err != nil {
		return err
	}

	if cfg.TLSHandshakeTimeout, err = parseDurationEnv("HTTP_TLS_HANDSHAKE_TIMEOUT", cfg.TLSHandshakeTimeout); err != nil {
		return err
	}

	if agent := os.Getenv("HTTP_USER_AGENT"); agent != "" {
		cfg.UserAgent = agent
	}

	if cfg.HostRateInterval, err = parseDurationEnv("HTTP_HOST_RATE_INTERVAL", cfg.HostRateInterval); err != nil {
		return err
	}

	return nil
}

func loadRetryConfig(cfg *RetryConfig) error {
	var err error

	if cfg.MaxAttempts, err = parseIntEnv("RETRY_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return err
	}

	if cfg.BaseDelay, err = parseDurationEnv("RETRY_BASE_DELAY", cfg.BaseDelay); err != nil {
		return err
	}

	if cfg.MaxDelay, err = parseDurationEnv("RETRY_MAX_DELAY", cfg.MaxDelay); err != nil {
		return err
	}

	if cfg.BackoffFactor, err = parseFloatEnv("RETRY_BACKOFF_FACTOR", cfg.BackoffFactor); err != nil {
		return err
	}

	if cfg.JitterFactor, err = parseFloatEnv("RETRY_JITTER_FACTOR", cfg.JitterFactor); err != nil {
		return err
	}

	return nil
}

func loadSchedulerConfig(cfg *SchedulerConfig) error {
	var err error

	if cfg.TickInterval, err = parseDurationEnv("SCHEDULER_TICK_SECONDS", cfg.TickInterval); err != nil {
		return err
	}

	if cfg.MaxConcurrentFeeds, err = parseIntEnv("MAX_CONCURRENT_FEEDS", cfg.MaxConcurrentFeeds); err != nil {
		return err
	}

	if cfg.ErrorThreshold, err = parseIntEnv("SCHEDULER_ERROR_THRESHOLD", cfg.ErrorThreshold); err != nil {
		return err
	}

	if cfg.MaxBackoff, err = parseDurationEnv("SCHEDULER_MAX_BACKOFF", cfg.MaxBackoff); err != nil {
		return err
	}

	return nil
}

func loadAutoAnalysisConfig(cfg *AutoAnalysisConfig) error {
	var err error

	if cfg.TickInterval, err = parseDurationEnv("PROCESSOR_TICK_SECONDS", cfg.TickInterval); err != nil {
		return err
	}

	if cfg.MaxItemsPerJob, err = parseIntEnv("AUTO_ANALYSIS_MAX_ITEMS_PER_JOB", cfg.MaxItemsPerJob); err != nil {
		return err
	}

	if cfg.MaxDailyPerFeed, err = parseIntEnv("AUTO_ANALYSIS_MAX_DAILY_PER_FEED", cfg.MaxDailyPerFeed); err != nil {
		return err
	}

	return nil
}

func loadAnalysisConfig(cfg *AnalysisConfig) error {
	var err error

	if cfg.MaxConcurrentRuns, err = parseIntEnv("MAX_CONCURRENT_RUNS", cfg.MaxConcurrentRuns); err != nil {
		return err
	}

	if cfg.PerRunWorkers, err = parseIntEnv("ANALYSIS_PER_RUN_WORKERS", cfg.PerRunWorkers); err != nil {
		return err
	}

	if cfg.MaxDailyRuns, err = parseIntEnv("MAX_DAILY_RUNS", cfg.MaxDailyRuns); err != nil {
		return err
	}

	if cfg.MaxDailyAutoRuns, err = parseIntEnv("MAX_DAILY_AUTO_RUNS", cfg.MaxDailyAutoRuns); err != nil {
		return err
	}

	if cfg.MaxHourlyRuns, err = parseIntEnv("MAX_HOURLY_RUNS", cfg.MaxHourlyRuns); err != nil {
		return err
	}

	if cfg.RatePerSecond, err = parseFloatEnv("ANALYSIS_RATE_PER_SECOND", cfg.RatePerSecond); err != nil {
		return err
	}

	if cfg.BatchLimit, err = parseIntEnv("ANALYSIS_BATCH_LIMIT", cfg.BatchLimit); err != nil {
		return err
	}

	if cfg.MaxBatchLimit, err = parseIntEnv("ANALYSIS_MAX_BATCH_LIMIT", cfg.MaxBatchLimit); err != nil {
		return err
	}

	if tag := os.Getenv("DEFAULT_MODEL_TAG"); tag != "" {
		cfg.DefaultModelTag = tag
	}

	if tag := os.Getenv("AUTO_MODEL_TAG"); tag != "" {
		cfg.AutoModelTag = tag
	}

	return nil
}

func loadLLMConfig(cfg *LLMConfig) error {
	var err error

	if host := os.Getenv("LLM_HOST"); host != "" {
		cfg.Host = host
	}

	if path := os.Getenv("LLM_API_PATH"); path != "" {
		cfg.APIPath = path
	}

	if path := os.Getenv("LLM_HEALTH_PATH"); path != "" {
		cfg.HealthPath = path
	}

	if cfg.Timeout, err = parseDurationEnv("LLM_TIMEOUT_SECONDS", cfg.Timeout); err != nil {
		return err
	}

	if cfg.MaxPromptChars, err = parseIntEnv("LLM_MAX_PROMPT_CHARS", cfg.MaxPromptChars); err != nil {
		return err
	}

	return nil
}

func loadFeatureFlagsConfig(cfg *FeatureFlagsConfig) error {
	var err error

	if cfg.WindowSize, err = parseIntEnv("FEATURE_FLAG_WINDOW_SIZE", cfg.WindowSize); err != nil {
		return err
	}

	if cfg.MinSamples, err = parseIntEnv("FEATURE_FLAG_MIN_SAMPLES", cfg.MinSamples); err != nil {
		return err
	}

	if cfg.ErrorRateThreshold, err = parseFloatEnv("FEATURE_FLAG_ERROR_RATE_THRESHOLD", cfg.ErrorRateThreshold); err != nil {
		return err
	}

	if cfg.LatencyFactor, err = parseFloatEnv("FEATURE_FLAG_LATENCY_FACTOR", cfg.LatencyFactor); err != nil {
		return err
	}

	if cfg.ConsecutiveFailures, err = parseIntEnv("FEATURE_FLAG_CONSECUTIVE_FAILURES", cfg.ConsecutiveFailures); err != nil {
		return err
	}

	if cfg.BaselineWindow, err = parseDurationEnv("FEATURE_FLAG_BASELINE_WINDOW", cfg.BaselineWindow); err != nil {
		return err
	}

	return nil
}

func loadMetricsConfig(cfg *MetricsConfig) error {
	var err error

	if cfg.Enabled, err = parseBoolEnv("METRICS_ENABLED", cfg.Enabled); err != nil {
		return err
	}

	if cfg.Port, err = parseIntEnv("METRICS_PORT", cfg.Port); err != nil {
		return err
	}

	if path := os.Getenv("METRICS_PATH"); path != "" {
		cfg.Path = path
	}

	if cfg.ReadHeaderTimeout, err = parseDurationEnv("METRICS_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout); err != nil {
		return err
	}

	return nil
}

func loadLoggingConfig(cfg *LoggingConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}

	if enable := os.Getenv("LOG_ENABLE_OTEL"); enable != "" {
		cfg.EnableOTel = enable == "true"
	}
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		// Bare integers are treated as seconds for compatibility with
		// *_SECONDS style variables.
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second, nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return d, nil
	}
	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return i, nil
	}
	return defaultValue, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %s", key, value)
		}
		return b, nil
	}
	return defaultValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		return f, nil
	}
	return defaultValue, nil
}
