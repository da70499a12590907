package config

import "fmt"

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive: %d", cfg.Database.MaxConnections)
	}

	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive: %d", cfg.Retry.MaxAttempts)
	}

	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry delays out of order: base=%s max=%s", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}

	if cfg.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive: %s", cfg.Scheduler.TickInterval)
	}

	if cfg.Scheduler.MaxConcurrentFeeds < 0 {
		return fmt.Errorf("max concurrent feeds must not be negative: %d", cfg.Scheduler.MaxConcurrentFeeds)
	}

	if cfg.AutoAnalysis.MaxItemsPerJob <= 0 {
		return fmt.Errorf("auto-analysis max items per job must be positive: %d", cfg.AutoAnalysis.MaxItemsPerJob)
	}

	if cfg.Analysis.MaxConcurrentRuns < 0 {
		return fmt.Errorf("max concurrent runs must not be negative: %d", cfg.Analysis.MaxConcurrentRuns)
	}

	if cfg.Analysis.PerRunWorkers <= 0 {
		return fmt.Errorf("per-run workers must be positive: %d", cfg.Analysis.PerRunWorkers)
	}

	if cfg.Analysis.RatePerSecond <= 0 {
		return fmt.Errorf("analysis rate per second must be positive: %f", cfg.Analysis.RatePerSecond)
	}

	if cfg.Analysis.BatchLimit <= 0 || cfg.Analysis.BatchLimit > cfg.Analysis.MaxBatchLimit {
		return fmt.Errorf("analysis batch limit out of range: %d (max %d)", cfg.Analysis.BatchLimit, cfg.Analysis.MaxBatchLimit)
	}

	if cfg.Analysis.DefaultModelTag == "" {
		return fmt.Errorf("default model tag must not be empty")
	}

	if cfg.LLM.Host == "" {
		return fmt.Errorf("LLM host must not be empty")
	}

	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive: %s", cfg.LLM.Timeout)
	}

	if cfg.FeatureFlags.ErrorRateThreshold < 0 || cfg.FeatureFlags.ErrorRateThreshold > 1 {
		return fmt.Errorf("feature flag error rate threshold out of [0,1]: %f", cfg.FeatureFlags.ErrorRateThreshold)
	}

	return nil
}
