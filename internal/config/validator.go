package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateAutomation(cfg.Automation); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroadcast(cfg.Broadcast); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", cfg.Port)}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "postgres host is required"}
	}
	if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
		return &ValidationError{Field: "database.postgres.port", Message: fmt.Sprintf("invalid port %d", cfg.Postgres.Port)}
	}
	return nil
}

func validateAutomation(cfg AutomationConfig) error {
	if cfg.WorkerCount <= 0 {
		return &ValidationError{Field: "automation.worker_count", Message: "worker count must be positive"}
	}
	if cfg.UnitTimeout <= 0 {
		return &ValidationError{Field: "automation.unit_timeout", Message: "unit timeout must be positive"}
	}
	if cfg.DedupWindows.SLABreach <= 0 || cfg.DedupWindows.DeadlineApproaching <= 0 || cfg.DedupWindows.Overdue <= 0 {
		return &ValidationError{Field: "automation.dedup_windows", Message: "dedup windows must be positive"}
	}
	for _, offset := range cfg.DeadlineOffsets {
		if offset < 0 {
			return &ValidationError{Field: "automation.deadline_offsets", Message: fmt.Sprintf("negative offset %d", offset)}
		}
	}
	return nil
}

func validateBroadcast(cfg BroadcastConfig) error {
	if cfg.FanoutConcurrency <= 0 {
		return &ValidationError{Field: "broadcast.fanout_concurrency", Message: "fanout concurrency must be positive"}
	}
	if cfg.UnitTimeout <= 0 {
		return &ValidationError{Field: "broadcast.unit_timeout", Message: "unit timeout must be positive"}
	}
	if cfg.ClaimBatchSize <= 0 {
		return &ValidationError{Field: "broadcast.claim_batch_size", Message: "claim batch size must be positive"}
	}
	return nil
}
