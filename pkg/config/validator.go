package config

import "fmt"

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}
	if err := v.validateRetry(); err != nil {
		return fmt.Errorf("retry validation failed: %w", err)
	}
	if err := v.validateCircuitBreaker(); err != nil {
		return fmt.Errorf("circuit breaker validation failed: %w", err)
	}
	if err := v.validateSvapna(); err != nil {
		return fmt.Errorf("svapna validation failed: %w", err)
	}
	if err := v.validateReport(); err != nil {
		return fmt.Errorf("report validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if !s.Strategy.Valid() {
		return NewValidationError("scheduler", "strategy", fmt.Errorf("%w: unknown strategy %q", ErrValidationFailed, s.Strategy))
	}
	if s.Coordination.MaxFailures != nil && *s.Coordination.MaxFailures < 0 {
		return NewValidationError("scheduler", "coordination.max_failures", fmt.Errorf("%w: must be >= 0", ErrValidationFailed))
	}
	if s.TickInterval <= 0 {
		return NewValidationError("scheduler", "tick_interval", fmt.Errorf("%w: must be positive", ErrValidationFailed))
	}
	return nil
}

func (v *Validator) validateRetry() error {
	r := v.cfg.Retry
	if r.MaxAttempts < 0 {
		return NewValidationError("retry", "max_attempts", fmt.Errorf("%w: must be >= 0", ErrValidationFailed))
	}
	if r.BaseMs <= 0 || r.CapMs <= 0 || r.BaseMs > r.CapMs {
		return NewValidationError("retry", "base_ms/cap_ms", fmt.Errorf("%w: require 0 < base_ms <= cap_ms", ErrValidationFailed))
	}
	if r.JitterMs < 0 {
		return NewValidationError("retry", "jitter_ms", fmt.Errorf("%w: must be >= 0", ErrValidationFailed))
	}
	return nil
}

func (v *Validator) validateCircuitBreaker() error {
	b := v.cfg.CircuitBreaker
	if b.FailureThreshold < 1 {
		return NewValidationError("circuit_breaker", "failure_threshold", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	if b.CooldownMs < 1 {
		return NewValidationError("circuit_breaker", "cooldown_ms", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	if b.SuccessThreshold < 1 {
		return NewValidationError("circuit_breaker", "success_threshold", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	return nil
}

func (v *Validator) validateSvapna() error {
	s := v.cfg.Svapna
	if s.Project == "" {
		return NewValidationError("svapna", "project", fmt.Errorf("%w: required", ErrValidationFailed))
	}
	if s.MaxSessionsPerCycle < 1 {
		return NewValidationError("svapna", "max_sessions_per_cycle", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	if s.SurpriseThreshold < 0 || s.SurpriseThreshold > 1 {
		return NewValidationError("svapna", "surprise_threshold", fmt.Errorf("%w: must be in [0,1]", ErrValidationFailed))
	}
	if s.MinSuccessRate < 0 || s.MinSuccessRate > 1 {
		return NewValidationError("svapna", "min_success_rate", fmt.Errorf("%w: must be in [0,1]", ErrValidationFailed))
	}
	if s.MinSequenceLength < 1 || s.MaxSequenceLength < s.MinSequenceLength {
		return NewValidationError("svapna", "min_sequence_length/max_sequence_length", fmt.Errorf("%w: require 1 <= min <= max", ErrValidationFailed))
	}
	if s.MinPatternFrequency < 1 {
		return NewValidationError("svapna", "min_pattern_frequency", fmt.Errorf("%w: must be >= 1", ErrValidationFailed))
	}
	return nil
}

func (v *Validator) validateReport() error {
	if v.cfg.Report.Home == "" {
		return NewValidationError("report", "home", fmt.Errorf("%w: required", ErrValidationFailed))
	}
	return nil
}
