// Package config loads and validates the runtime configuration surface:
// scheduler strategy/coordination/fallback, retry policy, circuit-breaker
// policy, and the Svapna consolidation parameters.
package config

import "time"

// Strategy identifies one of the six fixed orchestration-plan dispatch
// strategies plus the open-ended "routed" strategy. These are a closed
// set and are tagged variants, not a plugin interface.
type Strategy string

// Strategy values.
const (
	StrategyRoundRobin   Strategy = "round-robin"
	StrategyLeastLoaded  Strategy = "least-loaded"
	StrategySpecialized  Strategy = "specialized"
	StrategyCompetitive  Strategy = "competitive"
	StrategySwarm        Strategy = "swarm"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyRouted       Strategy = "routed"
)

// Valid reports whether s is one of the seven known strategy tags.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategySpecialized,
		StrategyCompetitive, StrategySwarm, StrategyHierarchical, StrategyRouted:
		return true
	default:
		return false
	}
}

// SwarmMergePolicy names how a swarm parent's result is derived once every
// sibling sub-task is terminal. Kept as a named policy parameter rather
// than a hard-coded rule.
type SwarmMergePolicy string

const (
	// SwarmMergeAnySuccess marks the parent successful if any sibling succeeded.
	SwarmMergeAnySuccess SwarmMergePolicy = "any-success"
	// SwarmMergeAllSuccess requires every sibling to have succeeded.
	SwarmMergeAllSuccess SwarmMergePolicy = "all-success"
)

// CoordinationPolicy controls plan-level failure tolerance.
type CoordinationPolicy struct {
	TolerateFailures bool             `yaml:"tolerate_failures"`
	MaxFailures      *int             `yaml:"max_failures,omitempty"`
	SharedContext    any              `yaml:"-"`
	SwarmMerge       SwarmMergePolicy `yaml:"swarm_merge,omitempty"`
}

// FallbackPolicy controls terminal-failure recovery.
type FallbackPolicy struct {
	EscalateToHuman bool `yaml:"escalate_to_human"`
}

// SchedulerConfig is the Task Scheduler's configuration surface.
type SchedulerConfig struct {
	Strategy     Strategy           `yaml:"strategy"`
	Coordination CoordinationPolicy `yaml:"coordination"`
	Fallback     FallbackPolicy     `yaml:"fallback"`
	TickInterval time.Duration      `yaml:"tick_interval"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Strategy: StrategyRoundRobin,
		Coordination: CoordinationPolicy{
			TolerateFailures: true,
			SwarmMerge:       SwarmMergeAnySuccess,
		},
		TickInterval: 100 * time.Millisecond,
	}
}

// RetryConfig is the retry/backoff configuration surface of the resilient
// transport's stream retry policy. The scheduler's task retry backoff does
// not read it; it uses its own fixed 1s base and 30s cap.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"min=0"`
	BaseMs      int `yaml:"base_ms" validate:"min=1"`
	CapMs       int `yaml:"cap_ms" validate:"min=1"`
	JitterMs    int `yaml:"jitter_ms" validate:"min=0"`
}

// DefaultRetryConfig returns the built-in retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseMs:      500,
		CapMs:       30_000,
		JitterMs:    250,
	}
}

// CircuitBreakerConfig is the per-provider circuit-breaker configuration
// surface.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"min=1"`
	CooldownMs       int           `yaml:"cooldown_ms" validate:"min=1"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"min=1"`
	RegistryTTL      time.Duration `yaml:"registry_ttl"`
}

// DefaultCircuitBreakerConfig returns the built-in breaker defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		CooldownMs:       30_000,
		SuccessThreshold: 2,
		RegistryTTL:      24 * time.Hour,
	}
}

// SvapnaConfig is the consolidation pipeline's configuration surface.
type SvapnaConfig struct {
	Project             string  `yaml:"project" validate:"required"`
	MaxSessionsPerCycle int     `yaml:"max_sessions_per_cycle" validate:"min=1"`
	SurpriseThreshold   float64 `yaml:"surprise_threshold" validate:"min=0,max=1"`
	MinPatternFrequency int     `yaml:"min_pattern_frequency" validate:"min=1"`
	MinSequenceLength   int     `yaml:"min_sequence_length" validate:"min=1"`
	MaxSequenceLength   int     `yaml:"max_sequence_length" validate:"min=1"`
	MinSuccessRate      float64 `yaml:"min_success_rate" validate:"min=0,max=1"`
}

// DefaultSvapnaConfig returns the built-in Svapna defaults.
func DefaultSvapnaConfig(project string) *SvapnaConfig {
	return &SvapnaConfig{
		Project:             project,
		MaxSessionsPerCycle: 50,
		SurpriseThreshold:   0.7,
		MinPatternFrequency: 3,
		MinSequenceLength:   2,
		MaxSequenceLength:   6,
		MinSuccessRate:      0.8,
	}
}

// DatabaseConfig holds connection settings for the relational store.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ReportConfig configures where the Report Synthesizer writes artifacts
// (deterministic `{home}/consolidated/...` paths).
type ReportConfig struct {
	Home string `yaml:"home" validate:"required"`
}

// Config is the single umbrella object returned by Initialize().
type Config struct {
	configDir string

	Scheduler      *SchedulerConfig
	Retry          *RetryConfig
	CircuitBreaker *CircuitBreakerConfig
	Svapna         *SvapnaConfig
	Database       *DatabaseConfig
	Report         *ReportConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}
