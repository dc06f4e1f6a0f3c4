package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk `svapna.yaml` file structure. Any section
// omitted by the user falls back to its built-in default via mergo.
type yamlConfig struct {
	Scheduler      *SchedulerConfig      `yaml:"scheduler"`
	Retry          *RetryConfig          `yaml:"retry"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	Svapna         *SvapnaConfig         `yaml:"svapna"`
	Database       *DatabaseConfig       `yaml:"database"`
	Report         *ReportConfig         `yaml:"report"`
}

// Initialize loads, merges with defaults, validates, and returns ready-to-use
// configuration. This is the sole entry point for configuration loading;
// there is no implicit global construction.
func Initialize(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	path := filepath.Join(configDir, "svapna.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultedConfig(configDir, &yamlConfig{})
		}
		return nil, NewLoadError(path, err)
	}

	raw = ExpandEnv(raw)

	var parsed yamlConfig
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return defaultedConfig(configDir, &parsed)
}

// defaultedConfig merges parsed (possibly partial) sections onto built-in
// defaults and validates the result.
func defaultedConfig(configDir string, parsed *yamlConfig) (*Config, error) {
	project := ""
	if parsed.Svapna != nil {
		project = parsed.Svapna.Project
	}

	cfg := &Config{
		configDir:      configDir,
		Scheduler:      DefaultSchedulerConfig(),
		Retry:          DefaultRetryConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Svapna:         DefaultSvapnaConfig(project),
		Database:       defaultDatabaseConfig(),
		Report:         &ReportConfig{Home: defaultReportHome()},
	}

	if parsed.Scheduler != nil {
		if err := mergo.Merge(cfg.Scheduler, parsed.Scheduler, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging scheduler config: %w", err))
		}
	}
	if parsed.Retry != nil {
		if err := mergo.Merge(cfg.Retry, parsed.Retry, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging retry config: %w", err))
		}
	}
	if parsed.CircuitBreaker != nil {
		if err := mergo.Merge(cfg.CircuitBreaker, parsed.CircuitBreaker, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging circuit breaker config: %w", err))
		}
	}
	if parsed.Svapna != nil {
		if err := mergo.Merge(cfg.Svapna, parsed.Svapna, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging svapna config: %w", err))
		}
	}
	if parsed.Database != nil {
		if err := mergo.Merge(cfg.Database, parsed.Database, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging database config: %w", err))
		}
	}
	if parsed.Report != nil {
		if err := mergo.Merge(cfg.Report, parsed.Report, mergo.WithOverride); err != nil {
			return nil, NewLoadError("svapna.yaml", fmt.Errorf("merging report config: %w", err))
		}
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         5432,
		User:         getEnv("DB_USER", "svapna"),
		Password:     os.Getenv("DB_PASSWORD"),
		Database:     getEnv("DB_NAME", "svapna"),
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

func defaultReportHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".svapna")
	}
	return "./.svapna"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
