package database

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

// FromAppConfig converts the application's database configuration section
// into a connection Config, filling in pool defaults the application layer
// doesn't expose.
func FromAppConfig(cfg *config.DatabaseConfig) Config {
	return Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: 15 * time.Minute,
	}
}

// Validate checks if the configuration is usable for opening a connection.
func (c Config) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle conns (%d) cannot exceed max open conns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max open conns must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max idle conns cannot be negative")
	}
	return nil
}
