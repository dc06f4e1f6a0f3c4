package database

import (
	"context"
	"database/sql"
	"time"
)

// PoolStatus reports connectivity and connection-pool saturation for the
// /health endpoint in cmd/svapnad.
type PoolStatus struct {
	Healthy      bool          `json:"healthy"`
	Latency      time.Duration `json:"latency_ns"`
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"wait_count"`
	WaitTime     time.Duration `json:"wait_time_ns"`
	MaxOpenConns int           `json:"max_open_conns"`
	Err          string        `json:"error,omitempty"`
}

// CheckHealth pings db and samples its connection-pool stats. It never
// returns an error itself; a failed ping is reported via PoolStatus.Err
// so callers (the gin /health handler) can render a 200/503 without
// needing a type switch.
func CheckHealth(ctx context.Context, db *sql.DB) *PoolStatus {
	started := time.Now()
	pingErr := db.PingContext(ctx)
	elapsed := time.Since(started)

	stats := db.Stats()
	status := &PoolStatus{
		Healthy:      pingErr == nil,
		Latency:      elapsed,
		Open:         stats.OpenConnections,
		InUse:        stats.InUse,
		Idle:         stats.Idle,
		WaitCount:    stats.WaitCount,
		WaitTime:     stats.WaitDuration,
		MaxOpenConns: stats.MaxOpenConnections,
	}
	if pingErr != nil {
		status.Err = pingErr.Error()
	}
	return status
}
