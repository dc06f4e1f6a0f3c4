package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a test database client against a disposable
// PostgreSQL container, applying migrations the same way NewClient does.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB.PingContext(ctx))

	health := CheckHealth(ctx, client.DB.DB)
	assert.True(t, health.Healthy)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.ExecContext(ctx,
		`INSERT INTO sessions (id, project) VALUES ($1, $2)`, "sess-1", "demo")
	require.NoError(t, err)

	_, err = client.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, content) VALUES ($1, $2, $3, $4, $5)`,
		"turn-1", "sess-1", 1, "assistant", "critical error in production cluster with pod failures")
	require.NoError(t, err)
	_, err = client.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, content) VALUES ($1, $2, $3, $4, $5)`,
		"turn-2", "sess-1", 2, "assistant", "warning: high memory usage detected")
	require.NoError(t, err)

	var ids []string
	err = client.SelectContext(ctx, &ids,
		`SELECT id FROM turns WHERE to_tsvector('english', content) @@ to_tsquery('english', $1)`,
		"error & production")
	require.NoError(t, err)
	assert.Equal(t, []string{"turn-1"}, ids)

	var memIDs []string
	err = client.SelectContext(ctx, &memIDs,
		`SELECT id FROM turns WHERE to_tsvector('english', content) @@ to_tsquery('english', $1)`,
		"memory")
	require.NoError(t, err)
	assert.Equal(t, []string{"turn-2"}, memIDs)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 5, MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 0, MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 10, MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
