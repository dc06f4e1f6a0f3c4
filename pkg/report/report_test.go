package report

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/database"
	"github.com/codeready-toolchain/svapna/pkg/store"
)

func newTestSynthesizer(t *testing.T, project string) (*Synthesizer, *store.Store) {
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

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test",
		Database: "test", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client)
	syn := New(st, &config.ReportConfig{Home: t.TempDir()}, project, nil)
	return syn, st
}

func seedSessionAt(t *testing.T, st *store.Store, id, project string, at time.Time, tokens int64, cost float64) {
	t.Helper()
	require.NoError(t, st.InsertSession(context.Background(), &store.Session{
		ID: id, Project: project, TotalTokens: tokens, TotalCost: cost,
		CreatedAt: at, UpdatedAt: at,
	}))
}

func TestMonthly_NoData(t *testing.T) {
	syn, st := newTestSynthesizer(t, "/work/empty")
	ctx := context.Background()

	rep, err := syn.Monthly(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Zero(t, rep.Stats.Sessions)

	// Deterministic path, owner-only mode.
	assert.Equal(t, syn.MonthlyPath(2025, time.March), rep.Path)
	assert.True(t, strings.HasSuffix(rep.Path, "monthly/2025-03.md"))
	info, err := os.Stat(rep.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	content, err := os.ReadFile(rep.Path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "# Monthly Report — 2025-03 — /work/empty")
	assert.Contains(t, text, "> Generated: ")
	assert.Contains(t, text, "- **Sessions**: 0")
	assert.Contains(t, text, "_No vasanas crystallized this month._")
	assert.Contains(t, text, "_No vidhis extracted this month._")
	assert.Contains(t, text, "_No samskaras observed this month._")
	assert.Contains(t, text, "## Recommendations")

	rows, err := st.ConsolidationLog(ctx, "/work/empty", "monthly-2025-03")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "monthly", rows[0].CycleType)
	assert.Equal(t, store.LogStatusSuccess, rows[0].Status)

	assert.True(t, syn.HasMonthlyReport(2025, time.March))
	assert.False(t, syn.HasMonthlyReport(2025, time.April))
}

func TestMonthly_WindowBoundaries(t *testing.T) {
	syn, st := newTestSynthesizer(t, "/work/demo")
	ctx := context.Background()

	// Exactly at start of March: in. Exactly at start of April: out.
	seedSessionAt(t, st, "s-edge-in", "/work/demo",
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 100, 0.1)
	seedSessionAt(t, st, "s-mid", "/work/demo",
		time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC), 200, 0.2)
	seedSessionAt(t, st, "s-edge-out", "/work/demo",
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 400, 0.4)

	rep, err := syn.Monthly(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stats.Sessions)
	assert.Equal(t, int64(300), rep.Stats.Tokens)
}

func TestMonthly_TablesAndRecommendations(t *testing.T) {
	syn, st := newTestSynthesizer(t, "/work/rich")
	ctx := context.Background()

	at := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	seedSessionAt(t, st, "s1", "/work/rich", at, 9000, 3.5)

	turn := &store.Turn{ID: "t1", SessionID: "s1", Seq: 1, Role: "assistant",
		Content: "working", CreatedAt: at.Add(time.Minute)}
	require.NoError(t, turn.SetToolCalls([]store.ToolCall{{Name: "read"}, {Name: "read"}, {Name: "edit"}}))
	require.NoError(t, st.InsertTurn(ctx, turn))

	proj := "/work/rich"
	v := &store.Vasana{Project: &proj, Name: "pipe|in|name", Valence: store.ValenceNegative,
		Strength: 0.7, Stability: 0.4, ActivationCount: 1, CreatedAt: at}
	require.NoError(t, st.InsertVasana(ctx, v))

	rep, err := syn.Monthly(ctx, 2025, time.May)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Stats.Sessions)

	content, err := os.ReadFile(rep.Path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "| read | 2 |")
	assert.Contains(t, text, "| edit | 1 |")
	assert.Contains(t, text, `pipe\|in\|name`, "pipes in cell values must be escaped")
	assert.Contains(t, text, "lighter models")
	assert.Contains(t, text, "Negative tendency")
}

func TestYearly_BreakdownTrendsAndYoY(t *testing.T) {
	syn, st := newTestSynthesizer(t, "/work/yearly")
	ctx := context.Background()

	// 2024: two sessions. 2025: quiet first half, busy second half.
	seedSessionAt(t, st, "y24-1", "/work/yearly", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 100, 0.1)
	seedSessionAt(t, st, "y24-2", "/work/yearly", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 100, 0.1)
	seedSessionAt(t, st, "y25-1", "/work/yearly", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 100, 0.1)
	for i := 0; i < 4; i++ {
		seedSessionAt(t, st, fmt.Sprintf("y25-h2-%d", i), "/work/yearly",
			time.Date(2025, 9, 1+i, 0, 0, 0, 0, time.UTC), 100, 0.1)
	}

	// No 2024 artifact yet: no YoY section.
	rep, err := syn.Yearly(ctx, 2025)
	require.NoError(t, err)
	content, err := os.ReadFile(rep.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "## Year-over-Year")

	// Write 2024's artifact, re-synthesize 2025: YoY appears with deltas.
	_, err = syn.Yearly(ctx, 2024)
	require.NoError(t, err)
	require.True(t, syn.HasYearlyReport(2024))

	rep, err = syn.Yearly(ctx, 2025)
	require.NoError(t, err)
	content, err = os.ReadFile(rep.Path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "# Yearly Report — 2025 — /work/yearly")
	assert.Contains(t, text, "## Monthly Breakdown")
	assert.Contains(t, text, "| 2025-09 | 4 |")
	assert.Contains(t, text, "## Year-over-Year")
	assert.Contains(t, text, "| Sessions | 2 | 5 | +3 |")
	assert.Contains(t, text, "Session volume increased")
	assert.Contains(t, text, "VACUUM")

	rows, err := st.ConsolidationLog(ctx, "/work/yearly", "yearly-2025")
	require.NoError(t, err)
	require.Len(t, rows, 2, "one audit row per synthesis run")
	assert.Equal(t, "yearly", rows[0].CycleType)
}

func TestListReports(t *testing.T) {
	syn, _ := newTestSynthesizer(t, "/work/list")
	ctx := context.Background()

	paths, err := syn.ListReports()
	require.NoError(t, err)
	assert.Empty(t, paths)

	_, err = syn.Monthly(ctx, 2025, time.January)
	require.NoError(t, err)
	_, err = syn.Monthly(ctx, 2025, time.February)
	require.NoError(t, err)
	_, err = syn.Yearly(ctx, 2025)
	require.NoError(t, err)

	paths, err = syn.ListReports()
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.True(t, strings.HasSuffix(paths[0], "monthly/2025-01.md"))
	assert.True(t, strings.HasSuffix(paths[1], "monthly/2025-02.md"))
	assert.True(t, strings.HasSuffix(paths[2], "yearly/2025.md"))
}
