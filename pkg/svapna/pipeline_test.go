package svapna

import (
	"context"
	"fmt"
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

func newIntegrationStore(t *testing.T) *store.Store {
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

	return store.New(client)
}

func seedSession(t *testing.T, st *store.Store, id, project string, toolNames []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertSession(ctx, &store.Session{ID: id, Project: project}))
	for i, name := range toolNames {
		turn := &store.Turn{
			ID:        fmt.Sprintf("%s-turn-%d", id, i),
			SessionID: id,
			Seq:       i + 1,
			Role:      "assistant",
			Content:   "using " + name,
		}
		require.NoError(t, turn.SetToolCalls([]store.ToolCall{
			{Name: name, Args: []byte(fmt.Sprintf(`{"target":"%s-%d"}`, id, i)), Output: "ok"},
		}))
		require.NoError(t, st.InsertTurn(ctx, turn))
	}
}

func TestPipeline_ReadEditSessionsProduceOneVidhi(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seedSession(t, st, fmt.Sprintf("sess-%d", i), "proj-p", []string{"read", "edit"})
	}

	cfg := config.DefaultSvapnaConfig("proj-p")
	p := New(st, cfg, nil)

	var phases []string
	result, err := p.Run(ctx, func(phase string, _ float64) { phases = append(phases, phase) })
	require.NoError(t, err)

	assert.Equal(t, 3, result.Sessions)
	assert.Equal(t, []string{PhaseReplay, PhaseRecombine, PhaseCrystallize, PhaseProceduralize, PhaseCompress, "done"}, phases)

	// Exactly one vidhi, named by the mined sequence, fully successful.
	assert.Equal(t, 1, result.Proceduralize.Created)
	vidhis, err := st.VidhisCreatedIn(ctx, "proj-p", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, vidhis, 1)
	v := vidhis[0]
	assert.Equal(t, "read-then-edit", v.Name)
	require.Len(t, v.Steps(), 2)
	assert.Equal(t, "read", v.Steps()[0].Tool)
	assert.Equal(t, "edit", v.Steps()[1].Tool)
	assert.Equal(t, 1.0, v.SuccessRate())
	assert.Equal(t, 1.0, v.Confidence)

	// No samskaras seeded means crystallize creates nothing.
	assert.Zero(t, result.Crystallize.Created)
	assert.Zero(t, result.Crystallize.Reinforced)

	rows, err := st.ConsolidationLog(ctx, "proj-p", result.CycleID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, store.LogStatusRunning, rows[0].Status)
	assert.Equal(t, store.LogStatusSuccess, rows[1].Status)
	assert.Equal(t, 1, rows[1].VidhisCreated)
	assert.Equal(t, 3, rows[1].SessionsProcessed)

	// A second cycle re-derives the same vidhi id and must not duplicate it.
	result2, err := p.Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, result2.Proceduralize.Created)
	assert.Equal(t, 1, result2.Proceduralize.AlreadyKnown)
}

func TestPipeline_ZeroSessions(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	p := New(st, config.DefaultSvapnaConfig("empty-proj"), nil)
	result, err := p.Run(ctx, nil)
	require.NoError(t, err)

	assert.Zero(t, result.Sessions)
	assert.Zero(t, result.Replay.TurnsScored)
	assert.Zero(t, result.Recombine.UniqueSessionPairs)
	assert.Zero(t, result.Crystallize.Created)
	assert.Zero(t, result.Proceduralize.Created)
	assert.Zero(t, result.Compress.TotalOriginalTokens)

	rows, err := st.ConsolidationLog(ctx, "empty-proj", result.CycleID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, store.LogStatusRunning, rows[0].Status)
	assert.Equal(t, store.LogStatusSuccess, rows[1].Status)

	state, err := st.GetNidraState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "idle", state.ConsolidationPhase)
	assert.Equal(t, 1.0, state.ConsolidationProgress)
}

func TestPipeline_CrystallizeCreatesAndReinforces(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	proj := "proj-c"
	seedSession(t, st, "sess-a", proj, []string{"read"})
	seedSession(t, st, "sess-b", proj, []string{"read"})

	sessA, sessB := "sess-a", "sess-b"
	for _, sk := range []*store.Samskara{
		{Project: &proj, PatternType: "preference", PatternContent: "always run the linter before committing",
			ObservationCount: 4, Confidence: 0.9, SessionID: &sessA},
		{Project: &proj, PatternType: "preference", PatternContent: "always run the linter before committing!",
			ObservationCount: 3, Confidence: 0.8, SessionID: &sessB},
	} {
		require.NoError(t, st.InsertSamskara(ctx, sk))
	}

	p := New(st, config.DefaultSvapnaConfig(proj), nil)
	result, err := p.Run(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, result.Crystallize.Created)
	assert.Equal(t, 2, result.Crystallize.SamskarasProcessed)

	v, err := st.FindVasanaByName(ctx, proj, "always-run-the-linter-before-committing")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, store.ValencePositive, v.Valence)
	assert.Equal(t, 0.9, v.Strength)
	assert.Equal(t, 1.0, v.Stability, "both of the two cycle sessions contributed")
	assert.Equal(t, 1, v.ActivationCount)
	assert.Len(t, v.SourceSamskaraIDs(), 2)

	// Running again reinforces the same vasana instead of duplicating it.
	result2, err := p.Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, result2.Crystallize.Created)
	assert.Equal(t, 1, result2.Crystallize.Reinforced)

	v, err = st.FindVasanaByName(ctx, proj, "always-run-the-linter-before-committing")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.Strength, 1e-9)
	assert.Equal(t, 2, v.ActivationCount)
}
