package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/svapna/pkg/database"
)

func newTestStore(t *testing.T) *Store {
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
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func TestStore_SessionsAndTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSession(ctx, &Session{
		ID: "sess-1", Project: "demo", TotalTokens: 1200, TotalCost: 0.4,
		CreatedAt: base, UpdatedAt: base,
	}))

	turn := &Turn{ID: "turn-1", SessionID: "sess-1", Seq: 1, Role: "assistant",
		Content: "reading the file", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, turn.SetToolCalls([]ToolCall{{Name: "read"}}))
	require.NoError(t, s.InsertTurn(ctx, turn))

	turns, err := s.Turns(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	calls, err := turns[0].ToolCalls()
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "read", calls[0].Name)

	// InsertTurn advances the session's updated_at to the turn's timestamp.
	sessions, err := s.RecentSessions(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].UpdatedAt.After(base.Add(30*time.Second)))

	inWindow, err := s.SessionsInWindow(ctx, "demo", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, inWindow, 1)

	// B2: a session created exactly at the window start is inside; one at
	// the window end is not.
	atEnd, err := s.SessionsInWindow(ctx, "demo", base.Add(-time.Hour), base)
	require.NoError(t, err)
	assert.Empty(t, atEnd)
	atStart, err := s.SessionsInWindow(ctx, "demo", base, base.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, atStart, 1)
}

func TestStore_PatternRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proj := "demo"
	require.NoError(t, s.InsertSamskara(ctx, &Samskara{
		Project: &proj, PatternType: "preference",
		PatternContent: "prefers table tests", ObservationCount: 4, Confidence: 0.8,
	}))
	require.NoError(t, s.InsertSamskara(ctx, &Samskara{
		PatternType: "correction", PatternContent: "global pattern",
		ObservationCount: 5, Confidence: 0.9,
	}))
	require.NoError(t, s.InsertSamskara(ctx, &Samskara{
		Project: &proj, PatternType: "preference",
		PatternContent: "too rare", ObservationCount: 1, Confidence: 0.9,
	}))

	eligible, err := s.EligibleSamskaras(ctx, proj, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, eligible, 2, "nil-project samskaras are eligible for every project")

	v := &Vasana{Project: &proj, Name: "prefers-table-tests", Valence: ValencePositive,
		Strength: 0.8, Stability: 0.5, ActivationCount: 1}
	v.SetSourceSamskaraIDs([]string{eligible[0].ID})
	require.NoError(t, s.InsertVasana(ctx, v))

	found, err := s.FindVasanaByName(ctx, proj, "prefers-table-tests")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ValencePositive, found.Valence)

	require.NoError(t, s.ReinforceVasana(ctx, found.ID, 0.9, time.Now().UTC(), []string{"a", "b"}))
	found, err = s.FindVasanaByName(ctx, proj, "prefers-table-tests")
	require.NoError(t, err)
	assert.Equal(t, 0.9, found.Strength)
	assert.Equal(t, 2, found.ActivationCount)
	assert.Equal(t, []string{"a", "b"}, found.SourceSamskaraIDs())
	assert.NotNil(t, found.LastActivatedAt)

	missing, err := s.FindVasanaByName(ctx, proj, "never-created")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Vidhis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &Vidhi{ID: "vidhi-read-then-edit", Project: "demo", Name: "read-then-edit",
		Confidence: 0.9, SuccessCount: 3}
	require.NoError(t, v.SetSteps([]VidhiStep{
		{Index: 0, Tool: "read", Critical: true},
		{Index: 1, Tool: "edit"},
	}))
	require.NoError(t, v.SetParameterSchema(map[string]ParamSpec{
		"step0_param_path": {Type: "string", Required: true},
	}))
	v.SetTriggerPhrases([]string{"read then edit", "modify file"})
	v.SetSourceSessionIDs([]string{"s1", "s2", "s3"})
	require.NoError(t, s.InsertVidhi(ctx, v))

	exists, err := s.VidhiExists(ctx, "vidhi-read-then-edit")
	require.NoError(t, err)
	assert.True(t, exists)

	created, err := s.VidhisCreatedIn(ctx, "demo", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, created, 1)
	got := created[0]
	assert.Equal(t, 1.0, got.SuccessRate())
	require.Len(t, got.Steps(), 2)
	assert.True(t, got.Steps()[0].Critical)
	assert.Equal(t, "string", got.ParameterSchema()["step0_param_path"].Type)
	assert.Contains(t, got.TriggerPhrases(), "modify file")
}

func TestStore_AuditAndNidra(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	phase := "replay"
	require.NoError(t, s.AppendConsolidationLog(ctx, &ConsolidationLogRow{
		Project: "demo", CycleType: CycleSvapna, CycleID: "svapna-1",
		Status: LogStatusRunning,
	}))
	require.NoError(t, s.AppendConsolidationLog(ctx, &ConsolidationLogRow{
		Project: "demo", CycleType: CycleSvapna, CycleID: "svapna-1",
		Phase: &phase, PhaseDurationMs: 42, SessionsProcessed: 3,
		Status: LogStatusSuccess,
	}))

	rows, err := s.ConsolidationLog(ctx, "demo", "svapna-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Phase)
	assert.Equal(t, LogStatusRunning, rows[0].Status)
	require.NotNil(t, rows[1].Phase)
	assert.Equal(t, "replay", *rows[1].Phase)

	st, err := s.GetNidraState(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.UpsertNidraState(ctx, "replay", 0.2))
	require.NoError(t, s.UpsertNidraState(ctx, "compress", 0.9))
	st, err = s.GetNidraState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "compress", st.ConsolidationPhase)
	assert.Equal(t, 0.9, st.ConsolidationProgress)
}

func TestStore_Graph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Node{Project: "demo", Kind: "concept", Label: "scheduler"}
	b := &Node{Project: "demo", Kind: "concept", Label: "retry"}
	require.NoError(t, s.InsertNode(ctx, a))
	require.NoError(t, s.InsertNode(ctx, b))
	require.NoError(t, s.InsertEdge(ctx, &Edge{
		Project: "demo", FromNodeID: a.ID, ToNodeID: b.ID, Kind: "uses",
	}))

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	nodes, err := s.CountNodesIn(ctx, "demo", from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, nodes)
	edges, err := s.CountEdgesIn(ctx, "demo", from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)
}
