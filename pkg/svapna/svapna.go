// Package svapna implements the five-phase memory consolidation cycle:
// replay (surprise scoring), recombine (cross-session structural
// similarity), crystallize (vasana formation), proceduralize (vidhi
// extraction), and compress (pramana-weighted token budgeting). One cycle is
// a single batch pass over a project's most recent sessions.
package svapna

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/eventbus"
	"github.com/codeready-toolchain/svapna/pkg/store"
)

// Phase names, in execution order.
const (
	PhaseReplay        = "replay"
	PhaseRecombine     = "recombine"
	PhaseCrystallize   = "crystallize"
	PhaseProceduralize = "proceduralize"
	PhaseCompress      = "compress"
)

// ProgressFunc observes phase transitions during Run.
type ProgressFunc func(phase string, progress float64)

// Pipeline runs consolidation cycles for one project.
type Pipeline struct {
	store *store.Store
	cfg   *config.SvapnaConfig
	bus   *eventbus.Bus
	log   *slog.Logger
}

// New builds a Pipeline. A nil cfg uses the built-in defaults for project "".
// bus may be nil.
func New(st *store.Store, cfg *config.SvapnaConfig, bus *eventbus.Bus) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultSvapnaConfig("")
	}
	return &Pipeline{
		store: st,
		cfg:   cfg,
		bus:   bus,
		log:   slog.With("component", "svapna", "project", cfg.Project),
	}
}

// sessionData pairs a session with its turns in creation order. Every phase
// reads from this one load.
type sessionData struct {
	session store.Session
	turns   []store.Turn
}

// Result reports one completed cycle's per-phase metrics.
type Result struct {
	CycleID   string
	Sessions  int
	Durations map[string]time.Duration

	Replay        ReplayMetrics
	Recombine     RecombineMetrics
	Crystallize   CrystallizeMetrics
	Proceduralize ProceduralizeMetrics
	Compress      CompressMetrics
}

// Run executes one full cycle. It writes a running audit row before the
// first phase and a success (or failed) row after the last, and keeps the
// nidra_state singleton current throughout. onProgress may be nil.
func (p *Pipeline) Run(ctx context.Context, onProgress ProgressFunc) (*Result, error) {
	cycleID := "svapna-" + uuid.NewString()
	started := time.Now()

	if err := p.store.AppendConsolidationLog(ctx, &store.ConsolidationLogRow{
		Project:   p.cfg.Project,
		CycleType: store.CycleSvapna,
		CycleID:   cycleID,
		Status:    store.LogStatusRunning,
	}); err != nil {
		return nil, fmt.Errorf("writing running audit row: %w", err)
	}
	if err := p.store.UpsertNidraState(ctx, PhaseReplay, 0); err != nil {
		return nil, fmt.Errorf("updating nidra state: %w", err)
	}

	result, runErr := p.runPhases(ctx, cycleID, onProgress)

	status := store.LogStatusSuccess
	if runErr != nil {
		status = store.LogStatusFailed
		result = &Result{CycleID: cycleID}
	}
	row := &store.ConsolidationLogRow{
		Project:            p.cfg.Project,
		CycleType:          store.CycleSvapna,
		CycleID:            cycleID,
		PhaseDurationMs:    time.Since(started).Milliseconds(),
		VasanasCreated:     result.Crystallize.Created,
		VidhisCreated:      result.Proceduralize.Created,
		SamskarasProcessed: result.Crystallize.SamskarasProcessed,
		SessionsProcessed:  result.Sessions,
		Status:             status,
	}
	if err := p.store.AppendConsolidationLog(ctx, row); err != nil {
		p.log.Error("failed to write final audit row", "cycle_id", cycleID, "error", err)
	}
	if err := p.store.UpsertNidraState(ctx, "idle", 1.0); err != nil {
		p.log.Error("failed to update nidra state", "error", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

func (p *Pipeline) runPhases(ctx context.Context, cycleID string, onProgress ProgressFunc) (*Result, error) {
	sessions, err := p.loadSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	result := &Result{
		CycleID:   cycleID,
		Sessions:  len(sessions),
		Durations: make(map[string]time.Duration, 5),
	}

	phases := []struct {
		name string
		run  func() error
	}{
		{PhaseReplay, func() error {
			result.Replay = p.replay(sessions)
			return nil
		}},
		{PhaseRecombine, func() error {
			result.Recombine = p.recombine(sessions, result.Replay.HighSurprise)
			return nil
		}},
		{PhaseCrystallize, func() error {
			m, err := p.crystallize(ctx, len(sessions))
			result.Crystallize = m
			return err
		}},
		{PhaseProceduralize, func() error {
			m, err := p.proceduralize(ctx, sessions)
			result.Proceduralize = m
			return err
		}},
		{PhaseCompress, func() error {
			result.Compress = p.compress(sessions, time.Now())
			return nil
		}},
	}

	for i, phase := range phases {
		progress := float64(i) / float64(len(phases))
		p.notify(phase.name, progress, onProgress)
		if err := p.store.UpsertNidraState(ctx, phase.name, progress); err != nil {
			p.log.Warn("nidra state update failed", "phase", phase.name, "error", err)
		}

		phaseStart := time.Now()
		if err := phase.run(); err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase.name, err)
		}
		result.Durations[phase.name] = time.Since(phaseStart)
		p.log.Info("phase complete",
			"cycle_id", cycleID,
			"phase", phase.name,
			"duration_ms", result.Durations[phase.name].Milliseconds())
	}
	p.notify("done", 1.0, onProgress)
	return result, nil
}

func (p *Pipeline) loadSessions(ctx context.Context) ([]sessionData, error) {
	sessions, err := p.store.RecentSessions(ctx, p.cfg.Project, p.cfg.MaxSessionsPerCycle)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	turnsBySession, err := p.store.TurnsForSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]sessionData, len(sessions))
	for i, s := range sessions {
		out[i] = sessionData{session: s, turns: turnsBySession[s.ID]}
	}
	return out, nil
}

func (p *Pipeline) notify(phase string, progress float64, onProgress ProgressFunc) {
	if onProgress != nil {
		onProgress(phase, progress)
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{
			Kind:    eventbus.KindSvapnaPhase,
			Project: p.cfg.Project,
			Fields:  map[string]any{"phase": phase, "progress": progress},
		})
	}
}
