// Package report synthesizes periodic audit artifacts: deterministic,
// time-bounded aggregation of a project's operational data into monthly and
// yearly Markdown reports under {home}/consolidated/{projectHash}/.
package report

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/eventbus"
	"github.com/codeready-toolchain/svapna/pkg/store"
)

// Report file and directory modes. Reports can carry conversation-derived
// content, so they are owner-only.
const (
	fileMode = os.FileMode(0600)
	dirMode  = os.FileMode(0700)
)

// Synthesizer writes monthly and yearly reports for one project.
type Synthesizer struct {
	store   *store.Store
	home    string
	project string
	bus     *eventbus.Bus
	log     *slog.Logger

	// now is injectable so tests can pin the generation timestamp.
	now func() time.Time
}

// New builds a Synthesizer rooted at cfg.Home. bus may be nil.
func New(st *store.Store, cfg *config.ReportConfig, project string, bus *eventbus.Bus) *Synthesizer {
	return &Synthesizer{
		store:   st,
		home:    cfg.Home,
		project: project,
		bus:     bus,
		log:     slog.With("component", "report", "project", project),
		now:     time.Now,
	}
}

// projectHash is the stable FNV-1a hash of the project path, hex-formatted.
// It keys the per-project report directory so filesystem-hostile project
// paths never reach the path layer.
func projectHash(project string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(project))
	return fmt.Sprintf("%016x", h.Sum64())
}

// MonthlyPath returns the deterministic artifact path for (year, month).
func (s *Synthesizer) MonthlyPath(year int, month time.Month) string {
	return filepath.Join(s.home, "consolidated", projectHash(s.project),
		"monthly", fmt.Sprintf("%04d-%02d.md", year, month))
}

// YearlyPath returns the deterministic artifact path for year.
func (s *Synthesizer) YearlyPath(year int) string {
	return filepath.Join(s.home, "consolidated", projectHash(s.project),
		"yearly", fmt.Sprintf("%04d.md", year))
}

// HasMonthlyReport reports whether the (year, month) artifact exists.
func (s *Synthesizer) HasMonthlyReport(year int, month time.Month) bool {
	_, err := os.Stat(s.MonthlyPath(year, month))
	return err == nil
}

// HasYearlyReport reports whether the year artifact exists.
func (s *Synthesizer) HasYearlyReport(year int) bool {
	_, err := os.Stat(s.YearlyPath(year))
	return err == nil
}

// ListReports returns every written artifact path for the project, sorted.
func (s *Synthesizer) ListReports() ([]string, error) {
	root := filepath.Join(s.home, "consolidated", projectHash(s.project))
	var out []string
	for _, sub := range []string{"monthly", "yearly"} {
		entries, err := os.ReadDir(filepath.Join(root, sub))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
				out = append(out, filepath.Join(root, sub, e.Name()))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ToolCount is one entry of the top-tools ranking.
type ToolCount struct {
	Name  string
	Count int
}

// WindowStats is the aggregate over one report window.
type WindowStats struct {
	Sessions       int
	Turns          int
	Tokens         int64
	Cost           float64
	TopTools       []ToolCount
	VasanasCreated []store.Vasana
	VidhisCreated  []store.Vidhi
	TopSamskaras   []store.Samskara
	NodesAdded     int
	EdgesAdded     int
}

// topSamskaraLimit bounds the samskara ranking included in a report.
const topSamskaraLimit = 10

// aggregate runs the window's independent reads concurrently and joins them.
func (s *Synthesizer) aggregate(ctx context.Context, from, to time.Time) (*WindowStats, error) {
	stats := &WindowStats{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sessions, err := s.store.SessionsInWindow(gctx, s.project, from, to)
		if err != nil {
			return err
		}
		stats.Sessions = len(sessions)
		for _, sess := range sessions {
			stats.Tokens += sess.TotalTokens
			stats.Cost += sess.TotalCost
		}
		return nil
	})
	g.Go(func() error {
		turns, err := s.store.TurnsInWindow(gctx, s.project, from, to)
		if err != nil {
			return err
		}
		stats.Turns = len(turns)
		counts := map[string]int{}
		for _, t := range turns {
			calls, err := t.ToolCalls()
			if err != nil {
				continue
			}
			for _, c := range calls {
				counts[c.Name]++
			}
		}
		stats.TopTools = rankTools(counts)
		return nil
	})
	g.Go(func() error {
		var err error
		stats.VasanasCreated, err = s.store.VasanasCreatedIn(gctx, s.project, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		stats.VidhisCreated, err = s.store.VidhisCreatedIn(gctx, s.project, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		stats.TopSamskaras, err = s.store.TopSamskaras(gctx, s.project, from, to, topSamskaraLimit)
		return err
	})
	g.Go(func() error {
		var err error
		stats.NodesAdded, err = s.store.CountNodesIn(gctx, s.project, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		stats.EdgesAdded, err = s.store.CountEdgesIn(gctx, s.project, from, to)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func rankTools(counts map[string]int) []ToolCount {
	out := make([]ToolCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ToolCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// costPerSessionCeiling triggers the lighter-models recommendation.
const costPerSessionCeiling = 1.0

// recommendations derives the report's action items from the window stats.
// With nothing to flag it reports healthy ranges.
func recommendations(stats *WindowStats) []string {
	var recs []string
	if stats.Sessions > 0 && stats.Cost/float64(stats.Sessions) > costPerSessionCeiling {
		recs = append(recs, fmt.Sprintf(
			"Average cost per session is $%.2f; consider routing routine tasks to lighter models.",
			stats.Cost/float64(stats.Sessions)))
	}
	for _, v := range stats.VasanasCreated {
		if v.Valence == store.ValenceNegative {
			recs = append(recs, fmt.Sprintf(
				"Negative tendency %q crystallized; review the underlying corrections.", v.Name))
		}
	}
	for _, v := range stats.VidhisCreated {
		if v.SuccessRate() < 0.5 {
			recs = append(recs, fmt.Sprintf(
				"Procedure %q succeeds less than half the time; consider retiring or re-mining it.", v.Name))
		}
	}
	for _, sk := range stats.TopSamskaras {
		if sk.Confidence >= 0.9 && sk.ObservationCount >= 10 {
			recs = append(recs, fmt.Sprintf(
				"Pattern %q is highly confident over %d observations; a vasana crystallization is due.",
				truncateCell(sk.PatternContent), sk.ObservationCount))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "All metrics are within healthy ranges.")
	}
	return recs
}

// writeArtifact creates the parent directory and writes content owner-only.
func (s *Synthesizer) writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), fileMode); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	// WriteFile only applies the mode on create; pin it for overwrites too.
	if err := os.Chmod(path, fileMode); err != nil {
		return fmt.Errorf("setting report mode: %w", err)
	}
	return nil
}

func (s *Synthesizer) audit(ctx context.Context, cycleType, cycleID string, stats *WindowStats, started time.Time) {
	row := &store.ConsolidationLogRow{
		Project:           s.project,
		CycleType:         cycleType,
		CycleID:           cycleID,
		PhaseDurationMs:   time.Since(started).Milliseconds(),
		VasanasCreated:    len(stats.VasanasCreated),
		VidhisCreated:     len(stats.VidhisCreated),
		SessionsProcessed: stats.Sessions,
		Status:            store.LogStatusSuccess,
	}
	if err := s.store.AppendConsolidationLog(ctx, row); err != nil {
		s.log.Error("failed to write report audit row", "cycle_id", cycleID, "error", err)
	}
}

func (s *Synthesizer) announce(path string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Kind:    eventbus.KindReportWritten,
		Project: s.project,
		Fields:  map[string]any{"path": path},
	})
}
