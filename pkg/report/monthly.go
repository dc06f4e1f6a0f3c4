package report

import (
	"context"
	"fmt"
	"time"
)

// MonthlyReport is the result of one monthly synthesis.
type MonthlyReport struct {
	Year  int
	Month time.Month
	Path  string
	Stats *WindowStats
}

// Monthly aggregates (year, month) in UTC, writes the Markdown artifact at
// the deterministic monthly path, and appends a success audit row.
func (s *Synthesizer) Monthly(ctx context.Context, year int, month time.Month) (*MonthlyReport, error) {
	started := s.now()
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	stats, err := s.aggregate(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating %04d-%02d: %w", year, month, err)
	}

	path := s.MonthlyPath(year, month)
	content := s.renderMonthly(year, month, stats)
	if err := s.writeArtifact(path, content); err != nil {
		return nil, err
	}

	cycleID := fmt.Sprintf("monthly-%04d-%02d", year, month)
	s.audit(ctx, "monthly", cycleID, stats, started)
	s.announce(path)
	s.log.Info("monthly report written", "path", path, "sessions", stats.Sessions)

	return &MonthlyReport{Year: year, Month: month, Path: path, Stats: stats}, nil
}

func (s *Synthesizer) renderMonthly(year int, month time.Month, stats *WindowStats) string {
	md := &markdownBuilder{}
	md.title("Monthly", fmt.Sprintf("%04d-%02d", year, month), s.project)
	md.generated(s.now())

	md.section("Summary")
	md.stat("Sessions", stats.Sessions)
	md.stat("Turns", stats.Turns)
	md.stat("Tokens", stats.Tokens)
	md.stat("Cost", fmt.Sprintf("$%.2f", stats.Cost))
	md.stat("Knowledge nodes added", stats.NodesAdded)
	md.stat("Knowledge edges added", stats.EdgesAdded)
	md.blank()

	md.section("Top Tools")
	md.toolTable(stats.TopTools)

	md.section("Vasanas Crystallized")
	md.vasanaTable(stats.VasanasCreated, "month")

	md.section("Vidhis Extracted")
	md.vidhiTable(stats.VidhisCreated, "month")

	md.section("Top Samskaras")
	md.samskaraTable(stats.TopSamskaras, "month")

	md.recommendations(recommendations(stats))
	return md.String()
}
