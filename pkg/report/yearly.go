package report

import (
	"context"
	"fmt"
	"time"
)

// YearlyReport is the result of one yearly synthesis.
type YearlyReport struct {
	Year  int
	Path  string
	Stats *WindowStats
}

// monthBreakdown is one row of the yearly per-month table.
type monthBreakdown struct {
	month    time.Month
	sessions int
	turns    int
	tokens   int64
	cost     float64
}

// Second-half to first-half session ratio bounds for the trend call.
const (
	trendGrowthRatio  = 1.5
	trendDeclineRatio = 0.67
)

// Yearly aggregates the full year in UTC, including a per-month breakdown,
// an optional year-over-year comparison when the prior year's artifact
// exists, and half-over-half trend detection.
func (s *Synthesizer) Yearly(ctx context.Context, year int) (*YearlyReport, error) {
	started := s.now()
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	stats, err := s.aggregate(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating %04d: %w", year, err)
	}

	months := make([]monthBreakdown, 0, 12)
	var firstHalf, secondHalf int
	for m := time.January; m <= time.December; m++ {
		mFrom := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		mStats, err := s.aggregate(ctx, mFrom, mFrom.AddDate(0, 1, 0))
		if err != nil {
			return nil, fmt.Errorf("aggregating %04d-%02d: %w", year, m, err)
		}
		months = append(months, monthBreakdown{
			month: m, sessions: mStats.Sessions, turns: mStats.Turns,
			tokens: mStats.Tokens, cost: mStats.Cost,
		})
		if m <= time.June {
			firstHalf += mStats.Sessions
		} else {
			secondHalf += mStats.Sessions
		}
	}

	// The prior-year artifact gates the comparison; its numbers are
	// recomputed from the store rather than parsed back out of Markdown.
	var prior *WindowStats
	if s.HasYearlyReport(year - 1) {
		pFrom := time.Date(year-1, time.January, 1, 0, 0, 0, 0, time.UTC)
		prior, err = s.aggregate(ctx, pFrom, pFrom.AddDate(1, 0, 0))
		if err != nil {
			return nil, fmt.Errorf("aggregating prior year %04d: %w", year-1, err)
		}
	}

	path := s.YearlyPath(year)
	content := s.renderYearly(year, stats, months, prior, firstHalf, secondHalf)
	if err := s.writeArtifact(path, content); err != nil {
		return nil, err
	}

	cycleID := fmt.Sprintf("yearly-%04d", year)
	s.audit(ctx, "yearly", cycleID, stats, started)
	s.announce(path)
	s.log.Info("yearly report written", "path", path, "sessions", stats.Sessions)

	return &YearlyReport{Year: year, Path: path, Stats: stats}, nil
}

func (s *Synthesizer) renderYearly(year int, stats *WindowStats, months []monthBreakdown, prior *WindowStats, firstHalf, secondHalf int) string {
	md := &markdownBuilder{}
	md.title("Yearly", fmt.Sprintf("%04d", year), s.project)
	md.generated(s.now())

	md.section("Summary")
	md.stat("Sessions", stats.Sessions)
	md.stat("Turns", stats.Turns)
	md.stat("Tokens", stats.Tokens)
	md.stat("Cost", fmt.Sprintf("$%.2f", stats.Cost))
	md.stat("Vasanas crystallized", len(stats.VasanasCreated))
	md.stat("Vidhis extracted", len(stats.VidhisCreated))
	md.stat("Knowledge nodes added", stats.NodesAdded)
	md.stat("Knowledge edges added", stats.EdgesAdded)
	md.blank()

	md.section("Monthly Breakdown")
	md.line("| Month | Sessions | Turns | Tokens | Cost |")
	md.line("|---|---|---|---|---|")
	for _, m := range months {
		md.line("| %04d-%02d | %d | %d | %d | $%.2f |",
			year, m.month, m.sessions, m.turns, m.tokens, m.cost)
	}
	md.blank()

	if prior != nil {
		md.section("Year-over-Year")
		md.line("| Metric | %04d | %04d | Delta |", year-1, year)
		md.line("|---|---|---|---|")
		md.line("| Sessions | %d | %d | %+d |", prior.Sessions, stats.Sessions, stats.Sessions-prior.Sessions)
		md.line("| Turns | %d | %d | %+d |", prior.Turns, stats.Turns, stats.Turns-prior.Turns)
		md.line("| Tokens | %d | %d | %+d |", prior.Tokens, stats.Tokens, stats.Tokens-prior.Tokens)
		md.line("| Cost | $%.2f | $%.2f | $%+.2f |", prior.Cost, stats.Cost, stats.Cost-prior.Cost)
		md.blank()
	}

	md.section("Trends")
	md.line("- %s", sessionTrend(firstHalf, secondHalf))
	if len(stats.VasanasCreated) > 10 {
		md.line("- Strong behavioral crystallization: %d vasanas formed this year.", len(stats.VasanasCreated))
	}
	md.blank()

	md.section("Vasanas Crystallized")
	md.vasanaTable(stats.VasanasCreated, "year")

	md.section("Vidhis Extracted")
	md.vidhiTable(stats.VidhisCreated, "year")

	md.section("Top Samskaras")
	md.samskaraTable(stats.TopSamskaras, "year")

	md.recommendations(recommendations(stats))

	md.section("Database Maintenance")
	md.line("Consider running VACUUM on the store after a year of consolidation cycles to reclaim dead tuples.")
	md.blank()

	return md.String()
}

// sessionTrend compares the year's halves: ratio at or above the growth
// bound reads as increase, at or below the decline bound as decrease,
// anything else as steady usage.
func sessionTrend(firstHalf, secondHalf int) string {
	switch {
	case firstHalf == 0 && secondHalf == 0:
		return "No sessions recorded this year."
	case firstHalf == 0:
		return "Session volume increased in the second half of the year."
	default:
		ratio := float64(secondHalf) / float64(firstHalf)
		switch {
		case ratio >= trendGrowthRatio:
			return "Session volume increased in the second half of the year."
		case ratio <= trendDeclineRatio:
			return "Session volume decreased in the second half of the year."
		default:
			return "Steady, consistent usage across the year."
		}
	}
}
