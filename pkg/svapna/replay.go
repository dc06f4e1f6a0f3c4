package svapna

import (
	"math"

	"github.com/codeready-toolchain/svapna/pkg/store"
)

// TurnScore is one turn's surprise scoring from the replay phase.
type TurnScore struct {
	Turn            store.Turn
	ToolCalls       []store.ToolCall
	Surprise        float64
	Normalized      float64
	RetentionWeight float64
}

// ReplayMetrics summarizes the replay phase.
type ReplayMetrics struct {
	SessionsProcessed int
	TurnsScored       int
	HighSurpriseCount int
	MaxSurprise       float64

	// Scores carries every scored turn; HighSurprise the subset at or above
	// the surprise threshold, consumed by recombine.
	Scores       []TurnScore
	HighSurprise []TurnScore
}

// pairKey identifies one (tool name, result class) frequency-table entry.
type pairKey struct {
	tool string
	// class is "err" if the call errored, else "ok".
	class string
}

// replay scores every turn's surprise against a frequency table of
// (tool, result-class) pairs built across all sessions. Turns without tool
// calls fall back to a content-length deviation proxy. Scores are normalized
// so the maximum is 1.0, and the retention weight maps [0,1] surprise onto
// [0.5, 1.0].
func (p *Pipeline) replay(sessions []sessionData) ReplayMetrics {
	m := ReplayMetrics{SessionsProcessed: len(sessions)}

	freq := make(map[pairKey]int)
	total := 0
	var contentLenSum, turnCount int
	for _, sd := range sessions {
		for _, t := range sd.turns {
			turnCount++
			contentLenSum += len(t.Content)
			calls, err := t.ToolCalls()
			if err != nil {
				p.log.Warn("skipping malformed tool calls", "turn", t.ID, "error", err)
				continue
			}
			for _, c := range calls {
				k := pairKey{tool: c.Name, class: "ok"}
				if c.Errored {
					k.class = "err"
				}
				freq[k]++
				total++
			}
		}
	}
	avgLen := 0.0
	if turnCount > 0 {
		avgLen = float64(contentLenSum) / float64(turnCount)
	}

	for _, sd := range sessions {
		for _, t := range sd.turns {
			calls, _ := t.ToolCalls()
			score := TurnScore{Turn: t, ToolCalls: calls}
			if len(calls) > 0 {
				sum := 0.0
				for _, c := range calls {
					k := pairKey{tool: c.Name, class: "ok"}
					if c.Errored {
						k.class = "err"
					}
					prob := float64(freq[k]) / float64(total)
					sum += -math.Log(math.Max(prob, 1e-6))
				}
				score.Surprise = sum / float64(len(calls))
			} else {
				dev := math.Abs(float64(len(t.Content))-avgLen) / math.Max(avgLen, 1)
				score.Surprise = math.Min(dev, 5)
			}
			m.Scores = append(m.Scores, score)
		}
	}
	m.TurnsScored = len(m.Scores)

	for _, s := range m.Scores {
		if s.Surprise > m.MaxSurprise {
			m.MaxSurprise = s.Surprise
		}
	}
	for i := range m.Scores {
		if m.MaxSurprise > 0 {
			m.Scores[i].Normalized = m.Scores[i].Surprise / m.MaxSurprise
		}
		m.Scores[i].RetentionWeight = 0.5 + 0.5*m.Scores[i].Normalized
		if m.Scores[i].Normalized >= p.cfg.SurpriseThreshold {
			m.HighSurprise = append(m.HighSurprise, m.Scores[i])
		}
	}
	m.HighSurpriseCount = len(m.HighSurprise)
	return m
}
