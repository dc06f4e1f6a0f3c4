package svapna

import (
	"math"
	"regexp"
	"time"

	"github.com/codeready-toolchain/svapna/pkg/store"
)

// Pramana classifies a turn's epistemological source.
type Pramana string

// Pramana values, strongest preservation first.
const (
	Pratyaksha  Pramana = "pratyaksha"  // direct observation
	Shabda      Pramana = "shabda"      // testimony / documentation
	Anumana     Pramana = "anumana"     // inference
	Upamana     Pramana = "upamana"     // analogy
	Arthapatti  Pramana = "arthapatti"  // postulation
	Anupalabdhi Pramana = "anupalabdhi" // non-apprehension / speculation
)

// PreservationWeight is the fixed retention weight of each pramana.
func (p Pramana) PreservationWeight() float64 {
	switch p {
	case Pratyaksha:
		return 0.95
	case Shabda:
		return 0.80
	case Anumana:
		return 0.65
	case Upamana:
		return 0.50
	case Arthapatti:
		return 0.40
	default:
		return 0.25
	}
}

var (
	speculationRe   = regexp.MustCompile(`(?i)\b(maybe|perhaps|might|possibly|not sure|unclear|no sign of|absence of)\b`)
	postulationRe   = regexp.MustCompile(`(?i)\b(must have|presumably|therefore|it follows|implies)\b`)
	analogyRe       = regexp.MustCompile(`(?i)\b(similar to|analogous|resembles|just as|like a)\b`)
	documentationRe = regexp.MustCompile(`(?i)\b(according to|the docs|documentation|readme|reference manual|the spec)\b`)
)

// classifyPramana determines a turn's source class: a direct tool result
// with non-empty output is pratyaksha; otherwise a marker cascade over the
// message content decides, falling through to anumana.
func classifyPramana(t store.Turn) Pramana {
	calls, _ := t.ToolCalls()
	for _, c := range calls {
		if !c.Errored && c.Output != "" {
			return Pratyaksha
		}
	}
	switch {
	case speculationRe.MatchString(t.Content):
		return Anupalabdhi
	case postulationRe.MatchString(t.Content):
		return Arthapatti
	case analogyRe.MatchString(t.Content):
		return Upamana
	case documentationRe.MatchString(t.Content):
		return Shabda
	default:
		return Anumana
	}
}

// Chunk is one turn's compression accounting.
type Chunk struct {
	TurnID     string
	Pramana    Pramana
	Tokens     int
	Recency    float64
	Relevance  float64
	Importance float64
	Budget     int
}

// CompressMetrics summarizes the compress phase.
type CompressMetrics struct {
	Chunks              []Chunk
	TotalOriginalTokens int
	CompressedTokens    int
	CompressionRatio    float64
	SinkhornIterations  int
	SinkhornConverged   bool
}

// compressionTarget is the fraction of the original token total retained.
const compressionTarget = 0.7

const recencyHorizon = 30 * 24 * time.Hour

// compress assigns each recent turn a pramana-weighted token budget: a
// pairwise affinity matrix over (relevance, recency, importance) is made
// doubly stochastic via Sinkhorn-Knopp, and each chunk's row mass times its
// relevance becomes its share of a 30%-reduced token pool.
func (p *Pipeline) compress(sessions []sessionData, now time.Time) CompressMetrics {
	m := CompressMetrics{}

	for _, sd := range sessions {
		for _, t := range sd.turns {
			calls, _ := t.ToolCalls()
			errored := false
			for _, c := range calls {
				if c.Errored {
					errored = true
					break
				}
			}
			pramana := classifyPramana(t)
			weight := pramana.PreservationWeight()
			importance := weight
			if errored {
				importance = 0.9
			}
			age := now.Sub(t.CreatedAt)
			chunk := Chunk{
				TurnID:     t.ID,
				Pramana:    pramana,
				Tokens:     estimateTokens(t.Content),
				Recency:    math.Max(0, 1-age.Seconds()/recencyHorizon.Seconds()),
				Relevance:  weight,
				Importance: importance,
			}
			m.Chunks = append(m.Chunks, chunk)
			m.TotalOriginalTokens += chunk.Tokens
		}
	}
	if len(m.Chunks) == 0 {
		m.SinkhornConverged = true
		return m
	}

	n := len(m.Chunks)
	affinity := make([][]float64, n)
	for i := range affinity {
		affinity[i] = make([]float64, n)
		for j := range affinity[i] {
			ci, cj := m.Chunks[i], m.Chunks[j]
			v := 0.40*(ci.Relevance+cj.Relevance)/2 +
				0.35*math.Min(ci.Recency, cj.Recency) +
				0.25*math.Max(ci.Importance, cj.Importance)
			affinity[i][j] = math.Max(v, 1e-6)
		}
	}

	ds, iters, converged := sinkhorn(affinity, 1e-6, 150)
	m.SinkhornIterations = iters
	m.SinkhornConverged = converged

	raw := make([]float64, n)
	var rawSum float64
	for i := range ds {
		var rowSum float64
		for _, v := range ds[i] {
			rowSum += v
		}
		raw[i] = rowSum * m.Chunks[i].Relevance
		rawSum += raw[i]
	}

	target := compressionTarget * float64(m.TotalOriginalTokens)
	for i := range m.Chunks {
		budget := 0.0
		if rawSum > 0 {
			budget = raw[i] / rawSum * target
		}
		final := int(math.Min(budget, float64(m.Chunks[i].Tokens)))
		m.Chunks[i].Budget = final
		m.CompressedTokens += final
	}
	if m.TotalOriginalTokens > 0 {
		m.CompressionRatio = float64(m.CompressedTokens) / float64(m.TotalOriginalTokens)
	}
	return m
}

// estimateTokens approximates a text's token count at four characters per
// token, never below one for non-empty text.
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	n := len(content) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// sinkhorn rescales rows then columns of a until every row sum is within
// tol of 1, or maxIter passes elapse. The input must be strictly positive,
// which the affinity floor guarantees.
func sinkhorn(a [][]float64, tol float64, maxIter int) (ds [][]float64, iterations int, converged bool) {
	n := len(a)
	ds = make([][]float64, n)
	for i := range a {
		ds[i] = append([]float64(nil), a[i]...)
	}

	for iterations = 0; iterations < maxIter; iterations++ {
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				sum += ds[i][j]
			}
			for j := 0; j < n; j++ {
				ds[i][j] /= sum
			}
		}
		for j := 0; j < n; j++ {
			var sum float64
			for i := 0; i < n; i++ {
				sum += ds[i][j]
			}
			for i := 0; i < n; i++ {
				ds[i][j] /= sum
			}
		}

		maxDev := 0.0
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				sum += ds[i][j]
			}
			maxDev = math.Max(maxDev, math.Abs(sum-1))
		}
		if maxDev < tol {
			return ds, iterations + 1, true
		}
	}
	return ds, iterations, false
}
