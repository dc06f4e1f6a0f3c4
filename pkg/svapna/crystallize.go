package svapna

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/codeready-toolchain/svapna/pkg/store"
)

// CrystallizeMetrics summarizes the crystallize phase.
type CrystallizeMetrics struct {
	SamskarasProcessed int
	Clusters           int
	Created            int
	Reinforced         int
}

// bigramDiceThreshold merges a samskara into an existing cluster when its
// normalized content is strictly more similar than this to the cluster
// representative.
const bigramDiceThreshold = 0.7

type samskaraCluster struct {
	representative store.Samskara
	members        []store.Samskara
	sessions       map[string]struct{}
	maxConfidence  float64
}

// crystallize clusters eligible samskaras by pattern type and content
// similarity, then converts every cluster spanning at least two distinct
// sessions into a vasana: reinforcing one that already exists by name, or
// inserting a new one whose stability reflects how many of the cycle's
// sessions contributed.
func (p *Pipeline) crystallize(ctx context.Context, sessionCount int) (CrystallizeMetrics, error) {
	m := CrystallizeMetrics{}

	samskaras, err := p.store.EligibleSamskaras(ctx, p.cfg.Project, p.cfg.MinPatternFrequency, 0.5)
	if err != nil {
		return m, fmt.Errorf("loading samskaras: %w", err)
	}
	m.SamskarasProcessed = len(samskaras)

	var clusters []*samskaraCluster
next:
	for _, sk := range samskaras {
		norm := normalizeText(sk.PatternContent)
		for _, c := range clusters {
			if c.representative.PatternType != sk.PatternType {
				continue
			}
			if bigramDice(norm, normalizeText(c.representative.PatternContent)) > bigramDiceThreshold {
				c.members = append(c.members, sk)
				if sk.SessionID != nil {
					c.sessions[*sk.SessionID] = struct{}{}
				}
				c.maxConfidence = math.Max(c.maxConfidence, sk.Confidence)
				continue next
			}
		}
		c := &samskaraCluster{
			representative: sk,
			members:        []store.Samskara{sk},
			sessions:       map[string]struct{}{},
			maxConfidence:  sk.Confidence,
		}
		if sk.SessionID != nil {
			c.sessions[*sk.SessionID] = struct{}{}
		}
		clusters = append(clusters, c)
	}
	m.Clusters = len(clusters)

	now := time.Now().UTC()
	for _, c := range clusters {
		if len(c.sessions) < 2 {
			continue
		}
		name := truncate(slugify(c.representative.PatternContent), 80)
		memberIDs := make([]string, len(c.members))
		for i, sk := range c.members {
			memberIDs[i] = sk.ID
		}

		existing, err := p.store.FindVasanaByName(ctx, p.cfg.Project, name)
		if err != nil {
			return m, fmt.Errorf("looking up vasana %q: %w", name, err)
		}
		if existing != nil {
			strength := math.Min(1.0, existing.Strength+0.1)
			ids := unionStrings(existing.SourceSamskaraIDs(), memberIDs)
			if err := p.store.ReinforceVasana(ctx, existing.ID, strength, now, ids); err != nil {
				return m, fmt.Errorf("reinforcing vasana %q: %w", name, err)
			}
			m.Reinforced++
			continue
		}

		stability := float64(len(c.sessions)) / math.Max(float64(sessionCount), 1)
		project := p.cfg.Project
		v := &store.Vasana{
			Project:         &project,
			Name:            name,
			Description:     c.representative.PatternContent,
			Valence:         valenceFor(c.representative.PatternType),
			Strength:        math.Min(1.0, c.maxConfidence),
			Stability:       math.Min(1.0, stability),
			ActivationCount: 1,
			LastActivatedAt: &now,
		}
		v.SetSourceSamskaraIDs(memberIDs)
		if err := p.store.InsertVasana(ctx, v); err != nil {
			return m, fmt.Errorf("inserting vasana %q: %w", name, err)
		}
		m.Created++
	}
	return m, nil
}

// valenceFor maps a samskara pattern type onto the vasana's polarity.
func valenceFor(patternType string) store.Valence {
	switch patternType {
	case "correction":
		return store.ValenceNegative
	case "preference", "convention":
		return store.ValencePositive
	default:
		return store.ValenceNeutral
	}
}

// normalizeText lowercases s and collapses every non-alphanumeric run into
// a single space, so punctuation and spacing differences don't defeat the
// bigram comparison.
func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// bigramDice is the Sørensen–Dice coefficient over character bigrams:
// 2·|A∩B| / (|A|+|B|), counting multiplicity on the intersection side.
func bigramDice(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	counts := make(map[string]int)
	for i := 0; i+2 <= len(a); i++ {
		counts[a[i:i+2]]++
	}
	overlap := 0
	for i := 0; i+2 <= len(b); i++ {
		if counts[b[i:i+2]] > 0 {
			counts[b[i:i+2]]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(a)-1+len(b)-1)
}

// slugify renders s as a lowercase hyphen-separated slug.
func slugify(s string) string {
	return strings.ReplaceAll(normalizeText(s), " ", "-")
}

// truncate caps s at n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// unionStrings merges two id sets preserving first-seen order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
