package svapna

import "sort"

// Association links one high-surprise turn to a structurally similar other
// session.
type Association struct {
	AnchorTurnID       string
	AnchorSessionID    string
	MatchedSessionID   string
	Similarity         float64
	AnchorFingerprint  string
	SessionFingerprint string
}

// RecombineMetrics summarizes the recombine phase.
type RecombineMetrics struct {
	Associations       []Association
	UniqueSessionPairs int
}

// minAssociationSimilarity is the Jaccard floor below which a turn/session
// pair is not worth recording.
const minAssociationSimilarity = 0.15

// recombine compares each high-surprise turn's local tool fingerprint
// against every other session's whole-session fingerprint. A turn without
// tool calls has an empty fingerprint and can never associate, so it is
// skipped outright.
func (p *Pipeline) recombine(sessions []sessionData, highSurprise []TurnScore) RecombineMetrics {
	m := RecombineMetrics{}

	sessionFPs := make(map[string]fingerprint, len(sessions))
	for _, sd := range sessions {
		var names []string
		for _, t := range sd.turns {
			calls, _ := t.ToolCalls()
			for _, c := range calls {
				names = append(names, c.Name)
			}
		}
		sessionFPs[sd.session.ID] = newFingerprint(names)
	}

	type pair struct{ a, b string }
	seenPairs := make(map[pair]struct{})

	for _, ts := range highSurprise {
		if len(ts.ToolCalls) == 0 {
			continue
		}
		names := make([]string, len(ts.ToolCalls))
		for i, c := range ts.ToolCalls {
			names[i] = c.Name
		}
		local := newFingerprint(names)

		for _, sd := range sessions {
			if sd.session.ID == ts.Turn.SessionID {
				continue
			}
			sim := jaccard(local, sessionFPs[sd.session.ID])
			if sim < minAssociationSimilarity {
				continue
			}
			m.Associations = append(m.Associations, Association{
				AnchorTurnID:       ts.Turn.ID,
				AnchorSessionID:    ts.Turn.SessionID,
				MatchedSessionID:   sd.session.ID,
				Similarity:         sim,
				AnchorFingerprint:  local.String(),
				SessionFingerprint: sessionFPs[sd.session.ID].String(),
			})
			a, b := ts.Turn.SessionID, sd.session.ID
			if b < a {
				a, b = b, a
			}
			seenPairs[pair{a, b}] = struct{}{}
		}
	}

	sort.SliceStable(m.Associations, func(i, j int) bool {
		return m.Associations[i].Similarity > m.Associations[j].Similarity
	})
	m.UniqueSessionPairs = len(seenPairs)
	return m
}
