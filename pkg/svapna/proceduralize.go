package svapna

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/codeready-toolchain/svapna/pkg/store"
)

// ProceduralizeMetrics summarizes the proceduralize phase.
type ProceduralizeMetrics struct {
	CandidateNGrams int
	Created         int
	AlreadyKnown    int
}

// minContributingSessions is the session-spread floor for an n-gram to
// qualify as a vidhi candidate.
const minContributingSessions = 3

type traceCall struct {
	name    string
	errored bool
	args    map[string]any
}

type sessionTrace struct {
	id          string
	calls       []traceCall
	successRate float64
}

type ngramOccurrence struct {
	sessionID string
	args      []map[string]any
	success   bool
}

type ngramAgg struct {
	names       []string
	sessions    map[string]struct{}
	occurrences []ngramOccurrence
}

// proceduralize mines repeated tool-call n-grams across sessions into
// vidhis: each qualifying sequence is anti-unified position-by-position into
// an argument template, with varying values replaced by ${...} placeholders
// and recorded in the parameter schema.
func (p *Pipeline) proceduralize(ctx context.Context, sessions []sessionData) (ProceduralizeMetrics, error) {
	m := ProceduralizeMetrics{}

	traces := buildTraces(sessions)
	grams := extractNGrams(traces, p.cfg.MinSequenceLength, p.cfg.MaxSequenceLength)

	successBySession := make(map[string]float64, len(traces))
	for _, tr := range traces {
		successBySession[tr.id] = tr.successRate
	}

	keys := make([]string, 0, len(grams))
	for k := range grams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		agg := grams[key]
		if len(agg.sessions) < minContributingSessions {
			continue
		}
		var sum float64
		for sid := range agg.sessions {
			sum += successBySession[sid]
		}
		avgSuccess := sum / float64(len(agg.sessions))
		if avgSuccess < p.cfg.MinSuccessRate {
			continue
		}
		m.CandidateNGrams++

		name := strings.Join(agg.names, "-then-")
		id := "vidhi-" + name
		exists, err := p.store.VidhiExists(ctx, id)
		if err != nil {
			return m, fmt.Errorf("checking vidhi %q: %w", id, err)
		}
		if exists {
			m.AlreadyKnown++
			continue
		}

		steps, schema := antiUnify(agg)
		successes := 0
		for _, occ := range agg.occurrences {
			if occ.success {
				successes++
			}
		}
		sessionIDs := make([]string, 0, len(agg.sessions))
		for sid := range agg.sessions {
			sessionIDs = append(sessionIDs, sid)
		}
		sort.Strings(sessionIDs)

		v := &store.Vidhi{
			ID:      id,
			Project: p.cfg.Project,
			Name:    name,
			Confidence: math.Min(1.0,
				avgSuccess*float64(len(agg.sessions))/math.Max(float64(len(sessions)), 1)),
			SuccessCount: successes,
			FailureCount: len(agg.occurrences) - successes,
		}
		if err := v.SetSteps(steps); err != nil {
			return m, err
		}
		if err := v.SetParameterSchema(schema); err != nil {
			return m, err
		}
		v.SetTriggerPhrases(triggerPhrases(agg.names))
		v.SetSourceSessionIDs(sessionIDs)

		if err := p.store.InsertVidhi(ctx, v); err != nil {
			return m, fmt.Errorf("inserting vidhi %q: %w", id, err)
		}
		m.Created++
	}
	return m, nil
}

// buildTraces flattens each session's tool calls into chronological order
// and computes its success rate (fraction of calls that did not error).
func buildTraces(sessions []sessionData) []sessionTrace {
	traces := make([]sessionTrace, 0, len(sessions))
	for _, sd := range sessions {
		tr := sessionTrace{id: sd.session.ID}
		ok := 0
		for _, t := range sd.turns {
			calls, err := t.ToolCalls()
			if err != nil {
				continue
			}
			for _, c := range calls {
				args := map[string]any{}
				if len(c.Args) > 0 {
					_ = json.Unmarshal(c.Args, &args)
				}
				tr.calls = append(tr.calls, traceCall{name: c.Name, errored: c.Errored, args: args})
				if !c.Errored {
					ok++
				}
			}
		}
		if len(tr.calls) > 0 {
			tr.successRate = float64(ok) / float64(len(tr.calls))
		}
		traces = append(traces, tr)
	}
	return traces
}

// extractNGrams aggregates every tool-name n-gram of size [minLen, maxLen]
// across all traces, keyed by the joined name sequence.
func extractNGrams(traces []sessionTrace, minLen, maxLen int) map[string]*ngramAgg {
	grams := make(map[string]*ngramAgg)
	for _, tr := range traces {
		for n := minLen; n <= maxLen; n++ {
			for start := 0; start+n <= len(tr.calls); start++ {
				window := tr.calls[start : start+n]
				names := make([]string, n)
				args := make([]map[string]any, n)
				success := true
				for i, c := range window {
					names[i] = c.name
					args[i] = c.args
					if c.errored {
						success = false
					}
				}
				key := strings.Join(names, "\x1f")
				agg, ok := grams[key]
				if !ok {
					agg = &ngramAgg{names: names, sessions: map[string]struct{}{}}
					grams[key] = agg
				}
				agg.sessions[tr.id] = struct{}{}
				agg.occurrences = append(agg.occurrences, ngramOccurrence{
					sessionID: tr.id,
					args:      args,
					success:   success,
				})
			}
		}
	}
	return grams
}

// antiUnify folds all observed argument objects position-by-position into a
// single template: keys whose observed values are structurally equal stay
// constant, everything else becomes a ${step{pos}_param_{key}} placeholder
// with a schema entry. The first step is critical by default.
func antiUnify(agg *ngramAgg) ([]store.VidhiStep, map[string]store.ParamSpec) {
	steps := make([]store.VidhiStep, len(agg.names))
	schema := make(map[string]store.ParamSpec)

	for pos, name := range agg.names {
		keySet := map[string]struct{}{}
		for _, occ := range agg.occurrences {
			for k := range occ.args[pos] {
				keySet[k] = struct{}{}
			}
		}
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		template := map[string]any{}
		for _, k := range keys {
			var observed []any
			present := 0
			for _, occ := range agg.occurrences {
				if v, ok := occ.args[pos][k]; ok {
					observed = append(observed, v)
					present++
				}
			}
			if allEqual(observed) {
				template[k] = observed[0]
				continue
			}
			paramName := fmt.Sprintf("step%d_param_%s", pos, k)
			template[k] = "${" + paramName + "}"
			schema[paramName] = store.ParamSpec{
				Type:     inferType(observed[0]),
				Required: present == len(agg.occurrences),
				Examples: distinctExamples(observed, 3),
			}
		}
		steps[pos] = store.VidhiStep{
			Index:        pos,
			Tool:         name,
			ArgsTemplate: template,
			Critical:     pos == 0,
		}
	}
	return steps, schema
}

func allEqual(values []any) bool {
	for _, v := range values[1:] {
		if !reflect.DeepEqual(values[0], v) {
			return false
		}
	}
	return len(values) > 0
}

func inferType(v any) string {
	switch v.(type) {
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

func distinctExamples(values []any, max int) []any {
	var out []any
	for _, v := range values {
		dup := false
		for _, seen := range out {
			if reflect.DeepEqual(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
			if len(out) == max {
				break
			}
		}
	}
	return out
}

// triggerPhrases derives the natural-language triggers for a tool sequence:
// the "then"-joined full sequence, the "and"-joined head pair, plus canned
// phrases for well-known tool combinations.
func triggerPhrases(names []string) []string {
	phrases := []string{strings.Join(names, " then ")}
	if len(names) >= 2 {
		phrases = append(phrases, names[0]+" and "+names[1])
	}

	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	if set["read"] && set["edit"] {
		phrases = append(phrases, "modify file", "update file")
	}
	if set["grep"] || set["find"] {
		phrases = append(phrases, "search codebase", "find in code")
	}
	if set["bash"] {
		phrases = append(phrases, "run command", "execute")
	}
	if set["write"] {
		phrases = append(phrases, "create file", "write file")
	}
	return phrases
}
