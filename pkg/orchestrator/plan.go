package orchestrator

import "github.com/codeready-toolchain/svapna/pkg/config"

// Strategy is the closed set of dispatch strategies. Reuses the
// configuration package's enum so a loaded SchedulerConfig plugs directly
// into a Plan without translation.
type Strategy = config.Strategy

// Strategy values, re-exported for callers that don't otherwise import config.
const (
	StrategyRoundRobin   = config.StrategyRoundRobin
	StrategyLeastLoaded  = config.StrategyLeastLoaded
	StrategySpecialized  = config.StrategySpecialized
	StrategyCompetitive  = config.StrategyCompetitive
	StrategySwarm        = config.StrategySwarm
	StrategyHierarchical = config.StrategyHierarchical
	StrategyRouted       = config.StrategyRouted
)

// RoutingRule is one predicate/slot pair for the "routed" strategy. Unlike
// the six fixed strategy tags, routing rules are inherently open-ended and
// so are ordinary caller-supplied values rather than a sum type.
type RoutingRule struct {
	Name      string
	Predicate func(*Task) bool
	SlotID    string
}

// FallbackHandler may replace a terminally-failed task with a new one.
// Returning nil means "no replacement".
type FallbackHandler func(failed *Task) *Task

// CoordinationPolicy controls plan-level failure tolerance.
type CoordinationPolicy struct {
	TolerateFailures bool
	MaxFailures      *int
	SharedContext    any
	SwarmMerge       config.SwarmMergePolicy
}

// FallbackPolicy controls terminal-failure recovery.
type FallbackPolicy struct {
	Handler         FallbackHandler
	EscalateToHuman bool
}

// Plan is an Orchestration Plan: a named set of agent slots dispatched
// against via a single strategy, plus plan-wide coordination/fallback policy.
type Plan struct {
	ID                     string
	Slots                  []*AgentSlot
	Strategy               Strategy
	RoutingRules           []RoutingRule
	Coordination           CoordinationPolicy
	Fallback               FallbackPolicy
	HierarchicalDecomposer func(*Task) []*Task
}

func (p *Plan) slotByID(id string) *AgentSlot {
	for _, s := range p.Slots {
		if s.ID == id {
			return s
		}
	}
	return nil
}
