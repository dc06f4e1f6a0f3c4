// Package eventbus implements the single-consumer lifecycle callback surface
// shared by the orchestrator, the Svapna consolidation pipeline, and the
// report synthesizer. Each owning component publishes events synchronously;
// the bus guarantees a misbehaving handler never interrupts the publisher.
package eventbus

import "time"

// Kind identifies one of the fixed lifecycle event tags. The set is closed:
// orchestrator events mirror the scheduler's state machine one-for-one, and
// the two consolidation/report kinds are the only additions this module
// needs over that fixed set.
type Kind string

// Orchestrator lifecycle kinds.
const (
	KindPlanStart       Kind = "plan:start"
	KindPlanComplete    Kind = "plan:complete"
	KindPlanFailed      Kind = "plan:failed"
	KindTaskQueued      Kind = "task:queued"
	KindTaskAssigned    Kind = "task:assigned"
	KindTaskRetry       Kind = "task:retry"
	KindTaskCompleted   Kind = "task:completed"
	KindTaskFailed      Kind = "task:failed"
	KindAgentSpawned    Kind = "agent:spawned"
	KindAgentIdle       Kind = "agent:idle"
	KindAgentOverloaded Kind = "agent:overloaded"
	KindEscalation      Kind = "escalation"
)

// Consolidation / report lifecycle kinds.
const (
	KindSvapnaPhase   Kind = "svapna:phase"
	KindReportWritten Kind = "report:written"
)

// Event carries the minimum fields needed to reconstruct a transition.
// Fields irrelevant to a given Kind are left zero; Fields holds anything
// kind-specific that doesn't deserve its own struct field.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	TaskID    string
	AgentID   string
	SlotID    string
	PlanID    string
	Project   string
	Err       error
	Fields    map[string]any
}
