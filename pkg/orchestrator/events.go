package orchestrator

import (
	"time"

	"github.com/codeready-toolchain/svapna/pkg/eventbus"
)

// publish stamps Timestamp and forwards e to the bus, if one is configured.
// The handler runs synchronously on the scheduler's loop goroutine;
// eventbus.Bus.Publish recovers panics on its own.
func (s *Scheduler) publish(e eventbus.Event) {
	if s.bus == nil {
		return
	}
	e.Timestamp = time.Now()
	e.PlanID = s.plan.ID
	s.bus.Publish(e)
}

func (s *Scheduler) emitTaskQueued(t *Task) {
	s.publish(eventbus.Event{Kind: eventbus.KindTaskQueued, TaskID: t.ID})
}

func (s *Scheduler) emitTaskAssigned(t *Task, inst *AgentInstance) {
	s.publish(eventbus.Event{Kind: eventbus.KindTaskAssigned, TaskID: t.ID, AgentID: inst.ID, SlotID: inst.SlotID})
}

func (s *Scheduler) emitTaskRetry(t *Task, delay time.Duration) {
	s.publish(eventbus.Event{
		Kind:   eventbus.KindTaskRetry,
		TaskID: t.ID,
		Fields: map[string]any{"attempt": t.RetryCount, "delay": delay.String()},
	})
}

func (s *Scheduler) emitTaskCompleted(t *Task) {
	s.publish(eventbus.Event{Kind: eventbus.KindTaskCompleted, TaskID: t.ID})
}

func (s *Scheduler) emitTaskFailed(t *Task, err error) {
	s.publish(eventbus.Event{Kind: eventbus.KindTaskFailed, TaskID: t.ID, Err: err})
}

func (s *Scheduler) emitAgentSpawned(inst *AgentInstance) {
	s.publish(eventbus.Event{Kind: eventbus.KindAgentSpawned, AgentID: inst.ID, SlotID: inst.SlotID})
}

func (s *Scheduler) emitAgentIdle(inst *AgentInstance) {
	s.publish(eventbus.Event{Kind: eventbus.KindAgentIdle, AgentID: inst.ID, SlotID: inst.SlotID})
}

func (s *Scheduler) emitAgentOverloaded(slotID string) {
	s.publish(eventbus.Event{Kind: eventbus.KindAgentOverloaded, SlotID: slotID})
}

func (s *Scheduler) emitEscalation(t *Task, err error) {
	s.publish(eventbus.Event{Kind: eventbus.KindEscalation, TaskID: t.ID, Err: err})
}

func (s *Scheduler) emitPlanStart() {
	s.publish(eventbus.Event{Kind: eventbus.KindPlanStart})
}

func (s *Scheduler) emitPlanComplete() {
	s.publish(eventbus.Event{
		Kind:   eventbus.KindPlanComplete,
		Fields: map[string]any{"completed": s.completedCount, "failed": s.failedCount},
	})
}

func (s *Scheduler) emitPlanFailed(err error) {
	s.publish(eventbus.Event{Kind: eventbus.KindPlanFailed, Err: err})
}
