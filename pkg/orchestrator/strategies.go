package orchestrator

import "github.com/google/uuid"

// selectSlot implements the four strategies that bind a task to exactly one
// slot up front: round-robin, least-loaded, specialized, routed.
// Competitive, swarm, and hierarchical fan a task out to several slots or
// sub-tasks instead and are handled by dispatch before selectSlot is reached.
func (s *Scheduler) selectSlot(task *Task) (*AgentSlot, bool) {
	switch s.plan.Strategy {
	case StrategyRoundRobin:
		return s.selectRoundRobin()
	case StrategySpecialized:
		return s.selectSpecialized(task)
	case StrategyRouted:
		return s.selectRouted(task)
	default: // StrategyLeastLoaded and any fan-out strategy's own sub-tasks
		return s.selectLeastLoaded()
	}
}

func (s *Scheduler) selectRoundRobin() (*AgentSlot, bool) {
	n := len(s.plan.Slots)
	if n == 0 {
		return nil, false
	}
	slot := s.plan.Slots[s.rrIndex%n]
	s.rrIndex = (s.rrIndex + 1) % n
	return slot, true
}

func (s *Scheduler) selectLeastLoaded() (*AgentSlot, bool) {
	var best *AgentSlot
	bestLoad := -1
	for _, slot := range s.plan.Slots {
		load := s.pool.count(slot.ID) + len(s.pool.waiting[slot.ID])
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = slot, load
		}
	}
	return best, best != nil
}

func (s *Scheduler) selectSpecialized(task *Task) (*AgentSlot, bool) {
	if task.PreferredSlot != "" {
		if slot := s.plan.slotByID(task.PreferredSlot); slot != nil {
			return slot, true
		}
	}
	for _, slot := range s.plan.Slots {
		if slot.Role == task.Type {
			return slot, true
		}
		for _, c := range slot.Capabilities {
			if c == task.Type {
				return slot, true
			}
		}
	}
	return s.selectLeastLoaded()
}

func (s *Scheduler) selectRouted(task *Task) (*AgentSlot, bool) {
	for _, rule := range s.plan.RoutingRules {
		if rule.Predicate == nil || !rule.Predicate(task) {
			continue
		}
		if slot := s.plan.slotByID(rule.SlotID); slot != nil {
			return slot, true
		}
	}
	return s.selectLeastLoaded()
}

// dispatchRace fans task out to every slot as a sibling race sub-task under
// the competitive strategy: the first sibling to complete wins and the rest
// are cancelled.
func (s *Scheduler) dispatchRace(task *Task) {
	sibIDs := make([]string, 0, len(s.plan.Slots))
	for _, slot := range s.plan.Slots {
		sib := task.clone()
		sib.ID = task.ID + ":race-" + slot.ID
		sib.Metadata = cloneMeta(task.Metadata)
		sib.Metadata["raceParent"] = task.ID
		sib.Status = StatusPending
		sib.submittedSeq = s.nextSeq
		s.nextSeq++
		s.tasks[sib.ID] = sib
		sibIDs = append(sibIDs, sib.ID)
		s.bindAndRun(sib, slot)
	}
	s.raceSiblings[task.ID] = sibIDs
	task.Status = StatusRunning
}

// dispatchSwarm fans task out to every slot as a swarm member; all
// members run to completion and the parent's result is merged per the
// plan's SwarmMergePolicy once every member is terminal.
func (s *Scheduler) dispatchSwarm(task *Task) {
	members := make(map[string]bool, len(s.plan.Slots))
	for _, slot := range s.plan.Slots {
		sub := task.clone()
		sub.ID = task.ID + ":swarm-" + slot.ID
		sub.Metadata = cloneMeta(task.Metadata)
		sub.Metadata["swarmParent"] = task.ID
		sub.Status = StatusPending
		sub.submittedSeq = s.nextSeq
		s.nextSeq++
		s.tasks[sub.ID] = sub
		members[sub.ID] = true
		s.bindAndRun(sub, slot)
	}
	s.swarmPending[task.ID] = members
	s.swarmResults[task.ID] = make(map[string]Result, len(members))
	task.Status = StatusRunning
}

// dispatchHierarchical decomposes task via the plan's decomposer, submitting
// each child as an independent queued task. A decomposer returning no
// children is a permitted no-op: task is dispatched normally instead.
func (s *Scheduler) dispatchHierarchical(task *Task) {
	var children []*Task
	if s.plan.HierarchicalDecomposer != nil {
		children = s.plan.HierarchicalDecomposer(task)
	}
	if len(children) == 0 {
		s.dispatchSingle(task)
		return
	}
	for _, child := range children {
		if child.ID == "" {
			child.ID = task.ID + "-child-" + uuid.NewString()
		}
		s.submitInternal(child)
	}
	task.Status = StatusCompleted
	task.Result = &Result{Success: true, Output: "decomposed"}
	s.completedCount++
	s.emitTaskCompleted(task)
}

// dispatchSingle binds task to one slot chosen by the plan's non-fan-out
// strategy and starts it.
func (s *Scheduler) dispatchSingle(task *Task) {
	slot, ok := s.selectSlot(task)
	if !ok {
		s.failTask(task, NewTaskFailedError(task.ID, ErrUnknownAgentSlot))
		return
	}
	s.bindAndRun(task, slot)
}

// bindAndRun assigns task to slot via the pool and, if an instance was bound
// immediately, starts the executor goroutine. A queued task is started later
// by pool.free when an instance becomes available (see scheduler.go).
func (s *Scheduler) bindAndRun(task *Task, slot *AgentSlot) {
	res := s.pool.assign(slot, task)
	if res.spawned != nil {
		s.emitAgentSpawned(res.spawned)
	}
	if res.queued {
		task.Status = StatusQueued
		s.emitTaskQueued(task)
		if s.pool.overloaded(slot.ID) {
			s.emitAgentOverloaded(slot.ID)
		}
		return
	}
	task.Status = StatusAssigned
	s.emitTaskAssigned(task, res.instance)
	s.startExecutor(res.instance, task)
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
