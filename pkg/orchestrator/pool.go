package orchestrator

import "strconv"

// pool is the Agent Pool Manager (component B). It owns per-slot instance
// sets and FIFO wait queues; the Scheduler is its only caller and holds it
// for the lifetime of a single logical execution context, so no locking is
// needed here; see scheduler.go's message-driven core.
type pool struct {
	plan *Plan

	// instances indexes every spawned instance by id.
	instances map[string]*AgentInstance
	// bySlot lists instance ids belonging to a slot, in spawn order.
	bySlot map[string][]string
	// waiting is each slot's FIFO queue of tasks waiting for an idle instance.
	waiting map[string][]*Task
	// spawnSeq gives each slot's instances their monotonic id suffix.
	spawnSeq map[string]int
}

func newPool(plan *Plan) *pool {
	p := &pool{
		plan:      plan,
		instances: make(map[string]*AgentInstance),
		bySlot:    make(map[string][]string),
		waiting:   make(map[string][]*Task),
		spawnSeq:  make(map[string]int),
	}
	for _, s := range plan.Slots {
		for i := 0; i < s.MinInstances; i++ {
			p.spawn(s)
		}
	}
	return p
}

func (p *pool) spawn(slot *AgentSlot) *AgentInstance {
	p.spawnSeq[slot.ID]++
	inst := &AgentInstance{
		ID:     slot.ID + "-" + strconv.Itoa(p.spawnSeq[slot.ID]),
		SlotID: slot.ID,
		Status: InstanceIdle,
	}
	p.instances[inst.ID] = inst
	p.bySlot[slot.ID] = append(p.bySlot[slot.ID], inst.ID)
	return inst
}

func (p *pool) count(slotID string) int {
	return len(p.bySlot[slotID])
}

func (p *pool) idleInstance(slotID string) *AgentInstance {
	for _, id := range p.bySlot[slotID] {
		if inst := p.instances[id]; inst.Status == InstanceIdle {
			return inst
		}
	}
	return nil
}

// assignResult describes the outcome of routing a task to a slot.
type assignResult struct {
	instance *AgentInstance // non-nil if bound immediately
	queued   bool           // true if placed on the slot's FIFO wait queue
	spawned  *AgentInstance // non-nil if auto-scale spawned a new instance
}

// assign binds task to an idle instance of slot, or queues it.
func (p *pool) assign(slot *AgentSlot, task *Task) assignResult {
	if inst := p.idleInstance(slot.ID); inst != nil {
		inst.Status = InstanceBusy
		inst.CurrentTaskID = task.ID
		return assignResult{instance: inst}
	}

	p.waiting[slot.ID] = append(p.waiting[slot.ID], task)

	var spawned *AgentInstance
	if slot.AutoScale && !slot.boundedMax(p.count(slot.ID)) && len(p.waiting[slot.ID]) > 0 {
		spawned = p.spawn(slot)
	}
	return assignResult{queued: true, spawned: spawned}
}

// overloaded reports whether slot's wait queue exceeds its instance count;
// this triggers agent:overloaded regardless of whether autoScale fired.
func (p *pool) overloaded(slotID string) bool {
	return len(p.waiting[slotID]) > p.count(slotID)
}

// free releases instanceID back to idle and, if the slot has waiting work,
// immediately rebinds it to the head of the FIFO queue. Returns the newly
// (re)bound task, if any, and the freed instance (nil for an unknown id).
func (p *pool) free(instanceID string) (*Task, *AgentInstance) {
	inst, ok := p.instances[instanceID]
	if !ok {
		return nil, nil
	}
	inst.CurrentTaskID = ""
	inst.TasksCompleted++
	inst.Status = InstanceIdle

	q := p.waiting[inst.SlotID]
	if len(q) == 0 {
		return nil, inst
	}
	next := q[0]
	p.waiting[inst.SlotID] = q[1:]
	inst.Status = InstanceBusy
	inst.CurrentTaskID = next.ID
	return next, inst
}

// instanceForTask finds the instance currently bound to taskID, if any.
func (p *pool) instanceForTask(taskID string) *AgentInstance {
	for _, inst := range p.instances {
		if inst.CurrentTaskID == taskID {
			return inst
		}
	}
	return nil
}

// removeFromWaiting removes taskID from whichever slot queue holds it.
// Used by cancel() on a queued (not yet assigned) task.
func (p *pool) removeFromWaiting(taskID string) bool {
	for slotID, q := range p.waiting {
		for i, t := range q {
			if t.ID == taskID {
				p.waiting[slotID] = append(q[:i], q[i+1:]...)
				return true
			}
		}
	}
	return false
}

// scaleAgent removes idle instances from slot until count == target or no
// idle instances remain; busy instances are never removed.
func (p *pool) scaleAgent(slotID string, target int) error {
	slot := p.plan.slotByID(slotID)
	if slot == nil {
		return &UnknownAgentSlotError{SlotID: slotID}
	}

	ids := p.bySlot[slotID]
	for p.count(slotID) > target {
		removed := false
		for i, id := range ids {
			inst := p.instances[id]
			if inst.Status == InstanceIdle {
				delete(p.instances, id)
				ids = append(ids[:i], ids[i+1:]...)
				removed = true
				break
			}
		}
		p.bySlot[slotID] = ids
		if !removed {
			break // no idle instances left; busy ones are preserved
		}
	}

	for p.count(slotID) < target {
		p.spawn(slot)
	}
	return nil
}

func (p *pool) activeAgents() []*AgentInstance {
	out := make([]*AgentInstance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.clone())
	}
	return out
}
