package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/eventbus"
)

// schedulerMsg is one unit of work marshaled onto the scheduler's internal
// channel. Every externally callable method on Scheduler builds one of these
// and blocks on its own reply channel rather than touching scheduler state
// directly; the single goroutine running loop() is the only writer of that
// state, so none of it needs a mutex.
type schedulerMsg func(*Scheduler)

// Scheduler is the Task Scheduler (component A): a priority-ordered,
// multi-strategy dispatcher bound to one Plan and its Agent Pool Manager.
type Scheduler struct {
	plan     *Plan
	executor Executor
	bus      *eventbus.Bus
	log      *slog.Logger

	pool *pool

	tasks map[string]*Task
	queue []*Task

	rrIndex int

	raceSiblings map[string][]string
	swarmPending map[string]map[string]bool
	swarmResults map[string]map[string]Result

	// runCancel holds the cancel func for each in-flight task's executor
	// context, so a losing race sibling or an explicit Cancel can ask a
	// context-respecting Executor to stop early instead of running to
	// completion for nothing.
	runCancel map[string]context.CancelFunc

	latencies      []time.Duration
	totalCost      float64
	totalTokens    int
	completedCount int
	failedCount    int
	startedAt      time.Time

	paused   bool
	planDone bool

	msgCh     chan schedulerMsg
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once

	nextSeq uint64
}

// NewScheduler constructs a Scheduler for plan. bus may be nil, in which
// case no lifecycle events are emitted.
func NewScheduler(plan *Plan, executor Executor, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		plan:         plan,
		executor:     executor,
		bus:          bus,
		log:          slog.With("component", "orchestrator", "plan", plan.ID),
		pool:         newPool(plan),
		tasks:        make(map[string]*Task),
		raceSiblings: make(map[string][]string),
		swarmPending: make(map[string]map[string]bool),
		swarmResults: make(map[string]map[string]Result),
		runCancel:    make(map[string]context.CancelFunc),
		msgCh:        make(chan schedulerMsg, 64),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Start runs the scheduler's message loop and periodic queue drain until ctx
// is cancelled or Stop is called. tickInterval should come from
// config.SchedulerConfig.TickInterval.
func (s *Scheduler) Start(ctx context.Context, tickInterval time.Duration) {
	s.startedAt = time.Now()
	s.emitPlanStart()
	go s.loop(ctx, tickInterval)
}

func (s *Scheduler) loop(ctx context.Context, tickInterval time.Duration) {
	defer close(s.stoppedCh)
	// Dispose executor resources on the way out: the loop goroutine is the
	// only owner of runCancel, so in-flight runs are cancelled here rather
	// than from Stop's caller.
	defer func() {
		for id, cancel := range s.runCancel {
			cancel()
			delete(s.runCancel, id)
		}
		for _, t := range s.tasks {
			if !t.Status.Terminal() {
				t.Status = StatusCancelled
			}
		}
	}()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case msg := <-s.msgCh:
			msg(s)
		case <-ticker.C:
			if !s.paused {
				s.drainQueue()
			}
		}
	}
}

// Stop halts the message loop and waits for it to exit. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.shutdown()
	<-s.stoppedCh
}

// shutdown signals the loop to exit without waiting for it. The loop
// goroutine itself calls this on plan failure; waiting there would deadlock.
func (s *Scheduler) shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) call(f func(*Scheduler)) {
	done := make(chan struct{})
	msg := func(sc *Scheduler) {
		f(sc)
		close(done)
	}
	select {
	case s.msgCh <- msg:
	case <-s.stopCh:
		return
	}
	select {
	case <-done:
	case <-s.stopCh:
	}
}

// Pause suspends queue draining; in-flight tasks are unaffected.
func (s *Scheduler) Pause() { s.call(func(sc *Scheduler) { sc.paused = true }) }

// Resume re-enables queue draining.
func (s *Scheduler) Resume() { s.call(func(sc *Scheduler) { sc.paused = false }) }

// Submit enqueues task for dispatch.
func (s *Scheduler) Submit(task *Task) error {
	var err error
	s.call(func(sc *Scheduler) { err = sc.submitInternal(task) })
	return err
}

// SubmitBatch enqueues every task, stopping at the first error.
func (s *Scheduler) SubmitBatch(tasks []*Task) error {
	var err error
	s.call(func(sc *Scheduler) {
		for _, t := range tasks {
			if err = sc.submitInternal(t); err != nil {
				return
			}
		}
	})
	return err
}

func (s *Scheduler) submitInternal(task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already submitted", task.ID)
	}
	task.Status = StatusPending
	task.submittedSeq = s.nextSeq
	s.nextSeq++
	task.submittedAt = time.Now()
	s.tasks[task.ID] = task
	s.enqueue(task)
	s.emitTaskQueued(task)
	return nil
}

// enqueue inserts task into s.queue keeping ascending order by (Priority,
// Deadline, submission order); the ordering drainQueue's eligibility walk
// relies on.
func (s *Scheduler) enqueue(task *Task) {
	i := sort.Search(len(s.queue), func(i int) bool {
		return taskLess(task, s.queue[i])
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = task
}

func taskLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	ad, bd := deadlineOrMax(a), deadlineOrMax(b)
	if ad != bd {
		return ad < bd
	}
	return a.submittedSeq < b.submittedSeq
}

func deadlineOrMax(t *Task) int64 {
	if t.Deadline == nil {
		return int64(^uint64(0) >> 1)
	}
	return *t.Deadline
}

// Cancel removes task from its wait queue, or, if already bound to an
// instance, marks it cancelled and asks its Executor to stop via context
// cancellation (the eventual completion/failure is then discarded).
func (s *Scheduler) Cancel(taskID string) (bool, error) {
	var ok bool
	s.call(func(sc *Scheduler) {
		task, exists := sc.tasks[taskID]
		if !exists {
			return
		}
		if task.Status.Terminal() {
			return
		}
		for i, t := range sc.queue {
			if t.ID == taskID {
				sc.queue = append(sc.queue[:i], sc.queue[i+1:]...)
				ok = true
				break
			}
		}
		if !ok {
			ok = sc.pool.removeFromWaiting(taskID)
			if !ok {
				sc.cancelRun(taskID)
			}
		}
		task.Status = StatusCancelled
		ok = true
	})
	return ok, nil
}

// drainQueue dispatches the eligible prefix of the queue. It stops at the
// first task whose dependencies are neither satisfied nor unsatisfiable;
// later tasks never leapfrog a blocked head of queue.
func (s *Scheduler) drainQueue() {
	for len(s.queue) > 0 {
		head := s.queue[0]
		state, badDep := s.depState(head)
		switch state {
		case depPending:
			return
		case depUnsatisfiable:
			s.queue = s.queue[1:]
			s.failTask(head, &DependencyUnsatisfiableError{TaskID: head.ID, DependencyID: badDep})
			continue
		}
		s.queue = s.queue[1:]
		s.dispatch(head)
	}
}

type depState int

const (
	depSatisfied depState = iota
	depPending
	depUnsatisfiable
)

func (s *Scheduler) depState(task *Task) (depState, string) {
	pending := false
	for _, depID := range task.Dependencies {
		dep, ok := s.tasks[depID]
		if !ok {
			pending = true
			continue
		}
		switch dep.Status {
		case StatusCompleted:
			continue
		case StatusFailed, StatusCancelled:
			return depUnsatisfiable, depID
		default:
			pending = true
		}
	}
	if pending {
		return depPending, ""
	}
	return depSatisfied, ""
}

func (s *Scheduler) dispatch(task *Task) {
	switch s.plan.Strategy {
	case StrategyCompetitive:
		s.dispatchRace(task)
	case StrategySwarm:
		s.dispatchSwarm(task)
	case StrategyHierarchical:
		s.dispatchHierarchical(task)
	default:
		s.dispatchSingle(task)
	}
}

func (s *Scheduler) startExecutor(inst *AgentInstance, task *Task) {
	task.Status = StatusRunning
	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel[task.ID] = cancel
	instCopy := *inst
	taskCopy := *task
	go func() {
		result, err := s.executor.Run(ctx, instCopy, taskCopy)
		msg := func(sc *Scheduler) {
			delete(sc.runCancel, task.ID)
			if err != nil {
				sc.handleFailure(task.ID, inst.ID, err)
			} else {
				sc.handleCompletion(task.ID, inst.ID, result)
			}
		}
		select {
		case s.msgCh <- msg:
		case <-s.stopCh:
		}
	}()
}

// cancelRun asks taskID's in-flight Executor to stop via its context, if
// one is running. A no-op if the task never started or already finished.
func (s *Scheduler) cancelRun(taskID string) {
	if cancel, ok := s.runCancel[taskID]; ok {
		cancel()
	}
}

// HandleCompletion reports a terminal success from an external executor
// layer. Results delivered for unknown or already-terminal tasks are
// discarded after freeing any stale binding.
func (s *Scheduler) HandleCompletion(taskID string, result Result) {
	s.call(func(sc *Scheduler) {
		instanceID := ""
		if inst := sc.pool.instanceForTask(taskID); inst != nil {
			instanceID = inst.ID
		}
		sc.handleCompletion(taskID, instanceID, result)
	})
}

// HandleFailure is HandleCompletion's failing counterpart; it feeds the
// retry/fallback machinery.
func (s *Scheduler) HandleFailure(taskID string, cause error) {
	s.call(func(sc *Scheduler) {
		instanceID := ""
		if inst := sc.pool.instanceForTask(taskID); inst != nil {
			instanceID = inst.ID
		}
		sc.handleFailure(taskID, instanceID, cause)
	})
}

// handleCompletion records a successful executor result and frees inst's
// instance, rebinding it to the next queued task if one is waiting.
func (s *Scheduler) handleCompletion(taskID, instanceID string, result Result) {
	task, ok := s.tasks[taskID]
	if !ok || task.Status.Terminal() {
		s.settleInstance(instanceID)
		return
	}
	task.Status = StatusCompleted
	result.Success = true
	task.Result = &result
	s.completedCount++
	s.recordMetrics(result.Metrics)
	s.emitTaskCompleted(task)
	s.settleInstance(instanceID)
	s.resolveRace(task)
	s.resolveSwarmMember(task)
	s.checkPlanDone()
}

// handleFailure applies the retry policy: re-enqueue with
// exponential backoff until task.MaxRetries is exhausted, then mark it
// permanently failed and run any configured fallback.
func (s *Scheduler) handleFailure(taskID, instanceID string, cause error) {
	task, ok := s.tasks[taskID]
	if !ok || task.Status.Terminal() {
		s.settleInstance(instanceID)
		return
	}
	s.settleInstance(instanceID)

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = StatusRetrying
		delay := backoffDelay(task.RetryCount - 1)
		s.emitTaskRetry(task, delay)
		time.AfterFunc(delay, func() {
			msg := func(sc *Scheduler) {
				if task.Status == StatusRetrying {
					task.Status = StatusQueued
					sc.enqueue(task)
				}
			}
			select {
			case s.msgCh <- msg:
			case <-s.stopCh:
			}
		})
		return
	}

	s.failTask(task, NewTaskFailedError(task.ID, cause))
	s.resolveRace(task)
	s.resolveSwarmMember(task)
	s.checkPlanDone()
}

func (s *Scheduler) failTask(task *Task, err error) {
	task.Status = StatusFailed
	task.Result = &Result{Success: false, Error: err.Error()}
	s.failedCount++
	s.emitTaskFailed(task, err)

	if s.plan.Fallback.Handler != nil {
		if replacement := s.plan.Fallback.Handler(task); replacement != nil {
			_ = s.submitInternal(replacement)
		}
	}
	if s.plan.Fallback.EscalateToHuman {
		s.emitEscalation(task, err)
	}

	if task.isTopLevel() {
		s.checkFailureTolerance()
	}
	s.checkPlanDone()
}

// checkFailureTolerance fails the whole plan when the failure budget is
// spent: any top-level failure with TolerateFailures unset, or the failed
// count reaching Coordination.MaxFailures when one is configured. A failed
// plan shuts the scheduler down; remaining in-flight runs are cancelled on
// the loop's way out.
func (s *Scheduler) checkFailureTolerance() {
	if s.planDone {
		return
	}
	pol := s.plan.Coordination
	var failed int
	for _, t := range s.tasks {
		if t.Status == StatusFailed && t.isTopLevel() {
			failed++
		}
	}
	exceeded := pol.MaxFailures != nil && failed >= *pol.MaxFailures
	if exceeded || (!pol.TolerateFailures && failed > 0) {
		s.planDone = true
		s.emitPlanFailed(ErrTaskFailed)
		s.shutdown()
	}
}

// checkPlanDone emits plan:complete once every top-level task has reached a
// terminal state. Race/swarm sub-tasks never count; a plan that already
// failed its tolerance check stays failed.
func (s *Scheduler) checkPlanDone() {
	if s.planDone || len(s.tasks) == 0 {
		return
	}
	for _, t := range s.tasks {
		if t.isTopLevel() && !t.Status.Terminal() {
			return
		}
	}
	s.planDone = true
	s.emitPlanComplete()
}

// settleInstance frees instanceID and, if another task was waiting, starts
// it immediately on the now-idle instance.
func (s *Scheduler) settleInstance(instanceID string) {
	next, inst := s.pool.free(instanceID)
	if inst == nil {
		return
	}
	if next == nil {
		s.emitAgentIdle(inst)
		return
	}
	next.Status = StatusAssigned
	s.emitTaskAssigned(next, inst)
	s.startExecutor(inst, next)
}

// resolveRace checks whether task is a race sibling and, if it is the first
// sibling to reach a terminal state, copies its outcome onto the race
// parent and cancels the remaining siblings.
func (s *Scheduler) resolveRace(task *Task) {
	parentID, ok := task.raceParent()
	if !ok {
		return
	}
	parent, ok := s.tasks[parentID]
	if !ok || parent.Status.Terminal() {
		return
	}
	parent.Status = task.Status
	parent.Result = task.Result
	if task.Status == StatusCompleted {
		s.completedCount++
	} else {
		s.failedCount++
	}
	s.emitTaskCompleted(parent)

	for _, sibID := range s.raceSiblings[parentID] {
		if sibID == task.ID {
			continue
		}
		if sib, ok := s.tasks[sibID]; ok && !sib.Status.Terminal() {
			sib.Status = StatusCancelled
			if s.pool.instanceForTask(sibID) != nil {
				// Still bound to an instance: ask its Executor to stop; the
				// instance is reclaimed naturally once that goroutine's
				// handleCompletion/handleFailure call sees the task is
				// already terminal and settles it.
				s.cancelRun(sibID)
			} else {
				s.pool.removeFromWaiting(sibID)
			}
		}
	}
	delete(s.raceSiblings, parentID)
}

// resolveSwarmMember records task's outcome against its swarm parent and,
// once every member is terminal, merges the parent's result per the plan's
// SwarmMergePolicy.
func (s *Scheduler) resolveSwarmMember(task *Task) {
	parentID, ok := task.swarmParent()
	if !ok {
		return
	}
	pending := s.swarmPending[parentID]
	if pending == nil {
		return
	}
	delete(pending, task.ID)
	if task.Result != nil {
		s.swarmResults[parentID][task.ID] = *task.Result
	}
	if len(pending) > 0 {
		return
	}

	parent, ok := s.tasks[parentID]
	if !ok {
		return
	}
	results := s.swarmResults[parentID]
	anySuccess := false
	allSuccess := true
	for _, r := range results {
		if r.Success {
			anySuccess = true
		} else {
			allSuccess = false
		}
	}

	success := anySuccess
	if s.plan.Coordination.SwarmMerge == config.SwarmMergeAllSuccess {
		success = allSuccess
	}

	if success {
		parent.Status = StatusCompleted
		parent.Result = &Result{Success: true, Output: results}
		s.completedCount++
		s.emitTaskCompleted(parent)
	} else {
		s.failTask(parent, NewTaskFailedError(parent.ID, ErrTaskFailed))
	}
	delete(s.swarmPending, parentID)
	delete(s.swarmResults, parentID)
}

func (s *Scheduler) recordMetrics(m *Metrics) {
	if m == nil {
		return
	}
	s.totalCost += m.Cost
	s.totalTokens += m.Tokens
	if m.EndEpochMs > m.StartEpochMs {
		s.latencies = append(s.latencies, time.Duration(m.EndEpochMs-m.StartEpochMs)*time.Millisecond)
	}
}

// GetStats returns a point-in-time snapshot.
func (s *Scheduler) GetStats() Stats {
	var stats Stats
	s.call(func(sc *Scheduler) {
		var running int
		for _, inst := range sc.pool.instances {
			if inst.Status != InstanceIdle {
				running++
			}
		}
		var totalLatency time.Duration
		for _, l := range sc.latencies {
			totalLatency += l
		}
		avg := time.Duration(0)
		if len(sc.latencies) > 0 {
			avg = totalLatency / time.Duration(len(sc.latencies))
		}
		elapsed := time.Since(sc.startedAt).Seconds()
		throughput := 0.0
		if elapsed > 0 {
			throughput = float64(sc.completedCount) / elapsed
		}
		stats = Stats{
			TotalTasks:     len(sc.tasks),
			Pending:        len(sc.queue),
			Running:        running,
			Completed:      sc.completedCount,
			Failed:         sc.failedCount,
			ActiveAgents:   len(sc.pool.instances),
			TotalCost:      sc.totalCost,
			TotalTokens:    sc.totalTokens,
			AverageLatency: avg,
			Throughput:     throughput,
		}
	})
	return stats
}

// GetActiveAgents returns a snapshot of every spawned instance.
func (s *Scheduler) GetActiveAgents() []*AgentInstance {
	var out []*AgentInstance
	s.call(func(sc *Scheduler) { out = sc.pool.activeAgents() })
	return out
}

// GetResults returns a snapshot of task's current state, if known.
func (s *Scheduler) GetResults(taskID string) (*Task, bool) {
	var out *Task
	var ok bool
	s.call(func(sc *Scheduler) {
		if t, exists := sc.tasks[taskID]; exists {
			out, ok = t.clone(), true
		}
	})
	return out, ok
}

// ScaleAgent imperatively resizes slotID's instance pool.
func (s *Scheduler) ScaleAgent(slotID string, target int) error {
	var err error
	s.call(func(sc *Scheduler) { err = sc.pool.scaleAgent(slotID, target) })
	return err
}
