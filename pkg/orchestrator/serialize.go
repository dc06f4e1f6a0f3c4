package orchestrator

import (
	"encoding/json"
	"fmt"
)

// taskSnapshot is one task's serialized state, including its retry history
// and terminal result so a restored scheduler classifies every id exactly
// as the original did.
type taskSnapshot struct {
	ID           string         `json:"id"`
	Type         string         `json:"type,omitempty"`
	Priority     Priority       `json:"priority"`
	Deadline     *int64         `json:"deadline,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	MaxRetries   int            `json:"max_retries,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       Status         `json:"status"`
	RetryCount   int            `json:"retry_count,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	SubmittedSeq uint64         `json:"submitted_seq"`
}

// Snapshot is a serializable capture of the scheduler's task state and
// accumulated counters. Agent instances are deliberately excluded: they are
// process-bound resources the pool re-spawns from the plan on restore.
type Snapshot struct {
	PlanID      string         `json:"plan_id"`
	Tasks       []taskSnapshot `json:"tasks"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	TotalCost   float64        `json:"total_cost"`
	TotalTokens int            `json:"total_tokens"`
	NextSeq     uint64         `json:"next_seq"`
}

// Serialize captures the scheduler's current state as JSON.
func (s *Scheduler) Serialize() ([]byte, error) {
	var snap Snapshot
	s.call(func(sc *Scheduler) {
		snap = Snapshot{
			PlanID:      sc.plan.ID,
			Completed:   sc.completedCount,
			Failed:      sc.failedCount,
			TotalCost:   sc.totalCost,
			TotalTokens: sc.totalTokens,
			NextSeq:     sc.nextSeq,
		}
		for _, t := range sc.tasks {
			snap.Tasks = append(snap.Tasks, taskSnapshot{
				ID:           t.ID,
				Type:         t.Type,
				Priority:     t.Priority,
				Deadline:     t.Deadline,
				Dependencies: t.Dependencies,
				MaxRetries:   t.MaxRetries,
				Metadata:     t.Metadata,
				Status:       t.Status,
				RetryCount:   t.RetryCount,
				Result:       t.Result,
				SubmittedSeq: t.submittedSeq,
			})
		}
	})
	return json.Marshal(snap)
}

// Restore loads a serialized snapshot into a freshly constructed scheduler.
// Non-terminal tasks re-enter the priority queue; terminal tasks keep their
// recorded classification. Restoring over existing tasks is refused.
func (s *Scheduler) Restore(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	var restoreErr error
	s.call(func(sc *Scheduler) {
		if len(sc.tasks) > 0 {
			restoreErr = &InvalidStateError{Operation: "restore into non-empty scheduler"}
			return
		}
		sc.completedCount = snap.Completed
		sc.failedCount = snap.Failed
		sc.totalCost = snap.TotalCost
		sc.totalTokens = snap.TotalTokens
		sc.nextSeq = snap.NextSeq
		for _, ts := range snap.Tasks {
			t := &Task{
				ID:           ts.ID,
				Type:         ts.Type,
				Priority:     ts.Priority,
				Deadline:     ts.Deadline,
				Dependencies: ts.Dependencies,
				MaxRetries:   ts.MaxRetries,
				Metadata:     ts.Metadata,
				Status:       ts.Status,
				RetryCount:   ts.RetryCount,
				Result:       ts.Result,
				submittedSeq: ts.SubmittedSeq,
			}
			sc.tasks[t.ID] = t
			if !t.Status.Terminal() {
				t.Status = StatusPending
				sc.enqueue(t)
			}
		}
	})
	return restoreErr
}
