package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestrator's share of the error taxonomy.
// The transport package defines the Provider* and CircuitOpen members.
var (
	ErrTaskFailed               = errors.New("task failed")
	ErrDependencyUnsatisfiable  = errors.New("task dependency unsatisfiable")
	ErrUnknownAgentSlot         = errors.New("unknown agent slot")
	ErrOrchestratorInvalidState = errors.New("orchestrator invalid state")
)

// TaskFailedError wraps a terminally-failed task's underlying cause.
type TaskFailedError struct {
	TaskID string
	Err    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

// NewTaskFailedError wraps err with ErrTaskFailed context for a task id.
func NewTaskFailedError(taskID string, err error) *TaskFailedError {
	return &TaskFailedError{TaskID: taskID, Err: fmt.Errorf("%w: %v", ErrTaskFailed, err)}
}

// DependencyUnsatisfiableError reports a dependency that can never complete.
type DependencyUnsatisfiableError struct {
	TaskID       string
	DependencyID string
}

func (e *DependencyUnsatisfiableError) Error() string {
	return fmt.Sprintf("task %s depends on %s: %v", e.TaskID, e.DependencyID, ErrDependencyUnsatisfiable)
}

func (e *DependencyUnsatisfiableError) Unwrap() error { return ErrDependencyUnsatisfiable }

// UnknownAgentSlotError is a caller error raised at the scaleAgent call site.
type UnknownAgentSlotError struct {
	SlotID string
}

func (e *UnknownAgentSlotError) Error() string {
	return fmt.Sprintf("slot %q: %v", e.SlotID, ErrUnknownAgentSlot)
}

func (e *UnknownAgentSlotError) Unwrap() error { return ErrUnknownAgentSlot }

// InvalidStateError reports an operation attempted while the scheduler is
// not in a state that permits it (e.g. submit after Stop()).
type InvalidStateError struct {
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, ErrOrchestratorInvalidState)
}

func (e *InvalidStateError) Unwrap() error { return ErrOrchestratorInvalidState }
