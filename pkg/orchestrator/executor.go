package orchestrator

import "context"

// Executor runs a task on a bound agent instance. It is purely
// functional from the scheduler's point of view: the scheduler never awaits
// it inline. Instead Run is invoked on its own goroutine and the outcome is
// delivered back through HandleCompletion/HandleFailure; the message-driven
// rendering of a would-be synchronous "returns a future producing TaskResult" call.
type Executor interface {
	Run(ctx context.Context, instance AgentInstance, task Task) (Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, instance AgentInstance, task Task) (Result, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, instance AgentInstance, task Task) (Result, error) {
	return f(ctx, instance, task)
}
