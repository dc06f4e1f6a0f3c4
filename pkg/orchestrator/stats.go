package orchestrator

import "time"

// Stats is the scheduler's point-in-time snapshot, returned by GetStats.
type Stats struct {
	TotalTasks     int
	Pending        int
	Running        int
	Completed      int
	Failed         int
	ActiveAgents   int
	TotalCost      float64
	TotalTokens    int
	AverageLatency time.Duration
	Throughput     float64 // completed tasks per second since Start()
}
