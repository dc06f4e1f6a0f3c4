package orchestrator

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffDelay returns the delay before re-enqueuing a task after its
// (attempt+1)th failure: min(1000·2^attempt, 30000) ms. Built on
// go-retry's exponential backoff so the same library backs both the
// scheduler's retry policy and the transport's (see pkg/transport),
// rather than hand-rolling the doubling arithmetic twice.
func backoffDelay(attempt int) time.Duration {
	b := retry.WithCappedDuration(30*time.Second, retry.NewExponential(1*time.Second))

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		next, stop := b.Next()
		if stop {
			return 30 * time.Second
		}
		d = next
	}
	return d
}
