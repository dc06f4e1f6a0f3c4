package transport

import (
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

// nextDelay returns the wait before retry number attempt (0-based):
// min(base·2^attempt + jitter, cap) ms, with jitter uniform in [0, JitterMs).
// A non-zero rate-limit retry-after hint raises the result to at least the
// hinted wait.
func nextDelay(cfg *config.RetryConfig, attempt int, hint time.Duration) time.Duration {
	base := time.Duration(cfg.BaseMs) * time.Millisecond
	ceiling := time.Duration(cfg.CapMs) * time.Millisecond

	b := retry.WithCappedDuration(ceiling, retry.NewExponential(base))
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		next, stop := b.Next()
		if stop {
			d = ceiling
			break
		}
		d = next
	}

	if cfg.JitterMs > 0 {
		d += time.Duration(rand.Int63n(int64(cfg.JitterMs))) * time.Millisecond
	}
	if d > ceiling {
		d = ceiling
	}
	if hint > d {
		d = hint
	}
	return d
}
