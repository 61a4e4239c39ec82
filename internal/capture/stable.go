package capture

import (
	"context"
	"time"
)

// Probe returns a signature of the page's current visual state.
type Probe func(ctx context.Context) (string, error)

// WaitStable polls probe every interval until two consecutive successful
// probes return the same signature, or maxWait elapses. It reports
// whether stability was reached. Only context cancellation is an error;
// probe failures just break the run of equal signatures.
func WaitStable(ctx context.Context, probe Probe, maxWait, interval time.Duration) (bool, error) {
	if maxWait <= 0 {
		return false, nil
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev, err := probe(ctx)
	havePrev := err == nil

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}

		cur, err := probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			havePrev = false
			continue
		}
		if havePrev && cur == prev {
			return true, nil
		}
		prev, havePrev = cur, true
	}
}
