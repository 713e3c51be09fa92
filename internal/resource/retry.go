package resource

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/runtime"
)

// Attempt records one construction attempt for the retry history.
type Attempt struct {
	N      int
	Demand int
	Err    error
}

// RetryPolicy absorbs transient accelerator exhaustion during resource
// construction: cleanup, backoff, retry, and on the final attempt
// reduced demand. Fatal errors propagate immediately without retry.
type RetryPolicy struct {
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// Device performs the between-attempt memory hygiene.
	Device accel.Device
	Log    zerolog.Logger
}

// maxAttempts is the fixed ceiling: nominal, nominal, reduced.
const maxAttempts = 3

// Run invokes attempt with the nominal demand, retrying exhaustion
// failures per the policy. The final attempt halves the demand, trading
// host-device traffic for accelerator headroom when the device is
// fragmented by a sibling service's load/unload cycle.
func (p RetryPolicy) Run(ctx context.Context, demand int,
	attempt func(ctx context.Context, demand int) (runtime.Runtime, string, error),
) (runtime.Runtime, string, error) {
	var history []Attempt
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		d := demand
		if n == maxAttempts {
			d = reducedDemand(demand)
		}
		rt, source, err := attempt(ctx, d)
		if err == nil {
			return rt, source, nil
		}
		err = Classify(err)
		history = append(history, Attempt{N: n, Demand: d, Err: err})
		if !IsResourceExhaustion(err) {
			// Deterministic failure: retrying hides the real cause.
			return nil, "", err
		}
		lastErr = err
		if n == maxAttempts {
			break
		}
		p.Log.Warn().Int("attempt", n).Int("demand", d).Err(err).
			Msg("resource exhaustion, cleaning up and retrying")
		p.cleanup()
		if werr := p.wait(ctx); werr != nil {
			return nil, "", werr
		}
	}
	return nil, "", retryExhaustedError{last: lastErr, history: history}
}

// cleanup releases fragmented accelerator memory between attempts. A
// single pass can leave fragmented-but-unreleased allocations, so the
// cache is released both before and after the synchronize barrier.
func (p RetryPolicy) cleanup() {
	p.Device.Collect()
	p.Device.Collect()
	if err := p.Device.ReleaseCache(); err != nil {
		p.Log.Warn().Err(err).Msg("release cache failed during retry cleanup")
	}
	if err := p.Device.Synchronize(); err != nil {
		p.Log.Warn().Err(err).Msg("device synchronize failed during retry cleanup")
	}
	if err := p.Device.ReleaseCache(); err != nil {
		p.Log.Warn().Err(err).Msg("release cache failed during retry cleanup")
	}
}

func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reducedDemand halves the resident-layer count for the final attempt.
// Zero already means host-only; -1 (everything) falls back to host-only
// since there is no meaningful half of "all".
func reducedDemand(demand int) int {
	if demand <= 0 {
		return 0
	}
	return demand / 2
}
