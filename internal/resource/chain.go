package resource

import (
	"context"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/runtime"
)

// Chain attempts a Spec's primary source and then its ordered fallback
// strategies until one produces a runtime or all are exhausted.
type Chain struct {
	log zerolog.Logger
}

// NewChain returns a loader that logs attempts through the given logger.
func NewChain(log zerolog.Logger) Chain {
	return Chain{log: log}
}

// Load runs one full pass over the spec at the given demand. It returns
// the constructed runtime and the source that produced it.
func (c Chain) Load(ctx context.Context, spec Spec, demand int) (runtime.Runtime, string, error) {
	var attempts []AttemptError

	if spec.Primary != "" {
		rt, err := c.loadPrimary(ctx, spec, demand)
		if err == nil {
			return rt, spec.Primary, nil
		}
		// Local-only isolation: a custom checkpoint must never be
		// silently replaced by a mismatched remote fallback.
		if spec.LocalOnly {
			return nil, "", err
		}
		attempts = append(attempts, AttemptError{Source: spec.Primary, Err: err})
		c.log.Warn().Str("source", spec.Primary).Err(err).Msg("primary load failed, trying fallback chain")
	}

	for i, st := range spec.Chain {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		default:
		}
		rt, err := st.Construct(ctx, demand)
		if err == nil {
			if perr := c.postLoad(spec, rt); perr != nil {
				_ = rt.Close()
				attempts = append(attempts, AttemptError{Source: st.Source, Err: perr})
				c.log.Warn().Int("fallback", i+1).Str("source", st.Source).Err(perr).
					Msg("post-load transform failed, trying next")
				continue
			}
			c.log.Info().Int("fallback", i+1).Str("source", st.Source).Msg("fallback load succeeded")
			return rt, st.Source, nil
		}
		attempts = append(attempts, AttemptError{Source: st.Source, Err: err})
		c.log.Warn().Int("fallback", i+1).Int("of", len(spec.Chain)).
			Str("source", st.Source).Err(err).Msg("fallback load failed")
	}

	if len(attempts) == 0 {
		return nil, "", ErrNotFound("(no sources configured)")
	}
	// A single attempt keeps its own error; aggregation would only
	// obscure it.
	if len(attempts) == 1 {
		return nil, "", attempts[0].Err
	}
	return nil, "", chainExhaustedError{attempts: attempts}
}

func (c Chain) loadPrimary(ctx context.Context, spec Spec, demand int) (runtime.Runtime, error) {
	// Verify existence and format before any construction work.
	if !fsutil.FileExists(spec.Primary) {
		return nil, ErrNotFound(spec.Primary)
	}
	if !fsutil.HasSuffix(spec.Primary, spec.PrimarySuffixes...) {
		return nil, ErrFormatMismatch(spec.Primary, "unexpected file extension")
	}
	if spec.ConstructPrimary == nil {
		return nil, ErrFormatMismatch(spec.Primary, "no primary constructor configured")
	}
	rt, err := spec.ConstructPrimary(ctx, spec.Primary, demand)
	if err != nil {
		return nil, err
	}
	if perr := c.postLoad(spec, rt); perr != nil {
		_ = rt.Close()
		return nil, perr
	}
	return rt, nil
}

func (c Chain) postLoad(spec Spec, rt runtime.Runtime) error {
	if spec.PostLoad == nil {
		return nil
	}
	return spec.PostLoad(rt)
}
