package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"inferd/internal/runtime"
)

// Strategy is one independently invokable construction attempt.
type Strategy struct {
	// Source names what the strategy loads from, for logs and errors.
	Source string
	// Construct builds the runtime at the given accelerator demand.
	Construct func(ctx context.Context, demand int) (runtime.Runtime, error)
}

// Spec is the immutable description of one load: a primary source, the
// ordered fallback chain, and post-construction adjustments.
type Spec struct {
	// Primary is an optional local source path tried before the chain.
	Primary string
	// PrimarySuffixes lists accepted extensions for Primary; a mismatch
	// fails fast with a format error before any construction work.
	PrimarySuffixes []string
	// ConstructPrimary builds from Primary. Required when Primary is set.
	ConstructPrimary func(ctx context.Context, path string, demand int) (runtime.Runtime, error)
	// LocalOnly disables the fallback chain entirely. Set when the
	// caller chose a custom checkpoint: a mismatched remote fallback
	// component produces dimension corruption, not a clean failure.
	LocalOnly bool
	// Chain is tried in order after the primary; first success wins.
	Chain []Strategy
	// PostLoad runs on whichever construction succeeded (e.g. precision
	// conversion). Its failure fails the whole attempt.
	PostLoad func(rt runtime.Runtime) error

	// Device and Precision participate in the resource fingerprint.
	Device    string
	Precision string
	// Demand is the nominal accelerator demand (resident layers).
	Demand int
}

// Fingerprint derives the stable resource id from the source
// descriptor, device and precision.
func (s Spec) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", s.Primary, s.Device, s.Precision, len(s.Chain))
	for _, st := range s.Chain {
		fmt.Fprintf(h, "|%s", st.Source)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// capabilities caches the optional runtime interfaces, probed once at
// handle construction instead of per call.
type capabilities struct {
	adapters  runtime.SupportsAdapters
	precision runtime.SupportsPrecisionConversion
	cache     runtime.SupportsCacheClear
	reset     runtime.SupportsReset
}

func probeCapabilities(rt runtime.Runtime) capabilities {
	var c capabilities
	if v, ok := rt.(runtime.SupportsAdapters); ok {
		c.adapters = v
	}
	if v, ok := rt.(runtime.SupportsPrecisionConversion); ok {
		c.precision = v
	}
	if v, ok := rt.(runtime.SupportsCacheClear); ok {
		c.cache = v
	}
	if v, ok := rt.(runtime.SupportsReset); ok {
		c.reset = v
	}
	return c
}

// Handle is an opaque reference to a constructed, accelerator-resident
// resource.
type Handle struct {
	// ID is the fingerprint of the spec that produced the resource.
	ID string
	// Source names the strategy that won construction.
	Source string
	// LoadedAt records when construction committed.
	LoadedAt time.Time

	rt         runtime.Runtime
	caps       capabilities
	inferences atomic.Uint64
}

func newHandle(spec Spec, source string, rt runtime.Runtime) *Handle {
	return &Handle{
		ID:       spec.Fingerprint(),
		Source:   source,
		LoadedAt: time.Now(),
		rt:       rt,
		caps:     probeCapabilities(rt),
	}
}

// Runtime returns the underlying native runtime.
func (h *Handle) Runtime() runtime.Runtime { return h.rt }

// Adapters returns the overlay capability, or nil.
func (h *Handle) Adapters() runtime.SupportsAdapters { return h.caps.adapters }

// Inferences reports how many gated calls the handle has served.
func (h *Handle) Inferences() uint64 { return h.inferences.Load() }

func (h *Handle) noteInference() uint64 { return h.inferences.Add(1) }

// clearTransientCache empties the runtime's short-term cache after an
// inference call. ClearCache is preferred; Reset is the fallback for
// runtimes that only expose the destructive operation.
func (h *Handle) clearTransientCache() error {
	if h.caps.cache != nil {
		return h.caps.cache.ClearCache()
	}
	if h.caps.reset != nil {
		return h.caps.reset.Reset()
	}
	return nil
}

func (h *Handle) close() error {
	if h.rt == nil {
		return nil
	}
	err := h.rt.Close()
	h.rt = nil
	return err
}
