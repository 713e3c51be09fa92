package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/runtime"
)

// Slot owns at most one accelerator-resident resource for a service.
// Ensure is the only constructor path; concurrent callers for the same
// spec share a single construction, and callers that queued behind an
// in-flight attempt observe its outcome instead of re-attempting.
type Slot struct {
	name   string
	loader Chain
	retry  RetryPolicy
	device accel.Device
	events EventPublisher
	log    zerolog.Logger

	// handle is the lock-free fast path for the common loaded case.
	handle atomic.Pointer[Handle]

	// mu serializes constructions and teardowns; it is held for the full
	// duration of a load.
	mu sync.Mutex
	// memoMu guards the attempt memo below and is only held briefly, so
	// Status never blocks behind an in-flight load.
	memoMu sync.Mutex
	// gen counts completed construction attempts. A caller snapshots it
	// before blocking on mu; a higher value afterwards with a matching
	// fingerprint means someone else finished the same load meanwhile.
	gen     atomic.Uint64
	lastFP  string
	lastErr error

	loads atomic.Uint64
}

// SlotOption configures optional slot collaborators.
type SlotOption func(*Slot)

// WithEvents routes lifecycle events to the given publisher.
func WithEvents(p EventPublisher) SlotOption {
	return func(s *Slot) {
		if p != nil {
			s.events = p
		}
	}
}

// NewSlot builds a slot for the named service.
func NewSlot(name string, loader Chain, retry RetryPolicy, device accel.Device, log zerolog.Logger, opts ...SlotOption) *Slot {
	s := &Slot{
		name:   name,
		loader: loader,
		retry:  retry,
		device: device,
		events: noopPublisher{},
		log:    log.With().Str("slot", name).Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the service name the slot serves.
func (s *Slot) Name() string { return s.name }

// Loaded returns the resident handle, or nil. Lock-free; safe to call
// from request hot paths.
func (s *Slot) Loaded() *Handle { return s.handle.Load() }

// Ensure returns the resident handle for spec, constructing it if
// necessary. A handle built from a different spec is torn down first.
func (s *Slot) Ensure(ctx context.Context, spec Spec) (*Handle, error) {
	fp := spec.Fingerprint()
	if h := s.handle.Load(); h != nil && h.ID == fp {
		return h, nil
	}

	genBefore := s.gen.Load()
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check: the winner of the race already did the work.
	if h := s.handle.Load(); h != nil && h.ID == fp {
		return h, nil
	}
	// A queued caller shares the outcome of the attempt it waited on,
	// including its failure. Retrying here would double the pressure on
	// an already struggling device.
	if s.gen.Load() > genBefore {
		s.memoMu.Lock()
		fpMatch, memoErr := s.lastFP == fp, s.lastErr
		s.memoMu.Unlock()
		if fpMatch && memoErr != nil {
			return nil, memoErr
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if old := s.handle.Load(); old != nil {
		s.log.Info().Str("old", old.ID).Str("new", fp).Msg("spec changed, replacing resident resource")
		s.teardownLocked(old)
	}

	h, err := s.constructLocked(ctx, spec)
	s.memoMu.Lock()
	s.lastFP = fp
	s.lastErr = err
	s.memoMu.Unlock()
	s.gen.Add(1)
	if err != nil {
		loadsTotal.WithLabelValues(s.name, "error").Inc()
		return nil, err
	}
	s.handle.Store(h)
	s.loads.Add(1)
	loadsTotal.WithLabelValues(s.name, "success").Inc()
	s.events.Publish(Event{Name: "loaded", Slot: s.name, Fields: map[string]any{
		"id": h.ID, "source": h.Source,
	}})
	return h, nil
}

func (s *Slot) constructLocked(ctx context.Context, spec Spec) (*Handle, error) {
	start := time.Now()
	rt, source, err := s.retry.Run(ctx, spec.Demand,
		func(ctx context.Context, demand int) (runtime.Runtime, string, error) {
			return s.loader.Load(ctx, spec, demand)
		})
	if err != nil {
		if history, ok := IsRetryExhausted(err); ok {
			retriesTotal.WithLabelValues(s.name).Add(float64(len(history) - 1))
		}
		s.events.Publish(Event{Name: "load_failed", Slot: s.name, Fields: map[string]any{
			"error": err.Error(),
		}})
		return nil, err
	}
	loadDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	s.log.Info().Str("source", source).Dur("took", time.Since(start)).Msg("resource loaded")
	return newHandle(spec, source, rt), nil
}

// Unload releases the resident resource. It reports whether anything
// was resident; repeated calls are safe and return false.
func (s *Slot) Unload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle.Load()
	if h == nil {
		return false
	}
	s.teardownLocked(h)
	s.events.Publish(Event{Name: "unloaded", Slot: s.name, Fields: map[string]any{"id": h.ID}})
	return true
}

// teardownLocked drops the handle and runs the device hygiene sequence.
// Two collect passes before touching the device: the first can free
// host wrappers whose finalizers release device memory picked up by the
// second. Cache release brackets the synchronize barrier so allocations
// freed by in-flight work are also returned.
func (s *Slot) teardownLocked(h *Handle) {
	s.handle.Store(nil)
	if err := h.close(); err != nil {
		s.log.Warn().Err(err).Msg("runtime close failed during teardown")
	}
	s.device.Collect()
	s.device.Collect()
	if err := s.device.Synchronize(); err != nil {
		s.log.Warn().Err(err).Msg("device synchronize failed during teardown")
	}
	if err := s.device.ReleaseCache(); err != nil {
		s.log.Warn().Err(err).Msg("cache release failed during teardown")
	}
	if err := s.device.Synchronize(); err != nil {
		s.log.Warn().Err(err).Msg("device synchronize failed during teardown")
	}
	if err := s.device.ReleaseCache(); err != nil {
		s.log.Warn().Err(err).Msg("cache release failed during teardown")
	}
}

// Status snapshots the slot for aggregation.
func (s *Slot) Status() SlotSnapshot {
	snap := SlotSnapshot{Service: s.name, State: "empty", Loads: s.loads.Load()}
	if h := s.handle.Load(); h != nil {
		snap.State = "loaded"
		snap.Source = h.Source
		snap.LoadedAt = h.LoadedAt
		snap.Inferences = h.Inferences()
	}
	s.memoMu.Lock()
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.memoMu.Unlock()
	return snap
}

// SlotSnapshot is a point-in-time view of a slot.
type SlotSnapshot struct {
	Service    string
	State      string
	Source     string
	LoadedAt   time.Time
	Loads      uint64
	Inferences uint64
	LastError  string
}
