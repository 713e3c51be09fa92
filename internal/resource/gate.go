package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
)

// ErrNotLoaded is returned by Gate.Run when no resource is resident.
var ErrNotLoaded = errors.New("no resource loaded")

// Gate serializes inference calls against a slot's resident resource.
// A single accelerator cannot run two inference passes concurrently
// without corrupting shared activation memory, so callers queue and
// run strictly in arrival order.
//
// The gate also owns the per-call hygiene (transient cache clear, cache
// release) and the preventive reload: long-lived runtimes accumulate
// state drift, so after every reloadEvery calls the resource is rebuilt
// before the next call runs.
type Gate struct {
	slot        *Slot
	device      accel.Device
	log         zerolog.Logger
	reloadEvery uint64
	// reload rebuilds the resident resource; installed by the service
	// that knows the slot's spec. Optional.
	reload func(ctx context.Context) error

	mu    sync.Mutex
	busy  bool
	queue []chan struct{}

	count atomic.Uint64
}

// NewGate builds a gate over the given slot. reloadEvery of zero
// disables preventive reloads.
func NewGate(slot *Slot, device accel.Device, reloadEvery uint64, log zerolog.Logger) *Gate {
	return &Gate{
		slot:        slot,
		device:      device,
		reloadEvery: reloadEvery,
		log:         log.With().Str("slot", slot.Name()).Logger(),
	}
}

// SetReload installs the rebuild hook used for preventive reloads.
func (g *Gate) SetReload(fn func(ctx context.Context) error) { g.reload = fn }

// Count reports inference calls since the last preventive reload.
func (g *Gate) Count() uint64 { return g.count.Load() }

// NeedsReload reports whether the rolling count has hit the threshold.
func (g *Gate) NeedsReload() bool {
	return g.reloadEvery > 0 && g.count.Load() >= g.reloadEvery
}

// Run executes fn with exclusive access to the resident handle. Callers
// are admitted strictly in arrival order. Post-call hygiene runs even
// when fn fails.
func (g *Gate) Run(ctx context.Context, fn func(ctx context.Context, h *Handle) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	if g.NeedsReload() && g.reload != nil {
		g.log.Info().Uint64("count", g.count.Load()).Msg("preventive reload")
		if err := g.reload(ctx); err != nil {
			// The old resource is still resident; degrade to it rather
			// than failing the caller's request.
			g.log.Warn().Err(err).Msg("preventive reload failed, keeping current resource")
		} else {
			g.count.Store(0)
		}
	}

	h := g.slot.Loaded()
	if h == nil {
		return ErrNotLoaded
	}

	err := fn(ctx, h)

	h.noteInference()
	g.count.Add(1)
	inferencesTotal.WithLabelValues(g.slot.Name()).Inc()
	if cerr := h.clearTransientCache(); cerr != nil {
		g.log.Warn().Err(cerr).Msg("transient cache clear failed")
	}
	if rerr := g.device.ReleaseCache(); rerr != nil {
		g.log.Warn().Err(rerr).Msg("cache release failed after inference")
	}
	return err
}

// acquire takes the single inference token, queueing FIFO behind any
// earlier callers. Go mutexes do not guarantee arrival order under
// contention, hence the explicit ticket queue.
func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy && len(g.queue) == 0 {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	g.queue = append(g.queue, ticket)
	gateWaiters.WithLabelValues(g.slot.Name()).Inc()
	g.mu.Unlock()

	select {
	case <-ticket:
		gateWaiters.WithLabelValues(g.slot.Name()).Dec()
		return nil
	case <-ctx.Done():
		gateWaiters.WithLabelValues(g.slot.Name()).Dec()
		g.mu.Lock()
		for i, t := range g.queue {
			if t == ticket {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// Token was granted during cancellation; hand it on.
		g.release()
		return ctx.Err()
	}
}

// release hands the token to the oldest waiter, or frees it.
func (g *Gate) release() {
	g.mu.Lock()
	if len(g.queue) > 0 {
		ticket := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		close(ticket)
		return
	}
	g.busy = false
	g.mu.Unlock()
}
