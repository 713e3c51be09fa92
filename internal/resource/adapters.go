package resource

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// MaxAdapters caps the overlays applied per request. Beyond four the
// blended weights drift too far from any one overlay to be useful, and
// attach time grows linearly.
const MaxAdapters = 4

// AdapterSet manages the weight overlays attached to one resident
// resource. Apply is tolerant per overlay: a ref that fails to resolve
// or attach is reported in its result and skipped, and the surviving
// subset is activated in a single atomic call.
type AdapterSet struct {
	// PrimaryDir is searched first for relative overlay paths.
	PrimaryDir string
	// FallbackDir is searched when PrimaryDir misses.
	FallbackDir string
	Slot        string
	Log         zerolog.Logger

	mu        sync.Mutex
	current   []types.LoraResult
	truncated int
}

// Resolve maps a requested overlay path to a readable file. Absolute
// paths are taken as-is; relative paths try PrimaryDir then FallbackDir.
func (a *AdapterSet) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrValidation("lora.path", "empty path")
	}
	if !strings.HasSuffix(ref, ".safetensors") {
		return "", ErrFormatMismatch(ref, "overlay files must be .safetensors")
	}
	if filepath.IsAbs(ref) {
		if fsutil.FileExists(ref) {
			return ref, nil
		}
		return "", ErrNotFound(ref)
	}
	for _, dir := range []string{a.PrimaryDir, a.FallbackDir} {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, ref)
		if fsutil.FileExists(p) {
			return p, nil
		}
	}
	return "", ErrNotFound(ref)
}

// Apply attaches the requested overlays to the handle's runtime.
// Requests beyond MaxAdapters are dropped silently from the tail; each
// surviving ref is attached independently, and whatever attached is
// activated together. An empty request clears any current overlays.
func (a *AdapterSet) Apply(h *Handle, refs []types.LoraRef) ([]types.LoraResult, error) {
	ad := h.Adapters()
	if ad == nil {
		if len(refs) == 0 {
			return nil, nil
		}
		return nil, ErrValidation("loras", "resident resource does not support overlays")
	}

	truncated := 0
	if len(refs) > MaxAdapters {
		truncated = len(refs) - MaxAdapters
		a.Log.Warn().Int("requested", len(refs)).Int("dropped", truncated).
			Msg("overlay request over cap, dropping tail")
		refs = refs[:MaxAdapters]
	}

	if len(refs) == 0 {
		// Best effort: a failed clear must not fail the generation.
		if err := ad.ClearAdapters(); err != nil {
			a.Log.Warn().Err(err).Msg("overlay clear failed")
		}
		a.setCurrent(nil, truncated)
		return nil, nil
	}

	results := make([]types.LoraResult, 0, len(refs))
	names := make([]string, 0, len(refs))
	weights := make([]float64, 0, len(refs))
	for i, ref := range refs {
		res := types.LoraResult{Path: ref.Path, Scale: ref.Scale}
		path, err := a.Resolve(ref.Path)
		if err == nil {
			res.Adapter = adapterName(i, path)
			err = ad.LoadAdapter(path, res.Adapter)
		}
		if err != nil {
			res.Error = err.Error()
			adapterFailuresTotal.WithLabelValues(a.Slot).Inc()
			a.Log.Warn().Str("path", ref.Path).Err(err).Msg("overlay attach failed, continuing without it")
		} else {
			res.Loaded = true
			names = append(names, res.Adapter)
			weights = append(weights, ref.Scale)
		}
		results = append(results, res)
	}

	if len(names) > 0 {
		if err := ad.SetAdapterWeights(names, weights); err != nil {
			// Activation is all-or-nothing: mark every survivor failed.
			for i := range results {
				if results[i].Loaded {
					results[i].Loaded = false
					results[i].Error = "activation failed: " + err.Error()
				}
			}
			a.setCurrent(results, truncated)
			return results, nil
		}
	}
	a.setCurrent(results, truncated)
	return results, nil
}

// Status reports the overlays currently in effect.
func (a *AdapterSet) Status(loaded bool) *types.LoraStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := &types.LoraStatus{Loaded: loaded && anyLoaded(a.current), Truncated: a.truncated}
	st.Current = append(st.Current, a.current...)
	return st
}

// Forget drops the recorded overlay state, e.g. after an unload.
func (a *AdapterSet) Forget() {
	a.mu.Lock()
	a.current = nil
	a.truncated = 0
	a.mu.Unlock()
}

func (a *AdapterSet) setCurrent(results []types.LoraResult, truncated int) {
	a.mu.Lock()
	a.current = results
	a.truncated = truncated
	a.mu.Unlock()
}

func anyLoaded(results []types.LoraResult) bool {
	for _, r := range results {
		if r.Loaded {
			return true
		}
	}
	return false
}

// adapterName derives a stable, unique adapter id from the position and
// the file stem.
func adapterName(i int, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return fmt.Sprintf("lora_%d_%s", i, stem)
}
