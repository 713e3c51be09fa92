// Package runtime defines the opaque native runtime behind a loaded
// resource. The resource layer never calls model capabilities directly;
// it probes the optional interfaces below once at construction time and
// caches the result, instead of re-probing per call.
package runtime

import "context"

// Runtime is an accelerator-resident constructed object. What it can do
// beyond being closed is expressed through the capability interfaces.
type Runtime interface {
	// Close releases the native handle and its accelerator memory.
	Close() error
}

// Generator produces an inference result from a request-shaped call.
// The call is neither re-entrant nor thread-safe; callers serialize
// through the resource gate.
type Generator interface {
	Runtime
	Generate(ctx context.Context, req GenerateCall) (GenerateResult, error)
}

// GenerateCall carries the parameters of one native inference call.
type GenerateCall struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Guidance       float64
	Seed           int64
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TopK           int
	RepeatPenalty  float64
	Stop           []string
	// Auxiliary inputs (image paths for vision or restoration calls).
	Images []string
}

// GenerateResult is the raw outcome of a native call.
type GenerateResult struct {
	// Text output for completion/comparison runtimes.
	Content string
	// Artifact bytes for image-producing runtimes.
	Artifact []byte
	// FinishReason for text runtimes (stop, length).
	FinishReason string
	// FacesCount for restoration runtimes.
	FacesCount int
}

// SupportsAdapters is implemented by runtimes that can layer weighted
// overlays onto the resident weights without reconstruction.
type SupportsAdapters interface {
	// LoadAdapter attaches the overlay file under the given adapter name.
	LoadAdapter(path, name string) error
	// SetAdapterWeights applies the combined weight vector atomically.
	SetAdapterWeights(names []string, weights []float64) error
	// ClearAdapters removes every attached overlay.
	ClearAdapters() error
}

// SupportsPrecisionConversion is implemented by runtimes whose weights
// can be converted after construction (e.g. fp8 checkpoints that must
// run as fp16).
type SupportsPrecisionConversion interface {
	ConvertPrecision(precision string) error
}

// SupportsCacheClear is implemented by runtimes with an internal
// short-term cache that can be emptied without reallocating it.
type SupportsCacheClear interface {
	ClearCache() error
}

// SupportsReset is the destructive variant: the cache is torn down and
// rebuilt. Preferred only when SupportsCacheClear is absent, since a
// full reset can crash fragile native runtimes under repeated use.
type SupportsReset interface {
	Reset() error
}

// Options carries construction-time knobs common to all backends.
type Options struct {
	Device    string
	Precision string
	// Demand is the number of resident layers to place on the
	// accelerator; 0 means host-only, -1 means everything.
	Demand int
	// ContextSize for text runtimes.
	ContextSize int
	Threads     int
}

// Factory constructs runtimes from a local file or a remote source.
// The completion service uses the llama-backed factory; services whose
// native backend is not linked into this binary receive a factory that
// fails fast with ErrRuntimeUnavailable.
type Factory interface {
	FromFile(ctx context.Context, path string, opt Options) (Runtime, error)
	FromSource(ctx context.Context, source string, opt Options) (Runtime, error)
}
