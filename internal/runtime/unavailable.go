package runtime

import "context"

// unavailableFactory fails every construction with a clear message. It
// backs service kinds whose native backend is not linked into this
// binary (diffusion, vision, restoration), so their slots answer
// 503 Service Unavailable instead of pretending to load.
type unavailableFactory struct{ kind string }

// NewUnavailableFactory returns a Factory that always fails fast,
// naming the missing backend kind.
func NewUnavailableFactory(kind string) Factory { return unavailableFactory{kind: kind} }

func (f unavailableFactory) FromFile(ctx context.Context, path string, opt Options) (Runtime, error) {
	return nil, ErrRuntimeUnavailable(f.kind + " backend not built into this binary")
}

func (f unavailableFactory) FromSource(ctx context.Context, source string, opt Options) (Runtime, error) {
	return nil, ErrRuntimeUnavailable(f.kind + " backend not built into this binary")
}
