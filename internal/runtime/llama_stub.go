//go:build !llama

package runtime

import "context"

// This file provides a no-CGO stub for the llama factory. It is compiled
// when the 'llama' build tag is NOT set, keeping default builds and CI
// CGO-free. The real factory lives in llama.go (tagged 'llama').

var llamaBuilt = false

type llamaFactory struct{}

// NewLlamaFactory returns a factory that refuses to construct runtimes
// without the 'llama' build tag. This avoids any mocked behavior in
// production binaries built without CGO support.
func NewLlamaFactory() Factory { return llamaFactory{} }

func (llamaFactory) FromFile(ctx context.Context, path string, opt Options) (Runtime, error) {
	return nil, ErrRuntimeUnavailable("llama support not built (missing 'llama' build tag)")
}

func (llamaFactory) FromSource(ctx context.Context, source string, opt Options) (Runtime, error) {
	return nil, ErrRuntimeUnavailable("llama support not built (missing 'llama' build tag)")
}
