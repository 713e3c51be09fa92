//go:build llama

package runtime

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaFactory builds in-process llama.cpp runtimes for the completion
// service. Demand maps onto the number of GPU-resident layers.
type llamaFactory struct{}

// NewLlamaFactory returns the llama.cpp-backed runtime factory.
func NewLlamaFactory() Factory { return llamaFactory{} }

func (llamaFactory) FromFile(ctx context.Context, path string, opt Options) (Runtime, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(zn(opt.ContextSize, 2048)),
		llama.SetGPULayers(opt.Demand),
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRuntime{model: m, threads: zn(opt.Threads, 4)}, nil
}

func (llamaFactory) FromSource(ctx context.Context, source string, opt Options) (Runtime, error) {
	// The llama backend loads local GGUF files only; fetching a remote
	// repository is the caller's job (inferctl or a pre-provisioned dir).
	return nil, ErrRuntimeUnavailable("llama backend cannot fetch remote source: " + source)
}

type llamaRuntime struct {
	model   *llama.LLama
	threads int
}

func (r *llamaRuntime) Generate(ctx context.Context, req GenerateCall) (GenerateResult, error) {
	if r.model == nil {
		return GenerateResult{}, errors.New("llama model not initialized")
	}
	var sb strings.Builder
	r.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		sb.WriteString(tok)
		return true
	})
	po := []llama.PredictOption{
		llama.SetTokens(zn(req.MaxTokens, 256)),
		llama.SetThreads(r.threads),
		llama.SetTopP(zf(float32(req.TopP), llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(req.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(float32(req.Temperature), llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(float32(req.RepeatPenalty), llama.DefaultOptions.Penalty)),
	}
	if req.Seed != 0 {
		po = append(po, llama.SetSeed(int(req.Seed)))
	}
	if len(req.Stop) > 0 {
		po = append(po, llama.SetStopWords(req.Stop...))
	}
	text, err := r.model.Predict(req.Prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return GenerateResult{}, ctx.Err()
		}
		return GenerateResult{}, err
	}
	if text == "" {
		text = sb.String()
	}
	return GenerateResult{Content: text, FinishReason: "stop"}, nil
}

func (r *llamaRuntime) Close() error {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
