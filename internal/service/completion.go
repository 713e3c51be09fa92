package service

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// Completion is the text generation service over the llama-backed
// factory. Models are local GGUF files; there is no remote fallback
// for text checkpoints, so the chain is the primary path alone.
type Completion struct {
	factory   runtime.Factory
	slot      *resource.Slot
	gate      *resource.Gate
	device    accel.Device
	log       zerolog.Logger
	modelsDir string
	// defaultModel is served when the request omits one.
	defaultModel string
	demand       int
	ctxSize      int
	threads      int
}

type CompletionParams struct {
	Factory      runtime.Factory
	Slot         *resource.Slot
	Gate         *resource.Gate
	Device       accel.Device
	ModelsDir    string
	DefaultModel string
	Demand       int
	CtxSize      int
	Threads      int
	Log          zerolog.Logger
}

func NewCompletion(p CompletionParams) *Completion {
	c := &Completion{
		factory:      p.Factory,
		slot:         p.Slot,
		gate:         p.Gate,
		device:       p.Device,
		modelsDir:    p.ModelsDir,
		defaultModel: p.DefaultModel,
		demand:       p.Demand,
		ctxSize:      p.CtxSize,
		threads:      p.Threads,
		log:          p.Log.With().Str("service", "completion").Logger(),
	}
	c.gate.SetReload(c.reload)
	return c
}

func (c *Completion) spec(model string) (resource.Spec, error) {
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return resource.Spec{}, resource.ErrValidation("model", "no model requested and no default configured")
	}
	path := model
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.modelsDir, path)
	}
	return resource.Spec{
		Primary:         path,
		PrimarySuffixes: []string{".gguf"},
		ConstructPrimary: func(ctx context.Context, p string, demand int) (runtime.Runtime, error) {
			return c.factory.FromFile(ctx, p, runtime.Options{
				Device:      c.device.Name(),
				Demand:      demand,
				ContextSize: c.ctxSize,
				Threads:     c.threads,
			})
		},
		LocalOnly: true,
		Device:    c.device.Name(),
		Demand:    c.demand,
	}, nil
}

func (c *Completion) reload(ctx context.Context) error {
	h := c.slot.Loaded()
	if h == nil {
		return nil
	}
	spec, err := c.spec(h.Source)
	if err != nil {
		return err
	}
	c.slot.Unload()
	_, err = c.slot.Ensure(ctx, spec)
	return err
}

// Load makes the model resident without generating.
func (c *Completion) Load(ctx context.Context, model string) (types.LoadResponse, error) {
	spec, err := c.spec(model)
	if err != nil {
		return types.LoadResponse{}, err
	}
	h, err := c.slot.Ensure(ctx, spec)
	if err != nil {
		return types.LoadResponse{}, err
	}
	return types.LoadResponse{Status: "loaded", Source: h.Source, Device: c.device.Name()}, nil
}

func (c *Completion) Unload() types.UnloadResponse {
	if !c.slot.Unload() {
		return types.UnloadResponse{Status: "idle", Message: "nothing was loaded"}
	}
	return types.UnloadResponse{Status: "unloaded", Message: "model released"}
}

func (c *Completion) Health() types.HealthResponse {
	resp := types.HealthResponse{Status: "healthy", Device: c.device.Name()}
	if h := c.slot.Loaded(); h != nil {
		resp.Loaded = true
		resp.Source = h.Source
	}
	return resp
}

func (c *Completion) Status() resource.SlotSnapshot { return c.slot.Status() }

// Complete runs one completion request end to end.
func (c *Completion) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	if err := validateCompletion(req); err != nil {
		return types.CompletionResponse{}, err
	}
	spec, err := c.spec(req.Model)
	if err != nil {
		return types.CompletionResponse{}, err
	}
	if _, err := c.slot.Ensure(ctx, spec); err != nil {
		return types.CompletionResponse{}, err
	}

	call := runtime.GenerateCall{
		Prompt:        req.Prompt,
		MaxTokens:     defaultInt(req.MaxTokens, 256),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		RepeatPenalty: req.RepeatPenalty,
		Stop:          req.Stop,
		Seed:          req.Seed,
	}

	var out types.CompletionResponse
	err = c.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		gen, ok := h.Runtime().(runtime.Generator)
		if !ok {
			return runtime.ErrRuntimeUnavailable("resident resource cannot generate")
		}
		result, gerr := gen.Generate(ctx, call)
		if gerr != nil {
			return gerr
		}
		out = types.CompletionResponse{
			ID:           uuid.NewString(),
			Model:        h.Source,
			Content:      result.Content,
			FinishReason: result.FinishReason,
		}
		return nil
	})
	if err != nil {
		return types.CompletionResponse{}, err
	}
	return out, nil
}
