package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/common/fsutil"
	"inferd/internal/registry"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// maxPromptWords caps the prompt handed to the text encoder. Words past
// the encoder window are ignored by the model anyway but still cost
// encoding time.
const maxPromptWords = 256

// pipeline describes one built-in generation pipeline.
type pipeline struct {
	Source          string
	Family          string
	DefaultSteps    int
	DefaultGuidance float64
}

// builtinPipelines is the fixed catalogue addressable by model name
// without a side-table entry.
var builtinPipelines = map[string]pipeline{
	"flux-dev":     {Source: "black-forest-labs/FLUX.1-dev", Family: "flux", DefaultSteps: 25, DefaultGuidance: 3.5},
	"flux-schnell": {Source: "black-forest-labs/FLUX.1-schnell", Family: "flux", DefaultSteps: 4, DefaultGuidance: 0},
	"chroma":       {Source: "lodestones/Chroma", Family: "chroma", DefaultSteps: 26, DefaultGuidance: 4},
	"sdxl":         {Source: "stabilityai/stable-diffusion-xl-base-1.0", Family: "sdxl", DefaultSteps: 30, DefaultGuidance: 7},
	"sd3":          {Source: "stabilityai/stable-diffusion-3-medium-diffusers", Family: "sd3", DefaultSteps: 28, DefaultGuidance: 7},
}

// DefaultDiffusionModel is used when a request omits the model name.
const DefaultDiffusionModel = "flux-dev"

// Diffusion is the image generation service: one slot, one gate, and
// the overlay set attached to whatever is resident.
type Diffusion struct {
	factory   runtime.Factory
	slot      *resource.Slot
	gate      *resource.Gate
	adapters  *resource.AdapterSet
	registry  *registry.Registry
	device    accel.Device
	log       zerolog.Logger
	modelsDir string
	outputDir string
	demand    int

	mu      sync.Mutex
	current string        // model name behind the resident resource
	spec    resource.Spec // spec of the last successful/attempted load
	hasSpec bool
}

// DiffusionParams collects the construction knobs.
type DiffusionParams struct {
	Factory   runtime.Factory
	Slot      *resource.Slot
	Gate      *resource.Gate
	Adapters  *resource.AdapterSet
	Registry  *registry.Registry
	Device    accel.Device
	ModelsDir string
	OutputDir string
	Demand    int
	Log       zerolog.Logger
}

func NewDiffusion(p DiffusionParams) *Diffusion {
	d := &Diffusion{
		factory:   p.Factory,
		slot:      p.Slot,
		gate:      p.Gate,
		adapters:  p.Adapters,
		registry:  p.Registry,
		device:    p.Device,
		modelsDir: p.ModelsDir,
		outputDir: p.OutputDir,
		demand:    p.Demand,
		log:       p.Log.With().Str("service", "diffusion").Logger(),
	}
	d.gate.SetReload(d.reload)
	return d
}

// resolved carries the effective load description for one model name.
type resolved struct {
	Name            string
	Spec            resource.Spec
	DefaultSteps    int
	DefaultGuidance float64
}

// resolve maps a model name to a load spec: built-in catalogue first,
// then the side-table.
func (d *Diffusion) resolve(model string) (resolved, error) {
	if model == "" {
		model = DefaultDiffusionModel
	}
	if p, ok := builtinPipelines[model]; ok {
		return resolved{
			Name: model,
			Spec: resource.Spec{
				Chain: []resource.Strategy{{
					Source: p.Source,
					Construct: func(ctx context.Context, demand int) (runtime.Runtime, error) {
						return d.factory.FromSource(ctx, p.Source, d.options(demand))
					},
				}},
				Device: d.device.Name(),
				Demand: d.demand,
			},
			DefaultSteps:    p.DefaultSteps,
			DefaultGuidance: p.DefaultGuidance,
		}, nil
	}
	entry, ok, err := d.registry.Get(model)
	if err != nil {
		return resolved{}, err
	}
	if !ok {
		return resolved{}, resource.ErrNotFound("model " + model)
	}
	return d.resolveEntry(entry)
}

func (d *Diffusion) resolveEntry(entry types.ModelSpec) (resolved, error) {
	spec := resource.Spec{
		LocalOnly: entry.LocalOnly,
		Device:    d.device.Name(),
		Demand:    d.demand,
	}
	if entry.Path != "" {
		path := entry.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.modelsDir, path)
		}
		spec.Primary = path
		spec.PrimarySuffixes = []string{".safetensors"}
		spec.ConstructPrimary = func(ctx context.Context, p string, demand int) (runtime.Runtime, error) {
			return d.factory.FromFile(ctx, p, d.options(demand))
		}
	}
	if entry.BaseSource != "" && !entry.LocalOnly {
		src := entry.BaseSource
		spec.Chain = append(spec.Chain, resource.Strategy{
			Source: src,
			Construct: func(ctx context.Context, demand int) (runtime.Runtime, error) {
				return d.factory.FromSource(ctx, src, d.options(demand))
			},
		})
	}
	if spec.Primary == "" && len(spec.Chain) == 0 {
		return resolved{}, resource.ErrValidation("model", "entry has neither path nor base source")
	}
	return resolved{
		Name:            entry.Name,
		Spec:            spec,
		DefaultSteps:    entry.DefaultSteps,
		DefaultGuidance: entry.DefaultGuidance,
	}, nil
}

func (d *Diffusion) options(demand int) runtime.Options {
	return runtime.Options{Device: d.device.Name(), Demand: demand}
}

// ensure makes the named model resident, replacing a different one.
func (d *Diffusion) ensure(ctx context.Context, model string) (*resource.Handle, resolved, error) {
	res, err := d.resolve(model)
	if err != nil {
		return nil, resolved{}, err
	}
	h, err := d.slot.Ensure(ctx, res.Spec)
	if err != nil {
		return nil, resolved{}, err
	}
	d.mu.Lock()
	if d.current != res.Name {
		// The overlay state belonged to the previous resident model.
		d.adapters.Forget()
	}
	d.current = res.Name
	d.spec = res.Spec
	d.hasSpec = true
	d.mu.Unlock()
	return h, res, nil
}

// reload rebuilds the resident resource from its last spec. Installed
// as the gate's preventive reload hook.
func (d *Diffusion) reload(ctx context.Context) error {
	d.mu.Lock()
	spec, ok := d.spec, d.hasSpec
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.slot.Unload()
	d.adapters.Forget()
	_, err := d.slot.Ensure(ctx, spec)
	return err
}

// Load makes the model resident without generating anything.
func (d *Diffusion) Load(ctx context.Context, model string) (types.LoadResponse, error) {
	h, _, err := d.ensure(ctx, model)
	if err != nil {
		return types.LoadResponse{}, err
	}
	return types.LoadResponse{Status: "loaded", Source: h.Source, Device: d.device.Name()}, nil
}

// Unload releases the resident model.
func (d *Diffusion) Unload() types.UnloadResponse {
	had := d.slot.Unload()
	d.adapters.Forget()
	d.mu.Lock()
	d.current = ""
	d.mu.Unlock()
	if !had {
		return types.UnloadResponse{Status: "idle", Message: "nothing was loaded"}
	}
	return types.UnloadResponse{Status: "unloaded", Message: "model released"}
}

// Health reports the slot and overlay state.
func (d *Diffusion) Health() types.HealthResponse {
	h := d.slot.Loaded()
	resp := types.HealthResponse{Status: "healthy", Device: d.device.Name()}
	if h != nil {
		resp.Loaded = true
		resp.Source = h.Source
	}
	resp.Lora = d.adapters.Status(h != nil)
	return resp
}

// Status snapshots the slot for the aggregate endpoint.
func (d *Diffusion) Status() resource.SlotSnapshot { return d.slot.Status() }

// LoraStatus reports the overlay state without touching the resource.
func (d *Diffusion) LoraStatus() *types.LoraStatus {
	return d.adapters.Status(d.slot.Loaded() != nil)
}

// LoraLoad replaces the active overlay set with the single given ref.
// Requires a resident model; the gate keeps the swap from racing an
// in-flight generation.
func (d *Diffusion) LoraLoad(ctx context.Context, ref types.LoraRef) ([]types.LoraResult, error) {
	if err := validateLoraRef(ref); err != nil {
		return nil, err
	}
	var out []types.LoraResult
	err := d.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		res, aerr := d.adapters.Apply(h, []types.LoraRef{ref})
		if aerr != nil {
			return aerr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoraUnload clears all active overlays from the resident model.
func (d *Diffusion) LoraUnload(ctx context.Context) error {
	return d.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		_, err := d.adapters.Apply(h, nil)
		return err
	})
}

// Generate runs one image generation request end to end.
func (d *Diffusion) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	if err := validateGenerate(req); err != nil {
		return types.GenerateResponse{}, err
	}
	_, res, err := d.ensure(ctx, req.Model)
	if err != nil {
		return types.GenerateResponse{}, err
	}

	call := runtime.GenerateCall{
		Prompt:         truncateWords(req.Prompt, maxPromptWords),
		NegativePrompt: truncateWords(req.NegativePrompt, maxPromptWords),
		Width:          defaultInt(req.Width, 1024),
		Height:         defaultInt(req.Height, 1024),
		Steps:          defaultInt(req.Steps, res.DefaultSteps),
		Guidance:       req.Guidance,
		Seed:           req.Seed,
	}
	if req.Guidance == 0 {
		call.Guidance = res.DefaultGuidance
	}
	if call.Steps == 0 {
		call.Steps = 25
	}

	var out types.GenerateResponse
	err = d.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		loras, aerr := d.adapters.Apply(h, req.Loras)
		if aerr != nil {
			return aerr
		}
		out.Loras = loras

		gen, ok := h.Runtime().(runtime.Generator)
		if !ok {
			return runtime.ErrRuntimeUnavailable("resident resource cannot generate")
		}
		result, gerr := gen.Generate(ctx, call)
		if gerr != nil {
			return gerr
		}
		path, werr := d.writeArtifact(result.Artifact)
		if werr != nil {
			return werr
		}
		out.LocalPath = path
		return nil
	})
	if err != nil {
		return types.GenerateResponse{}, err
	}
	out.Metadata = types.GenerateMetadata{
		Model:    res.Name,
		Prompt:   call.Prompt,
		Width:    call.Width,
		Height:   call.Height,
		Steps:    call.Steps,
		Guidance: call.Guidance,
		Seed:     call.Seed,
	}
	return out, nil
}

func (d *Diffusion) writeArtifact(data []byte) (string, error) {
	if err := fsutil.EnsureDir(d.outputDir); err != nil {
		return "", err
	}
	path := filepath.Join(d.outputDir, fmt.Sprintf("%s.png", uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
