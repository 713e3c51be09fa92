package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/common/fsutil"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// DefaultRestorationWeightsURL is where the restoration weights are
// fetched from when the local cache misses.
const DefaultRestorationWeightsURL = "https://github.com/sczhou/CodeFormer/releases/download/v0.1.0/codeformer.pth"

// Restoration is the face restoration service. Its weights are a single
// downloadable file: the load chain tries the local cache first and
// falls back to downloading into it.
type Restoration struct {
	factory    runtime.Factory
	slot       *resource.Slot
	gate       *resource.Gate
	device     accel.Device
	log        zerolog.Logger
	weightsURL string
	cacheDir   string
	outputDir  string
	demand     int
	client     *http.Client
}

type RestorationParams struct {
	Factory    runtime.Factory
	Slot       *resource.Slot
	Gate       *resource.Gate
	Device     accel.Device
	WeightsURL string
	CacheDir   string
	OutputDir  string
	Demand     int
	Client     *http.Client
	Log        zerolog.Logger
}

func NewRestoration(p RestorationParams) *Restoration {
	if p.WeightsURL == "" {
		p.WeightsURL = DefaultRestorationWeightsURL
	}
	if p.Client == nil {
		p.Client = http.DefaultClient
	}
	r := &Restoration{
		factory:    p.Factory,
		slot:       p.Slot,
		gate:       p.Gate,
		device:     p.Device,
		weightsURL: p.WeightsURL,
		cacheDir:   p.CacheDir,
		outputDir:  p.OutputDir,
		demand:     p.Demand,
		client:     p.Client,
		log:        p.Log.With().Str("service", "restoration").Logger(),
	}
	r.gate.SetReload(r.reload)
	return r
}

// weightsPath is the cache location of the restoration weights.
func (r *Restoration) weightsPath() string {
	return filepath.Join(r.cacheDir, filepath.Base(r.weightsURL))
}

func (r *Restoration) spec() resource.Spec {
	spec := resource.Spec{
		Device: r.device.Name(),
		Demand: r.demand,
		Chain: []resource.Strategy{
			{
				Source: "cache:" + r.weightsPath(),
				Construct: func(ctx context.Context, demand int) (runtime.Runtime, error) {
					p := r.weightsPath()
					if !fsutil.FileExists(p) {
						return nil, resource.ErrNotFound(p)
					}
					return r.factory.FromFile(ctx, p, r.options(demand))
				},
			},
			{
				Source: r.weightsURL,
				Construct: func(ctx context.Context, demand int) (runtime.Runtime, error) {
					p, err := r.download(ctx)
					if err != nil {
						return nil, err
					}
					return r.factory.FromFile(ctx, p, r.options(demand))
				},
			},
		},
	}
	return spec
}

func (r *Restoration) options(demand int) runtime.Options {
	return runtime.Options{Device: r.device.Name(), Demand: demand}
}

// download fetches the weights into the cache through a temp file, so a
// partial download never poses as a valid cache entry.
func (r *Restoration) download(ctx context.Context) (string, error) {
	if err := fsutil.EnsureDir(r.cacheDir); err != nil {
		return "", err
	}
	dest := r.weightsPath()
	r.log.Info().Str("url", r.weightsURL).Str("dest", dest).Msg("downloading restoration weights")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.weightsURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch weights: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch weights: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(r.cacheDir, "weights-*.partial")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}

func (r *Restoration) reload(ctx context.Context) error {
	if r.slot.Loaded() == nil {
		return nil
	}
	r.slot.Unload()
	_, err := r.slot.Ensure(ctx, r.spec())
	return err
}

func (r *Restoration) Load(ctx context.Context) (types.LoadResponse, error) {
	h, err := r.slot.Ensure(ctx, r.spec())
	if err != nil {
		return types.LoadResponse{}, err
	}
	return types.LoadResponse{Status: "loaded", Source: h.Source, Device: r.device.Name()}, nil
}

func (r *Restoration) Unload() types.UnloadResponse {
	if !r.slot.Unload() {
		return types.UnloadResponse{Status: "idle", Message: "nothing was loaded"}
	}
	return types.UnloadResponse{Status: "unloaded", Message: "model released"}
}

func (r *Restoration) Health() types.HealthResponse {
	resp := types.HealthResponse{Status: "healthy", Device: r.device.Name()}
	if h := r.slot.Loaded(); h != nil {
		resp.Loaded = true
		resp.Source = h.Source
	}
	return resp
}

func (r *Restoration) Status() resource.SlotSnapshot { return r.slot.Status() }

// Restore enhances the faces in one image.
func (r *Restoration) Restore(ctx context.Context, req types.RestoreRequest) (types.RestoreResponse, error) {
	if err := validateRestore(req); err != nil {
		return types.RestoreResponse{}, err
	}
	if !fsutil.FileExists(req.Image) {
		return types.RestoreResponse{}, resource.ErrNotFound(req.Image)
	}
	if _, err := r.slot.Ensure(ctx, r.spec()); err != nil {
		return types.RestoreResponse{}, err
	}

	fidelity := req.Fidelity
	if fidelity == 0 {
		fidelity = 0.5
	}
	call := runtime.GenerateCall{
		Images:   []string{req.Image},
		Guidance: fidelity,
	}

	var out types.RestoreResponse
	err := r.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		gen, ok := h.Runtime().(runtime.Generator)
		if !ok {
			return runtime.ErrRuntimeUnavailable("resident resource cannot generate")
		}
		result, gerr := gen.Generate(ctx, call)
		if gerr != nil {
			return gerr
		}
		if err := fsutil.EnsureDir(r.outputDir); err != nil {
			return err
		}
		path := filepath.Join(r.outputDir, fmt.Sprintf("restored_%s.png", uuid.NewString()))
		if err := os.WriteFile(path, result.Artifact, 0o644); err != nil {
			return err
		}
		out = types.RestoreResponse{LocalPath: path, FacesCount: result.FacesCount}
		return nil
	})
	if err != nil {
		return types.RestoreResponse{}, err
	}
	return out, nil
}
