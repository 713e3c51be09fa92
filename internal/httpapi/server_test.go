package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/registry"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/internal/service"
	"inferd/pkg/types"
)

type stubRuntime struct{}

func (stubRuntime) Close() error { return nil }

func (stubRuntime) Generate(ctx context.Context, req runtime.GenerateCall) (runtime.GenerateResult, error) {
	return runtime.GenerateResult{
		Content:      `{"choice": "A", "confidence": 0.7}`,
		Artifact:     []byte("png-bytes"),
		FinishReason: "stop",
	}, nil
}

type stubFactory struct{}

func (stubFactory) FromFile(ctx context.Context, path string, opt runtime.Options) (runtime.Runtime, error) {
	return stubRuntime{}, nil
}

func (stubFactory) FromSource(ctx context.Context, source string, opt runtime.Options) (runtime.Runtime, error) {
	return stubRuntime{}, nil
}

type testEnv struct {
	handler  http.Handler
	lorasDir string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dev := accel.NewHostDevice()
	log := zerolog.Nop()
	retry := resource.RetryPolicy{Backoff: 0, Device: dev, Log: log}
	chain := resource.NewChain(log)
	lorasDir := t.TempDir()
	outputDir := t.TempDir()
	reg := registry.New(filepath.Join(t.TempDir(), "models.json"))

	newPair := func(name string) (*resource.Slot, *resource.Gate) {
		slot := resource.NewSlot(name, chain, retry, dev, log)
		return slot, resource.NewGate(slot, dev, 0, log)
	}

	dSlot, dGate := newPair("diffusion")
	diffusion := service.NewDiffusion(service.DiffusionParams{
		Factory:   stubFactory{},
		Slot:      dSlot,
		Gate:      dGate,
		Adapters:  &resource.AdapterSet{PrimaryDir: lorasDir, Slot: "diffusion", Log: log},
		Registry:  reg,
		Device:    dev,
		ModelsDir: t.TempDir(),
		OutputDir: outputDir,
		Log:       log,
	})

	cSlot, cGate := newPair("completion")
	completion := service.NewCompletion(service.CompletionParams{
		Factory:   stubFactory{},
		Slot:      cSlot,
		Gate:      cGate,
		Device:    dev,
		ModelsDir: t.TempDir(),
		Log:       log,
	})

	vSlot, vGate := newPair("compare")
	compare := service.NewCompare(service.CompareParams{
		Factory: runtime.NewUnavailableFactory("vision"),
		Slot:    vSlot,
		Gate:    vGate,
		Device:  dev,
		Source:  "test/vision",
		Log:     log,
	})

	fSlot, fGate := newPair("restoration")
	restoration := service.NewRestoration(service.RestorationParams{
		Factory:   runtime.NewUnavailableFactory("restoration"),
		Slot:      fSlot,
		Gate:      fGate,
		Device:    dev,
		CacheDir:  t.TempDir(),
		OutputDir: outputDir,
		Log:       log,
	})

	return testEnv{
		handler: NewMux(Services{
			Diffusion:   diffusion,
			Completion:  completion,
			Compare:     compare,
			Restoration: restoration,
			Aggregator:  service.NewAggregator(dev, diffusion, completion, compare, restoration),
			Registry:    reg,
			LorasDir:    lorasDir,
		}),
		lorasDir: lorasDir,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusListsAllSlots(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) != 4 {
		t.Fatalf("slots: %d, want 4", len(resp.Slots))
	}
	for _, s := range resp.Slots {
		if s.State != "empty" {
			t.Fatalf("initial state for %s: %s", s.Service, s.State)
		}
	}
}

func TestGenerateRejectsWrongContentType(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generate", strings.NewReader("prompt=x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status: %d, want 415", rec.Code)
	}
}

func TestGenerateRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/images/generate", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if e.Code != http.StatusBadRequest {
		t.Fatalf("error code field: %d", e.Code)
	}
}

func TestGenerateValidationMapsTo400(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/images/generate", `{"prompt": "x", "width": 9999}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
}

func TestGenerateHappyPath(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/images/generate", `{"prompt": "a lighthouse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.LocalPath == "" {
		t.Fatal("no artifact path in response")
	}
	if _, err := os.Stat(resp.LocalPath); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestUnknownModelMapsTo404(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/images/generate", `{"prompt": "x", "model": "no-such"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", rec.Code)
	}
}

func TestCompletionMissingModelMapsTo400(t *testing.T) {
	env := newTestEnv(t)
	// No default model configured and none requested.
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/completions", `{"prompt": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
}

func TestCompareUnavailableBackendMapsTo503(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/compare", `{"image_a": "a.png", "image_b": "b.png", "prompt": "x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d, want 503; body: %s", rec.Code, rec.Body.String())
	}
}

func TestImagesHealthAndUnload(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/images/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	var h types.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Loaded {
		t.Fatal("loaded before any request")
	}

	rec = doJSON(t, env.handler, http.MethodPost, "/v1/images/load", `{"model": "flux-dev"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load: %d body: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/images/health", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if !h.Loaded || h.Source != "black-forest-labs/FLUX.1-dev" {
		t.Fatalf("health after load: %+v", h)
	}

	rec = doJSON(t, env.handler, http.MethodPost, "/v1/images/unload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unload: %d", rec.Code)
	}
	var u types.UnloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.Status != "unloaded" {
		t.Fatalf("unload status: %s", u.Status)
	}
}

func TestLoraStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/images/lora/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lora status: %d", rec.Code)
	}
	var st types.LoraStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Loaded {
		t.Fatal("lora reported loaded before anything happened")
	}
}

func TestLorasListing(t *testing.T) {
	env := newTestEnv(t)
	for _, f := range []string{"style.safetensors", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(env.lorasDir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/loras", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("loras: %d", rec.Code)
	}
	var resp types.LorasResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Loras) != 1 || resp.Loras[0].Name != "style.safetensors" {
		t.Fatalf("loras: %+v", resp.Loras)
	}
}

func TestModelsListsRegistry(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("models: %d", rec.Code)
	}
}
