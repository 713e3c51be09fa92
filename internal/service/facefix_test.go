package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// faceRuntime reports a face count.
type faceRuntime struct {
	faces int
}

func (f *faceRuntime) Close() error { return nil }

func (f *faceRuntime) Generate(ctx context.Context, req runtime.GenerateCall) (runtime.GenerateResult, error) {
	return runtime.GenerateResult{Artifact: []byte("restored"), FacesCount: f.faces}, nil
}

func newRestorationFixture(t *testing.T, factory runtime.Factory, weightsURL string) *Restoration {
	t.Helper()
	dev := accel.NewHostDevice()
	retry := resource.RetryPolicy{Backoff: 0, Device: dev, Log: zerolog.Nop()}
	slot := resource.NewSlot("restoration", resource.NewChain(zerolog.Nop()), retry, dev, zerolog.Nop())
	gate := resource.NewGate(slot, dev, 0, zerolog.Nop())
	return NewRestoration(RestorationParams{
		Factory:    factory,
		Slot:       slot,
		Gate:       gate,
		Device:     dev,
		WeightsURL: weightsURL,
		CacheDir:   t.TempDir(),
		OutputDir:  t.TempDir(),
		Log:        zerolog.Nop(),
	})
}

func TestRestoreValidation(t *testing.T) {
	factory := &countingFactory{rt: &faceRuntime{}}
	r := newRestorationFixture(t, factory, "http://unused.invalid/w.pth")

	if _, err := r.Restore(context.Background(), types.RestoreRequest{}); !resource.IsValidation(err) {
		t.Fatalf("want validation error for empty image, got %v", err)
	}
	if _, err := r.Restore(context.Background(), types.RestoreRequest{Image: "x.png", Fidelity: 2}); !resource.IsValidation(err) {
		t.Fatalf("want validation error for fidelity out of range, got %v", err)
	}
	if got := factory.constructions.Load(); got != 0 {
		t.Fatalf("constructions for invalid requests: %d", got)
	}
}

func TestRestoreDownloadsWeightsOnMiss(t *testing.T) {
	var downloads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write([]byte("weights-bytes"))
	}))
	defer srv.Close()

	factory := &countingFactory{rt: &faceRuntime{faces: 2}}
	r := newRestorationFixture(t, factory, srv.URL+"/codeformer.pth")

	img := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(img, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Restore(context.Background(), types.RestoreRequest{Image: img})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if resp.FacesCount != 2 {
		t.Fatalf("faces: %d, want 2", resp.FacesCount)
	}
	if resp.LocalPath == "" {
		t.Fatal("no artifact path")
	}
	if downloads.Load() != 1 {
		t.Fatalf("downloads: %d, want 1", downloads.Load())
	}
	cached, err := os.ReadFile(r.weightsPath())
	if err != nil {
		t.Fatalf("cached weights: %v", err)
	}
	if string(cached) != "weights-bytes" {
		t.Fatalf("cache content: %q", cached)
	}

	// Second restore finds the weights cached and does not download.
	r.slot.Unload()
	if _, err := r.Restore(context.Background(), types.RestoreRequest{Image: img}); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if downloads.Load() != 1 {
		t.Fatalf("downloads after cache hit: %d, want still 1", downloads.Load())
	}
}

func TestRestoreDownloadErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	factory := &countingFactory{rt: &faceRuntime{}}
	r := newRestorationFixture(t, factory, srv.URL+"/w.pth")

	img := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(img, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := r.Restore(context.Background(), types.RestoreRequest{Image: img})
	if err == nil {
		t.Fatal("want error when the weights cannot be fetched")
	}
	if _, ok := resource.IsChainExhausted(err); !ok {
		t.Fatalf("want chain-exhausted error, got %T: %v", err, err)
	}
}

func TestRestoreMissingInputImage(t *testing.T) {
	factory := &countingFactory{rt: &faceRuntime{}}
	r := newRestorationFixture(t, factory, "http://unused.invalid/w.pth")
	_, err := r.Restore(context.Background(), types.RestoreRequest{Image: "/nonexistent.png"})
	if !resource.IsNotFound(err) {
		t.Fatalf("want not-found, got %v", err)
	}
}
