package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"inferd/internal/accel"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/registry"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/internal/service"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := flag.String("addr", envOr("INFERD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", envOr("INFERD_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	modelsDir := flag.String("models-dir", "~/models", "Directory holding checkpoint files")
	lorasDir := flag.String("loras-dir", "~/loras", "Primary overlay directory")
	outputDir := flag.String("output-dir", "./output", "Directory for generated artifacts")
	registryPath := flag.String("registry", "~/.inferd/models.json", "Custom model side-table path")
	completionModel := flag.String("completion-model", "", "Default GGUF file for /v1/completions")
	gpuLayers := flag.Int("gpu-layers", -1, "Accelerator demand for text loads (-1=all, 0=host-only)")
	ctxSize := flag.Int("ctx-size", 4096, "Context size for text runtimes")
	threads := flag.Int("threads", 0, "Threads for text runtimes (0=auto)")
	reloadEvery := flag.Int("reload-every", 25, "Preventive reload after N inference calls (0=off)")
	logLevel := flag.String("log-level", envOr("INFERD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	// A config file, when given, overrides the flag defaults but not
	// explicitly set flags (flags parse after the file would be nicer;
	// keeping the file authoritative for unset values is enough here).
	cfg := config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = *modelsDir
	}
	if cfg.LorasDir == "" {
		cfg.LorasDir = *lorasDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = *outputDir
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = *registryPath
	}
	if cfg.WeightsCacheDir == "" {
		cfg.WeightsCacheDir = "~/.inferd/weights"
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = *completionModel
	}
	if cfg.GPULayers == 0 {
		cfg.GPULayers = *gpuLayers
	}
	if cfg.CtxSize == 0 {
		cfg.CtxSize = *ctxSize
	}
	if cfg.Threads == 0 {
		cfg.Threads = *threads
	}
	if cfg.ReloadEvery == 0 {
		cfg.ReloadEvery = *reloadEvery
	}
	if cfg.RetryBackoffMS == 0 {
		cfg.RetryBackoffMS = 2000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	for _, p := range []*string{&cfg.ModelsDir, &cfg.LorasDir, &cfg.LorasFallbackDir, &cfg.OutputDir, &cfg.WeightsCacheDir} {
		if expanded, eerr := fsutil.ExpandHome(*p); eerr == nil {
			*p = expanded
		}
	}

	device := accel.NewHostDevice()
	retry := resource.RetryPolicy{
		Backoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		Device:  device,
		Log:     log,
	}
	chain := resource.NewChain(log)
	reg := registry.New(cfg.RegistryPath)
	reloadEveryN := uint64(cfg.ReloadEvery)

	newSlot := func(name string) (*resource.Slot, *resource.Gate) {
		slot := resource.NewSlot(name, chain, retry, device, log)
		gate := resource.NewGate(slot, device, reloadEveryN, log)
		return slot, gate
	}

	diffSlot, diffGate := newSlot("diffusion")
	diffusion := service.NewDiffusion(service.DiffusionParams{
		Factory:   runtime.NewUnavailableFactory("diffusion"),
		Slot:      diffSlot,
		Gate:      diffGate,
		Adapters:  &resource.AdapterSet{PrimaryDir: cfg.LorasDir, FallbackDir: cfg.LorasFallbackDir, Slot: "diffusion", Log: log},
		Registry:  reg,
		Device:    device,
		ModelsDir: cfg.ModelsDir,
		OutputDir: cfg.OutputDir,
		Demand:    cfg.GPULayers,
		Log:       log,
	})

	complSlot, complGate := newSlot("completion")
	completion := service.NewCompletion(service.CompletionParams{
		Factory:      runtime.NewLlamaFactory(),
		Slot:         complSlot,
		Gate:         complGate,
		Device:       device,
		ModelsDir:    cfg.ModelsDir,
		DefaultModel: cfg.CompletionModel,
		Demand:       cfg.GPULayers,
		CtxSize:      cfg.CtxSize,
		Threads:      cfg.Threads,
		Log:          log,
	})

	cmpSlot, cmpGate := newSlot("compare")
	compare := service.NewCompare(service.CompareParams{
		Factory: runtime.NewUnavailableFactory("vision"),
		Slot:    cmpSlot,
		Gate:    cmpGate,
		Device:  device,
		Source:  "Qwen/Qwen2-VL-2B-Instruct",
		Demand:  cfg.GPULayers,
		Log:     log,
	})

	faceSlot, faceGate := newSlot("restoration")
	restoration := service.NewRestoration(service.RestorationParams{
		Factory:   runtime.NewUnavailableFactory("restoration"),
		Slot:      faceSlot,
		Gate:      faceGate,
		Device:    device,
		CacheDir:  cfg.WeightsCacheDir,
		OutputDir: cfg.OutputDir,
		Demand:    cfg.GPULayers,
		Log:       log,
	})

	httpapi.SetLogger(log)
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.CORSEnabled {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Request-Id"})
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(httpapi.Services{
		Diffusion:        diffusion,
		Completion:       completion,
		Compare:          compare,
		Restoration:      restoration,
		Aggregator:       service.NewAggregator(device, diffusion, completion, compare, restoration),
		Registry:         reg,
		LorasDir:         cfg.LorasDir,
		LorasFallbackDir: cfg.LorasFallbackDir,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	g, ctx := errgroup.WithContext(baseCtx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		// Release whatever is resident before exit.
		for _, s := range []*resource.Slot{diffSlot, complSlot, cmpSlot, faceSlot} {
			s.Unload()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}
