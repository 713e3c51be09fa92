package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/registry"
	"inferd/internal/service"
	"inferd/pkg/types"
)

// Services bundles everything the HTTP layer exposes.
type Services struct {
	Diffusion   *service.Diffusion
	Completion  *service.Completion
	Compare     *service.Compare
	Restoration *service.Restoration
	Aggregator  *service.Aggregator
	Registry    *registry.Registry

	// Overlay directories scanned by GET /v1/loras.
	LorasDir         string
	LorasFallbackDir string
}

// serverBaseCtx is a process-level context that can be canceled on shutdown.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}

func NewMux(svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Aggregator.Status())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.Registry.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"models": models})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Post("/generate", svc.handleGenerate)
			r.Post("/load", svc.handleImageLoad)
			r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Diffusion.Unload())
			})
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Diffusion.Health())
			})
			r.Route("/lora", func(r chi.Router) {
				r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, svc.Diffusion.LoraStatus())
				})
				r.Post("/load", svc.handleLoraLoad)
				r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
					ctx, cancel := joinContexts(serverBaseCtx, r.Context())
					defer cancel()
					if err := svc.Diffusion.LoraUnload(ctx); err != nil {
						writeError(w, err)
						return
					}
					writeJSON(w, map[string]string{"status": "unloaded"})
				})
			})
		})

		r.Route("/completions", func(r chi.Router) {
			r.Post("/", svc.handleCompletion)
			r.Post("/load", svc.handleCompletionLoad)
			r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Completion.Unload())
			})
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Completion.Health())
			})
		})

		r.Route("/compare", func(r chi.Router) {
			r.Post("/", svc.handleCompare)
			r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
				ctx, cancel := joinContexts(serverBaseCtx, r.Context())
				defer cancel()
				resp, err := svc.Compare.Load(ctx)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, resp)
			})
			r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Compare.Unload())
			})
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Compare.Health())
			})
		})

		r.Route("/faces", func(r chi.Router) {
			r.Post("/restore", svc.handleRestore)
			r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
				ctx, cancel := joinContexts(serverBaseCtx, r.Context())
				defer cancel()
				resp, err := svc.Restoration.Load(ctx)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, resp)
			})
			r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Restoration.Unload())
			})
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.Restoration.Health())
			})
		})

		r.Get("/loras", svc.handleLoras)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSON enforces content type and body limits before decoding.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s Services) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Diffusion.Generate(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleImageLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Diffusion.Load(ctx, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleLoraLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoraRef
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	results, err := s.Diffusion.LoraLoad(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"loras": results})
}

func (s Services) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Completion.Complete(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleCompletionLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Completion.Load(ctx, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req types.CompareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Compare.Run(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req types.RestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.Restoration.Restore(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s Services) handleLoras(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	var out []types.LoraFile
	for _, dir := range []string{s.LorasDir, s.LorasFallbackDir} {
		if dir == "" {
			continue
		}
		files, err := registry.ListAdapters(dir)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, f := range files {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			out = append(out, f)
		}
	}
	writeJSON(w, types.LorasResponse{Loras: out})
}
