package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/serving"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error)
	GenerateStream(ctx context.Context, req types.GenerateRequest) (<-chan serving.Chunk, error)
	GenerateBatch(ctx context.Context, reqs []types.GenerateRequest) []types.BatchResult
	Models() []types.ModelStatus
	ModelInfo(id string) (types.ModelStatus, bool)
	LoadModel(ctx context.Context, id string) error
	UnloadModel(id string) error
	ReloadModels(ctx context.Context) (types.ReloadResponse, error)
	Status() types.StatusResponse
	MemoryStats() types.MemoryStats
	MemoryPressure() (bool, []string)
	SetMemoryBudget(budget uint64)
	Cleanup() []string
	DefaultModel() string
	Ready() bool
}

// NewMux builds the router with all endpoints mounted.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
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
	r.Use(MetricsMiddleware)

	// Native surface
	r.Post("/generate", handleGenerate(svc))
	r.Post("/generate/stream", handleGenerateStream(svc))
	r.Post("/batch/generate", handleBatchGenerate(svc))
	r.Get("/models", handleListModels(svc))
	r.Post("/models/reload", handleReloadModels(svc))
	r.Post("/models/{id}/load", handleLoadModel(svc))
	r.Post("/models/{id}/unload", handleUnloadModel(svc))
	r.Get("/status", handleStatus(svc))

	// Memory surface
	r.Get("/memory/stats", handleMemoryStats(svc))
	r.Get("/memory/pressure", handleMemoryPressure(svc))
	r.Post("/memory/cleanup", handleMemoryCleanup(svc))
	r.Post("/memory/limit", handleMemoryLimit(svc))

	// OpenAI-compatible surface
	r.Get("/v1/models", handleOpenAIModels(svc))
	r.Post("/v1/completions", handleCompletions(svc))
	r.Post("/v1/chat/completions", handleChatCompletions(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the content type and body limit shared by all JSON
// endpoints.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !hasJSONContentType(ct) {
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

func hasJSONContentType(ct string) bool {
	const prefix = "application/json"
	if len(ct) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := ct[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != prefix[i] {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// requestContext joins the server base context with the request context and
// applies the configured generation timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if generateTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
		return tctx, func() { tcancel(); cancel() }
	}
	return ctx, cancel
}
