// Package web serves the form-based front end: an embedded page plus JSON
// and Server-Sent Events endpoints over the shared pipeline.
package web

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/seeds"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

//go:embed static
var staticFiles embed.FS

// Config wires the handler to the pipeline.
type Config struct {
	Guardian       *pipeline.Guardian
	Seeds          *seeds.Store
	MaxUploadBytes int64
	// Limiter throttles stage launches. Defaults to one per second, burst 3.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// Handler serves the web form and API endpoints.
type Handler struct {
	mux            *http.ServeMux
	guardian       *pipeline.Guardian
	seeds          *seeds.Store
	maxUploadBytes int64
	limiter        *rate.Limiter
	logger         *zap.Logger
}

// NewHandler creates a new web handler with all routes registered.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		mux:            http.NewServeMux(),
		guardian:       cfg.Guardian,
		seeds:          cfg.Seeds,
		maxUploadBytes: cfg.MaxUploadBytes,
		limiter:        cfg.Limiter,
		logger:         cfg.Logger,
	}
	if h.limiter == nil {
		h.limiter = rate.NewLimiter(rate.Every(time.Second), 3)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 10 << 20
	}

	staticFS, _ := fs.Sub(staticFiles, "static")
	h.mux.Handle("GET /", http.FileServer(http.FS(staticFS)))
	h.mux.HandleFunc("GET /api/seeds", h.handleListSeeds)
	h.mux.HandleFunc("POST /api/seeds", h.handleUploadSeed)
	h.mux.HandleFunc("GET /api/stage", h.handleStage)
	h.mux.HandleFunc("GET /api/pipeline", h.handlePipeline)
	h.mux.HandleFunc("GET /api/diagnose", h.handleDiagnose)
	h.mux.HandleFunc("POST /api/patch", h.handlePatch)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
