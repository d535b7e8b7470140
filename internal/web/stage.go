package web

import (
	"errors"
	"net/http"

	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/pkg/models"
	"go.uber.org/zap"
)

func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter required", http.StatusBadRequest)
		return
	}
	stage, ok := models.ParseStage(name)
	if !ok {
		http.Error(w, "invalid stage, use one of: deps, seed, run, test", http.StatusBadRequest)
		return
	}
	if !h.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	h.stream(w, r, func(g *pipeline.Guardian, emitter *SSEEmitter) {
		res, err := g.RunStage(r.Context(), stage)
		if err != nil {
			emitter.Emit(progress.Event{Type: progress.EventError, Stage: stage, Message: err.Error()})
			return
		}
		emitter.Emit(progress.Event{
			Type:     progress.EventDone,
			Stage:    stage,
			ExitCode: progress.ExitCode(res.ExitCode),
			Message:  res.StatusText(),
		})
	})
}

func (h *Handler) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	// Run emits its own done or error event.
	h.stream(w, r, func(g *pipeline.Guardian, _ *SSEEmitter) {
		_, _ = g.Run(r.Context())
	})
}

// stream holds the pipeline lock for the duration of fn and reports to the
// client as Server-Sent Events. A busy pipeline is answered with 409 before
// any event is written.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, fn func(*pipeline.Guardian, *SSEEmitter)) {
	emitter := NewSSEEmitter(w)
	if emitter == nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	err := h.guardian.Exclusive(func() error {
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		fn(h.guardian.WithEmitter(emitter), emitter)
		return nil
	})
	if errors.Is(err, pipeline.ErrBusy) {
		h.logger.Debug("rejected concurrent request", zap.String("path", r.URL.Path))
		http.Error(w, err.Error(), http.StatusConflict)
	}
}
