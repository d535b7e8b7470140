package web

import (
	"errors"
	"net/http"

	"github.com/kamilpajak/guardian/internal/seeds"
	"go.uber.org/zap"
)

type uploadResponse struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (h *Handler) handleListSeeds(w http.ResponseWriter, _ *http.Request) {
	files, err := h.seeds.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []seeds.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleUploadSeed(w http.ResponseWriter, r *http.Request) {
	// Multipart framing adds overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	path, err := h.seeds.Save(header.Filename, file)
	switch {
	case errors.Is(err, seeds.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, seeds.ErrInvalidName), errors.Is(err, seeds.ErrNotCSV):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to save seed", zap.String("name", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save seed")
		return
	}

	h.logger.Info("seed uploaded", zap.String("name", header.Filename), zap.String("path", path))
	writeJSON(w, http.StatusCreated, uploadResponse{Name: header.Filename, Path: path})
}
