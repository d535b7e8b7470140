package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kamilpajak/guardian/internal/patch"
	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/results"
	"github.com/kamilpajak/guardian/pkg/models"
	"go.uber.org/zap"
)

type diagnoseResponse struct {
	*models.Diagnosis
	RootCause    string `json:"root_cause"`
	Unclassified bool   `json:"unclassified"`
}

type patchRequest struct {
	Categories []string `json:"categories"`
}

type patchResponse struct {
	*models.PatchOutcome
	Labels []string `json:"labels"`
}

func (h *Handler) handleDiagnose(w http.ResponseWriter, _ *http.Request) {
	d, err := h.guardian.Diagnose()
	if err != nil {
		h.writeDiagnoseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagnoseResponse{
		Diagnosis:    d,
		RootCause:    d.RootCause(),
		Unclassified: d.Unclassified(),
	})
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var categories models.IssueSet
	if len(req.Categories) > 0 {
		categories = models.NewIssueSet()
		for _, name := range req.Categories {
			c, ok := models.ParseIssueCategory(name)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown category: "+name)
				return
			}
			categories.Add(c)
		}
	}

	var outcome *models.PatchOutcome
	err := h.guardian.Exclusive(func() error {
		if categories == nil {
			d, err := h.guardian.Diagnose()
			if err != nil {
				return err
			}
			if !d.HasFailures() {
				return errNothingToPatch
			}
			categories = d.Categories
		}
		var err error
		outcome, err = h.guardian.ApplyPatch(categories)
		return err
	})

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, patchResponse{PatchOutcome: outcome, Labels: outcome.Categories.Labels()})
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, errNothingToPatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, patch.ErrRegionNotFound), errors.Is(err, patch.ErrMultipleRegions):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.writeDiagnoseError(w, err)
	}
}

var errNothingToPatch = errors.New("no failing tests to patch")

func (h *Handler) writeDiagnoseError(w http.ResponseWriter, err error) {
	if errors.Is(err, results.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No run_results.json found. Run tests first.")
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
