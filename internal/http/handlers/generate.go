package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/gen"
)

// Generate handles POST /api/generate. The response is a stream of
// newline-delimited JSON events flushed as they happen, so the caller can
// render incremental status; the task id for later polling arrives in the
// result event.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var in gen.GenerateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := in.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(e gen.Event) {
		if err := enc.Encode(e); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := a.Service.Generate(r.Context(), in, emit); err != nil {
		// The terminal error event already went over the stream.
		a.Logger.Error().Err(err).Msg("generation request failed")
	}
}

type statusRequest struct {
	TaskID string `json:"taskId"`
}

// GenerateStatus handles POST /api/generate/status: one snapshot fetch for
// the client poller, with succeeded results rewritten to internal storage.
func (a *App) GenerateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.TaskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "taskId required")
		return
	}
	snap, err := a.Service.Status(r.Context(), req.TaskID)
	if err != nil {
		a.Logger.Error().Err(err).Str("task_id", req.TaskID).Msg("status check failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to check status")
		return
	}
	a.json(w, http.StatusOK, snap)
}

// DownloadResult handles GET /api/generate/{taskId}/download with a zip of
// the stored result image.
func (a *App) DownloadResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "taskId required")
		return
	}
	archive, err := a.Service.ResultArchive(r.Context(), taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "no finished result for task")
		return
	case errors.Is(err, domain.ErrStoreUnavailable):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "record store not configured")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("result archive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=generation-"+taskID+".zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
