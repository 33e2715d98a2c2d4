package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"studio/internal/storage"
)

type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// CreatePresignedUpload handles POST /api/upload/presigned. It hands the
// client a short-lived PUT URL so reference images skip the API server.
func (a *App) CreatePresignedUpload(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Filename == "" || req.ContentType == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "filename and contentType required")
		return
	}
	if !strings.HasPrefix(req.ContentType, "image/") {
		a.error(w, http.StatusBadRequest, "bad_request", "only image uploads are accepted")
		return
	}

	key := fmt.Sprintf("uploads/%d%s", time.Now().UnixMilli(), path.Ext(req.Filename))
	presigned, err := a.Store.PresignPut(r.Context(), key, req.ContentType)
	if errors.Is(err, storage.ErrPresignUnsupported) {
		a.error(w, http.StatusNotImplemented, "unsupported", "direct uploads require object storage")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("presign failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to presign upload")
		return
	}
	a.json(w, http.StatusOK, presigned)
}
