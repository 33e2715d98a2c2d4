package handlers

import (
	"encoding/json"
	"net/http"

	"studio/internal/middleware"
)

type verifyRequest struct {
	Key string `json:"key"`
}

// VerifyAccessKey handles POST /api/auth/verify, the one route outside the
// key-guarded group. The client calls it once at startup to check its key.
func (a *App) VerifyAccessKey(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if !middleware.ValidateAccessKey(a.Config.AccessKeys, req.Key) {
		a.json(w, http.StatusUnauthorized, map[string]string{"error": "Invalid key"})
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}
