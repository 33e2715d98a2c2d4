package handlers

import (
	"errors"
	"net/http"

	"studio/internal/domain"
)

type historyItem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	CreatedAt int64  `json:"createdAt"`
}

// History handles GET /api/history with the most recent finished generations.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.Service.History(r.Context())
	if errors.Is(err, domain.ErrStoreUnavailable) {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "record store not configured")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("history lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}

	items := make([]historyItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, historyItem{
			ID:        t.ID,
			URL:       t.ResultURL,
			Prompt:    t.Prompt,
			Model:     string(t.Model),
			CreatedAt: t.CreatedAt.UnixMilli(),
		})
	}
	a.json(w, http.StatusOK, items)
}
