package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"studio/internal/gen"
	"studio/internal/infra"
	"studio/internal/storage"
)

// App is the handler container; all route handlers hang off it.
type App struct {
	Config  *infra.Config
	Logger  zerolog.Logger
	Service *gen.Service
	Store   storage.ObjectStore
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, service *gen.Service, store storage.ObjectStore) *App {
	return &App{Config: cfg, Logger: logger, Service: service, Store: store}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
