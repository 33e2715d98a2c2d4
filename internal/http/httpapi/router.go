package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"studio/internal/http/handlers"
	"studio/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// The filesystem store needs the server itself to expose stored objects.
	if !app.Config.R2Configured() {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(app.Config.StoragePath)))
		r.Handle("/static/*", fs)
	}

	r.Route("/api", func(r chi.Router) {
		// Key verification stays outside the guarded group; it IS the key check.
		r.Post("/auth/verify", app.VerifyAccessKey)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccessKey(app.Config.AccessKeys))

			r.Post("/generate", app.Generate)
			r.Post("/generate/status", app.GenerateStatus)
			r.Get("/generate/{taskId}/download", app.DownloadResult)
			r.Get("/history", app.History)
			r.Post("/upload/presigned", app.CreatePresignedUpload)
		})
	})

	return r
}
