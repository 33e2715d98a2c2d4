package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/domain"
	"studio/internal/gen"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/providers/grsai"
	"studio/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// The task record store is optional; without it generation still works
	// but history and downloads are off.
	var generationRepo domain.GenerationRepository
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		generationRepo = repo.NewGenerationRepository(dbpool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, task records disabled")
	}

	var store storage.ObjectStore
	if cfg.R2Configured() {
		r2, err := storage.NewR2Store(ctx, storage.R2Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2Bucket,
			PublicBaseURL:   cfg.R2PublicURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		store = r2
	} else {
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init filesystem store")
		}
		store = fs
		logger.Warn().Str("path", cfg.StoragePath).Msg("object store credentials not set, using filesystem store")
	}

	backend, err := grsai.NewClient(grsai.Options{
		APIKey:  cfg.GrsaiAPIKey,
		BaseURL: cfg.GrsaiBaseURL,
		Mode:    grsai.Mode(cfg.GrsaiMode),
		Logger:  &logger,
		Store:   store,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init generation backend")
	}

	service := gen.NewService(gen.Options{
		Backend: backend,
		Store:   store,
		Repo:    generationRepo,
		Logger:  logger,
	})

	app := handlers.NewApp(cfg, logger, service, store)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Let in-flight record writes drain before exiting.
	service.Wait()
	logger.Info().Msg("server stopped")
}
