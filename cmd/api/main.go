package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scribe/api/internal/app"
	"scribe/api/internal/config"
	"scribe/api/internal/drafts"
	"scribe/api/internal/editor"
	"scribe/api/internal/export"
	"scribe/api/internal/gitrepo"
	"scribe/api/internal/logger"
	"scribe/api/internal/metrics"
	"scribe/api/internal/search"
	"scribe/api/internal/session"
	"scribe/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	m := metrics.New()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.Pool{MaxOpenConns: cfg.DBMaxConns})
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Strs("applied", applied).Msg("migrations failed")
	}
	if len(applied) > 0 {
		log.Info().Strs("applied", applied).Msg("migrations applied")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ReposDir).Msg("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)
	checks := []app.ReadinessCheck{{Name: "database", Check: dataStore.Ping}}

	pgfts := search.NewPgFTS(db)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		primary = meiliClient
		checks = append(checks, app.ReadinessCheck{Name: "meilisearch", Check: func(context.Context) error {
			if !meiliClient.Healthy() {
				return errors.New("meilisearch unhealthy, using pgfts")
			}
			return nil
		}})
	}
	searchService := search.NewService(primary, pgfts, log)
	go searchService.ReindexAll(ctx, pgfts)

	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		checks = append(checks, app.ReadinessCheck{Name: "redis", Check: redisStore.Ping})
	} else {
		log.Warn().Msg("REDIS_URL not set; working copies are not stashed and logout does not revoke tokens")
	}

	var artifacts export.ArtifactStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := export.NewMinioStore(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage connection failed")
		}
		artifacts = minioStore
	}

	repository := drafts.New(dataStore, gitService, searchService, log)
	hub := app.NewHub(cfg.CORSOrigin, log)

	deps := editor.Deps{
		Loader:    repository,
		Persister: repository,
		Feedback:  drafts.NewAdvisor(dataStore, "scribe-feedback"),
		Exporter: export.NewService(export.Options{
			Artifacts: artifacts,
			Records:   dataStore,
			Logger:    log,
		}),
		Publisher: hub,
		Logger:    log,
		Metrics:   m,
	}
	var revocations app.TokenRevoker
	if redisStore != nil {
		deps.Stash = redisStore
		revocations = redisStore
	}
	manager := editor.NewManager(deps, editor.Options{
		HistoryDepth:     cfg.HistoryDepth,
		CoalesceWindow:   cfg.CoalesceWindow,
		DebounceWindow:   cfg.DebounceWindow,
		AutosaveInterval: cfg.AutosaveInterval,
	})

	service := app.New(cfg, app.Deps{
		Users:       dataStore,
		Drafts:      repository,
		Editor:      manager,
		Revocations: revocations,
		Search:      searchService,
		Checks:      checks,
	})

	httpServer := app.NewHTTPServer(service, hub, m, log, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Scribe API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := manager.SaveAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final save failed")
	}
	if err := manager.CloseAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("open sessions did not finish saving")
	}
}
