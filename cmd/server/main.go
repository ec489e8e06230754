package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fabricviz/fabricviz-server/internal/config"
	"github.com/fabricviz/fabricviz-server/internal/database"
	"github.com/fabricviz/fabricviz-server/internal/handler"
	"github.com/fabricviz/fabricviz-server/internal/jobs"
	"github.com/fabricviz/fabricviz-server/internal/kie"
	"github.com/fabricviz/fabricviz-server/internal/middleware"
	"github.com/fabricviz/fabricviz-server/internal/redis"
	"github.com/fabricviz/fabricviz-server/internal/repository"
	"github.com/fabricviz/fabricviz-server/internal/service"
	"github.com/fabricviz/fabricviz-server/internal/sse"
	"github.com/fabricviz/fabricviz-server/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	s3Client, err := storage.NewS3Client(context.Background(), storage.S3Options{
		Endpoint:        cfg.StorageEndpoint,
		Region:          cfg.StorageRegion,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
		UsePathStyle:    cfg.StorageUsePathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create storage client")
	}
	gateway := storage.NewGateway(s3Client, storage.GatewayOptions{
		PublicBaseURL: cfg.StoragePublicBaseURL,
		HTTPClient:    &http.Client{Timeout: config.FetchTimeout},
		MaxFetchBytes: config.MaxFetchSizeBytes,
	})

	kieClient := kie.NewClient(kie.Options{
		BaseURL: cfg.KieBaseURL,
		APIKey:  cfg.KieAPIKey,
		Model:   cfg.KieModel,
		Timeout: config.KieRequestTimeout,
	})

	sessionRepo := repository.NewSessionRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	imageRepo := repository.NewImageRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	orchestrator := service.NewJobOrchestrator(
		db, sessionRepo, jobRepo, imageRepo, kieClient, gateway, broker, redisClient,
		service.OrchestratorConfig{
			MaxAge:        cfg.JobMaxAge(),
			StatusTimeout: config.TaskStatusTimeout,
			LockTTL:       config.ReconcileLockTTL,
		},
	)
	uploadService := service.NewUploadService(sessionRepo, gateway)
	archiveService := service.NewArchiveService(jobRepo, imageRepo, gateway)

	rateLimiter := middleware.NewRedisRateLimiter(redisClient.Client)
	generateLimit := middleware.NewRateLimitMiddleware(rateLimiter, "generate", cfg.GenerateRateLimitPerMin)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	healthHandler := handler.NewHealthHandler(db)
	eventsHandler := handler.NewEventsHandler(broker, orchestrator)
	sessionHandler := handler.NewSessionHandler(orchestrator, uploadService, archiveService, eventsHandler, handler.SessionHandlerOptions{
		MaxUploadBytes: cfg.MaxUploadSizeBytes,
		RateLimit:      generateLimit.Handler,
	})
	optionsHandler := handler.NewOptionsHandler()
	proxyHandler := handler.NewProxyHandler(gateway)
	jsonBodyLimit := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler.Health)
	r.Get("/hello", healthHandler.Hello)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(securityHeaders.Handler)

		r.Mount("/session", sessionHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(jsonBodyLimit.Handler)
			r.Get("/proxy-image", proxyHandler.ServeHTTP)
			r.Get("/options", optionsHandler.Options)
			r.Post("/prompt", optionsHandler.Prompt)
		})
	})

	sweeper := jobs.NewStaleJobSweeper(jobRepo, cfg.JobMaxAge(), config.StaleJobSweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.AppEnv).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
