package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"imagevariants/internal/api"
	"imagevariants/internal/archive"
	"imagevariants/internal/batch"
	"imagevariants/internal/config"
	fileutil "imagevariants/internal/file"
	"imagevariants/internal/genai"
	"imagevariants/internal/task"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	generator, err := genai.NewClient(genai.Options{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gemini client")
	}

	manager := buildManager(cfg, generator)
	router := setupRouter()
	wireAPI(router, manager, cfg)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("model", cfg.Gemini.Model).
			Str("strategy", cfg.DispatchStrategy).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("log_level", level).Msg("unknown log level, using info")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func buildManager(cfg config.Config, gen task.Generator) *batch.Manager {
	return batch.NewManager(gen, batch.Options{
		DataDir:              cfg.DataDir,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		MaxPrompts:           cfg.MaxPrompts,
		DefaultStrategy:      task.Strategy(cfg.DispatchStrategy),
		Names:                archive.RandomNames(),
		MaxRetainedBatches:   cfg.MaxRetainedBatches,
		RetainFor:            cfg.BatchTTL,
	})
}

func wireAPI(router *gin.Engine, manager *batch.Manager, cfg config.Config) {
	apiHandler := api.NewAPI(manager, api.Options{
		MaxUploadBytes:   cfg.MaxUploadBytes,
		AllowedMIMETypes: cfg.AllowedMIMETypes,
	})
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	// event streams only end with their batch, so their contexts are cancelled on shutdown
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)
	return srv
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

// gracefulShutdown stops accepting requests, then cancels in-flight generation.
// Tasks interrupted this way settle as failed, so every batch still completes.
func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *batch.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !manager.WaitAll(ctx) {
		log.Warn().Msg("background batches did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
