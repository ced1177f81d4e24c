package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/config"
	"github.com/kaisha-ai/promptdojo/internal/domain"
	logpkg "github.com/kaisha-ai/promptdojo/internal/logger"
	"github.com/kaisha-ai/promptdojo/internal/metrics"
	"github.com/kaisha-ai/promptdojo/internal/repository/embcache"
	"github.com/kaisha-ai/promptdojo/internal/repository/vectorindex"
	chiTransport "github.com/kaisha-ai/promptdojo/internal/transport/chi"
	openaiProv "github.com/kaisha-ai/promptdojo/internal/transport/openai"
	chatuc "github.com/kaisha-ai/promptdojo/internal/usecase/chat"
	minitestuc "github.com/kaisha-ai/promptdojo/internal/usecase/minitest"
	promptgenuc "github.com/kaisha-ai/promptdojo/internal/usecase/promptgen"
	raguc "github.com/kaisha-ai/promptdojo/internal/usecase/rag"
	reviewuc "github.com/kaisha-ai/promptdojo/internal/usecase/review"
	"github.com/kaisha-ai/promptdojo/internal/version"
)

func main() {
	// Local development reads secrets from .env; absence is fine elsewhere.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting promptdojo API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	index := vectorindex.New(vectorindex.Config{
		BaseURL:   cfg.VectorIndex.URL,
		Token:     cfg.VectorIndex.Token,
		Namespace: cfg.VectorIndex.Namespace,
		Timeout:   time.Duration(cfg.VectorIndex.TimeoutSec) * time.Second,
		Logger:    logger,
	})

	embedder := buildEmbedder(cfg, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", len(cfg.Cache.Addrs) > 0),
	)

	generator := openaiProv.NewGenerator(&openaiProv.GeneratorConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Logger:  logger,
	})

	ragSvc := raguc.NewService(embedder, index, generator, logger)
	reviewSvc := reviewuc.NewService(generator, logger)
	minitestSvc := minitestuc.NewService(generator, logger)
	promptgenSvc := promptgenuc.NewService(generator, logger)
	chatSvc := chatuc.NewService(generator, logger)

	server := chiTransport.NewServer(
		ragSvc, reviewSvc, minitestSvc, promptgenSvc, chatSvc,
		index, logger, env != "prod",
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.RegisterRoutes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the embedder chain: OpenAI -> Cached (optional).
func buildEmbedder(cfg config.Config, logger *zap.Logger) domain.Embedder {
	base := openaiProv.NewEmbedder(&openaiProv.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})

	if len(cfg.Cache.Addrs) == 0 {
		return base
	}

	store, err := embcache.NewRedisStore(embcache.RedisConfig{
		Addrs:    cfg.Cache.Addrs,
		Password: cfg.Cache.Password,
	})
	if err != nil {
		logger.Warn("embedding cache unavailable, continuing without it", zap.Error(err))
		return base
	}
	return embcache.New(base, store, metrics.EmbeddingCacheTotal, logger)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]any{
						"ok":    false,
						"error": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request, propagates
// X-Request-ID, and stashes a request-scoped logger into the context for
// handlers to pick up via logger.FromContext.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			r = r.WithContext(logpkg.ContextWithLogger(r.Context(), reqLogger))

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
