package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/audit"
	"github.com/lexcite/corpuscore/internal/augment"
	"github.com/lexcite/corpuscore/internal/auth"
	"github.com/lexcite/corpuscore/internal/config"
	"github.com/lexcite/corpuscore/internal/generate"
	"github.com/lexcite/corpuscore/internal/integrity"
	"github.com/lexcite/corpuscore/internal/pipeline"
	"github.com/lexcite/corpuscore/internal/ratelimit"
	"github.com/lexcite/corpuscore/internal/retrieval"
	"github.com/lexcite/corpuscore/internal/server"
	"github.com/lexcite/corpuscore/internal/service/embedding"
	"github.com/lexcite/corpuscore/internal/storage"
	"github.com/lexcite/corpuscore/internal/telemetry"
	"github.com/lexcite/corpuscore/migrations"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the query and search HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("corpuscore starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)
	generator := generate.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.WriteTimeout)

	retriever := retrieval.New(db)
	augmenter := augment.New(cfg, retriever, embedder)
	recorder := audit.NewRecorder(db, logger)
	versionCache := integrity.NewCache(5 * time.Minute)

	serviceTokens, err := auth.NewManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.ServiceTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	svc := pipeline.New(cfg, db, retriever, augmenter, generator, recorder, versionCache, logger)

	var limiter ratelimit.Limiter
	switch {
	case cfg.RateLimitTokensPerSecond <= 0:
		limiter = ratelimit.NoopLimiter{}
	case cfg.RateLimitRedisAddr != "":
		limiter = ratelimit.NewRedisLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitTokensPerSecond, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitTokensPerSecond, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Query:               svc,
		Search:              retriever,
		Replay:              recorder,
		Logger:              logger,
		APIKey:              cfg.ExternalAPIKey,
		ServiceTokens:       serviceTokens,
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
	})

	go retentionLoop(ctx, db, logger, cfg.RetentionRedactDays, cfg.RetentionDeleteDays)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("corpuscore shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("corpuscore stopped")
	return nil
}

// newEmbeddingProvider returns a real OpenAI-compatible provider when an API
// key is configured, else a noop provider — semantic recall (C3) degrades
// gracefully rather than failing startup.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("no embedding provider configured, using noop (semantic recall disabled)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	p, err := embedding.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, "text-embedding-3-small", cfg.EmbeddingDimensions)
	if err != nil {
		logger.Error("embedding provider init failed", "error", err)
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	return p
}

// retentionLoop runs RunRetention once a day, redacting and deleting
// query_runs past their configured windows (§7 data retention).
func retentionLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, redactDays, deleteDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			result, err := db.RunRetention(opCtx, time.Now(), redactDays, deleteDays, false)
			cancel()
			if err != nil {
				logger.Warn("retention pass failed", "error", err)
				continue
			}
			if result.RedactedCount > 0 || result.DeletedCount > 0 {
				logger.Info("retention pass complete", "redacted", result.RedactedCount, "deleted", result.DeletedCount)
			}
		}
	}
}
