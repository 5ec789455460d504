package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/database"
	"github.com/narrahq/narra/internal/email"
	"github.com/narrahq/narra/internal/export"
	"github.com/narrahq/narra/internal/logging"
	"github.com/narrahq/narra/internal/openai"
	"github.com/narrahq/narra/internal/payments"
	"github.com/narrahq/narra/internal/server"
	"github.com/narrahq/narra/internal/supabase"
)

// Stripe retries a webhook for up to three days.
const stripeEventRetention = 7 * 24 * time.Hour

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.BannerDBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if missing := cfg.Missing(
		config.SupabaseURL, config.SupabaseServiceRoleKey, config.SupabaseJWTSecret,
		config.ResendAPIKey, config.ResendFrom, config.StripeSecretKey, config.StripePriceID,
		config.StripeWebhookSecret, config.OpenAIAPIKey, config.AppBaseURL,
	); len(missing) > 0 {
		// Endpoints that need these answer 500 until they are set.
		slog.Warn("configuration incomplete", "missing", missing)
	}

	srvCfg := server.Config{
		App:      cfg,
		Supabase: supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey),
		Email:    email.NewClient(cfg.ResendAPIKey, cfg.ResendFrom),
		OpenAI:   openai.NewClient(cfg.OpenAIAPIKey, openai.WithScope(cfg.OpenAIProject, cfg.OpenAIOrganization)),
		Stripe: payments.NewClient(payments.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceID:       cfg.StripePriceID,
			CouponID:      cfg.StripeCouponID,
		}),
		SecureCookies: strings.HasPrefix(cfg.BaseURL, "https://"),
	}
	if cfg.S3.Enabled() {
		srvCfg.Archives = export.NewS3Store(cfg.S3)
		slog.Info("export archives stored in bucket", "bucket", cfg.S3.Bucket)
	}

	srv := server.New(db, srvCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      130 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("cleaned up rate limit buckets", "count", n)
				}
				if n, err := srv.EventStore().DeleteOlderThan(cleanupCtx, stripeEventRetention); err != nil {
					slog.Error("cleanup stripe events", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up stripe events", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("narra starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
