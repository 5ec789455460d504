package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/narrahq/narra/internal/audio"
	"github.com/narrahq/narra/internal/banner"
	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/edge"
	"github.com/narrahq/narra/internal/email"
	"github.com/narrahq/narra/internal/handler"
	"github.com/narrahq/narra/internal/middleware"
	"github.com/narrahq/narra/internal/openai"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/store"
	"github.com/narrahq/narra/internal/supabase"
)

// Stripe is what the server needs from the payments client.
type Stripe interface {
	handler.Payments
	handler.EventVerifier
}

type Config struct {
	App      config.Config
	Supabase *supabase.Client
	Email    *email.Client
	OpenAI   *openai.Client
	Stripe   Stripe
	// Archives is optional. Without it exports are streamed.
	Archives handler.ArchiveStore
	// SecureCookies marks the banner client cookie Secure.
	SecureCookies bool
}

type Server struct {
	db          *sql.DB
	cfg         config.Config
	authH       *handler.AuthHandler
	giftH       *handler.GiftHandler
	emailH      *handler.EmailChangeHandler
	paymentsH   *handler.PaymentsHandler
	feedbackH   *handler.FeedbackHandler
	aiH         *handler.AIHandler
	bannerH     *handler.BannerHandler
	webhookH    *handler.WebhookHandler
	eventStore  *store.StripeEventStore
	metrics     *middleware.Metrics
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	app := cfg.App
	eventStore := store.NewStripeEventStore(db)
	bannerSvc := banner.NewService(banner.NewSQLStore(db), logger.With("component", "banner"))

	giftH := handler.NewGiftHandler(app, cfg.Supabase, cfg.Email, cfg.Stripe, cfg.Archives, logger.With("component", "gift"))

	return &Server{
		db:          db,
		cfg:         app,
		authH:       handler.NewAuthHandler(app, cfg.Supabase, cfg.Email, logger.With("component", "auth")),
		giftH:       giftH,
		emailH:      handler.NewEmailChangeHandler(app, cfg.Supabase, cfg.Email, logger.With("component", "email_change")),
		paymentsH:   handler.NewPaymentsHandler(app, cfg.Stripe, logger.With("component", "payments")),
		feedbackH:   handler.NewFeedbackHandler(app, cfg.Supabase, logger.With("component", "feedback")),
		aiH:         handler.NewAIHandler(app, cfg.OpenAI, logger.With("component", "openai")),
		bannerH:     handler.NewBannerHandler(bannerSvc, cfg.SecureCookies, logger.With("component", "banner")),
		webhookH:    handler.NewWebhookHandler(cfg.Stripe, eventStore, giftH, logger.With("component", "webhook")),
		eventStore:  eventStore,
		metrics:     middleware.NewMetrics(),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// EventStore returns the Stripe event log for cleanup tasks.
func (s *Server) EventStore() *store.StripeEventStore {
	return s.eventStore
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	app, logger := s.cfg, s.logger

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Sign-in
	mux.Handle("POST /api/send-login-pin", s.rateLimited(10, s.authH.SendLoginPIN))
	mux.Handle("POST /api/verify-login-pin", s.rateLimited(10, s.authH.VerifyLoginPIN))
	mux.Handle("POST /api/send-magic-link", s.rateLimited(10, s.authH.SendMagicLink))
	mux.Handle("POST /api/send-custom-magic-link", s.rateLimited(10, s.authH.SendCustomMagicLink))
	mux.Handle("POST /api/validate-magic-token", s.rateLimited(20, s.authH.ValidateMagicToken))

	// Purchases
	mux.Handle("POST /api/stripe-create-checkout", s.rateLimited(20, s.paymentsH.CreateCheckout))
	mux.HandleFunc("GET /api/stripe-price", s.paymentsH.Price)
	mux.Handle("POST /api/gift-complete", s.rateLimited(20, s.giftH.Complete))
	webhook := handler.Requires(app, logger, config.StripeSecretKey, config.StripeWebhookSecret,
		config.SupabaseURL, config.SupabaseServiceRoleKey, config.ResendAPIKey, config.ResendFrom, config.AppBaseURL)
	mux.Handle("POST /api/stripe-webhook", webhook(http.HandlerFunc(s.webhookH.HandleStripeWebhook)))

	// Gift management, authenticated by the buyer's management token.
	manager := chain(
		handler.Requires(app, logger, config.SupabaseURL, config.SupabaseServiceRoleKey),
		middleware.RequireManager(s.giftH),
	)
	mux.Handle("GET /api/gift-manage", manager(http.HandlerFunc(s.giftH.Manage)))
	mux.Handle("POST /api/gift-manage/subscribers", manager(http.HandlerFunc(s.giftH.AddSubscriber)))
	mux.Handle("DELETE /api/gift-manage/subscribers", manager(http.HandlerFunc(s.giftH.RemoveSubscriber)))
	mux.Handle("POST /api/gift-manage/author-email", manager(http.HandlerFunc(s.giftH.ChangeAuthorEmail)))
	mux.Handle("GET /api/gift-manage/export", manager(http.HandlerFunc(s.giftH.Export)))
	mux.Handle("POST /api/gift-manage/resend-link", manager(http.HandlerFunc(s.giftH.ResendLink)))

	// Email change
	session := chain(
		handler.Requires(app, logger, config.SupabaseJWTSecret),
		middleware.RequireSession(app.SupabaseJWTSecret, logger),
	)
	mux.Handle("POST /api/email-change-request", session(http.HandlerFunc(s.emailH.Request)))
	mux.HandleFunc("GET /api/email-change-confirm", s.emailH.Confirm)
	mux.HandleFunc("POST /api/email-change-confirm", s.emailH.Confirm)
	mux.HandleFunc("GET /api/email-change-revert", s.emailH.Revert)
	mux.HandleFunc("POST /api/email-change-revert", s.emailH.Revert)

	// Subscriber feedback
	mux.HandleFunc("GET /api/story-feedback", s.feedbackH.Get)
	mux.Handle("POST /api/story-feedback", s.rateLimited(30, s.feedbackH.Post))

	// OpenAI
	mux.Handle("POST /api/openai-chat", s.rateLimited(30, s.aiH.Chat))
	mux.Handle("POST /api/openai-transcribe", s.rateLimited(30, s.aiH.Transcribe))
	mux.Handle("POST /api/openai-realtime-session", s.rateLimited(10, s.aiH.RealtimeSession))

	// Recorder input level
	mux.HandleFunc("GET /api/audio-level", audio.StreamHandler(app.BaseURL, logger.With("component", "audio")))

	// Promo banner
	mux.HandleFunc("GET /api/banner", s.bannerH.Get)
	mux.HandleFunc("POST /api/banner", s.bannerH.Dismiss)
	mux.HandleFunc("DELETE /api/banner", s.bannerH.Reset)

	// Front-end bundles
	static := edge.StaticHandler(app.AppDir, app.BlogDir)
	mux.Handle("GET /app", static)
	mux.Handle("GET /app/", static)
	mux.Handle("GET /blog/", static)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, respond.NotFound("Not found"))
	})

	return chain(
		middleware.RequestID,
		middleware.RequestLogger(logger.With("component", "http")),
		middleware.Recover(logger),
		middleware.CORS,
		s.metrics.Middleware,
	)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check: database", "error", err)
		respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimited allows limit requests per minute per client IP and endpoint.
func (s *Server) rateLimited(limit int, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.ByIPAndPath, limit, time.Minute)(h)
}

// chain applies middleware so the first one listed runs first.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}
