package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/narrahq/narra/internal/banner"
	"github.com/narrahq/narra/internal/respond"
)

const clientCookie = "narra_client"

// BannerHandler exposes the promotional banner state for the browser that
// sends the narra_client cookie. New browsers get a cookie on first contact.
type BannerHandler struct {
	service *banner.Service
	secure  bool
	logger  *slog.Logger
}

func NewBannerHandler(svc *banner.Service, secureCookie bool, logger *slog.Logger) *BannerHandler {
	return &BannerHandler{service: svc, secure: secureCookie, logger: logger}
}

func (h *BannerHandler) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// Get reports whether the banner should be shown.
func (h *BannerHandler) Get(w http.ResponseWriter, r *http.Request) {
	visible, err := h.service.Visible(r.Context(), h.clientID(w, r))
	if err != nil {
		// The service already falls back to showing the banner.
		h.logger.Warn("banner state unavailable", "error", err)
	}
	respond.OK(w, map[string]any{"visible": visible, "key": banner.DismissedKey})
}

// Dismiss hides the banner for this browser.
func (h *BannerHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Dismiss(r.Context(), h.clientID(w, r)); err != nil {
		h.logger.Error("dismiss banner", "error", err)
		respond.Error(w, err)
		return
	}
	respond.OK(w, map[string]any{"visible": false})
}

// Reset shows the banner again for this browser.
func (h *BannerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context(), h.clientID(w, r)); err != nil {
		h.logger.Error("reset banner", "error", err)
		respond.Error(w, err)
		return
	}
	respond.OK(w, map[string]any{"visible": true})
}
