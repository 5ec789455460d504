package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/email"
	"github.com/narrahq/narra/internal/middleware"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

// MsgAccountNotFound is shown when a sign-in is requested for an unknown address.
const MsgAccountNotFound = "No encontramos una cuenta con este correo. Contacta al administrador para obtener acceso."

const customLinkTTL = 15 * time.Minute

var authSecrets = []config.Secret{config.SupabaseURL, config.SupabaseServiceRoleKey}

var (
	emailSchema = decode.MustCompile("email.json", `{
		"type": "object",
		"required": ["email"],
		"properties": {
			"email": {"type": "string", "minLength": 3, "maxLength": 320, "pattern": "^\\s*[^@\\s]+@[^@\\s]+\\s*$"},
			"redirectTo": {"type": "string", "maxLength": 2048}
		}
	}`)
	pinSchema = decode.MustCompile("pin.json", `{
		"type": "object",
		"required": ["email", "pin"],
		"properties": {
			"email": {"type": "string", "minLength": 3, "maxLength": 320},
			"pin": {"type": "string", "pattern": "^\\s*[0-9]{6}\\s*$"}
		}
	}`)
	magicTokenSchema = decode.MustCompile("magic-token.json", `{
		"type": "object",
		"required": ["token"],
		"properties": {
			"token": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
		}
	}`)
)

type AuthHandler struct {
	base
	supabase *supabase.Client
	email    *email.Client
}

func NewAuthHandler(cfg config.Config, sb *supabase.Client, ec *email.Client, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		base:     base{cfg: cfg, logger: logger},
		supabase: sb,
		email:    ec,
	}
}

type emailRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

// existingUser returns the auth user for addr or a 404 with the Spanish
// account-not-found message. Only registered users can sign in.
func (h *AuthHandler) existingUser(r *http.Request, addr string) (*supabase.User, error) {
	user, err := h.supabase.FindUserByEmail(r.Context(), addr)
	if err != nil {
		return nil, upstream("Failed to look up user", err)
	}
	if user == nil {
		return nil, respond.NotFound(MsgAccountNotFound)
	}
	return user, nil
}

// SendLoginPIN emails a 6-digit sign-in code to an existing user.
func (h *AuthHandler) SendLoginPIN(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey, config.ResendAPIKey, config.ResendFrom) {
		return
	}
	var req emailRequest
	if err := emailSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	addr := normalizeEmail(req.Email)

	if _, err := h.existingUser(r, addr); err != nil {
		h.fail(w, r, err)
		return
	}

	link, err := h.supabase.GenerateLink(r.Context(), supabase.GenerateLinkParams{Type: supabase.LinkMagic, Email: addr})
	if err != nil {
		h.fail(w, r, upstream("Failed to generate login code", err))
		return
	}
	if link.EmailOTP == "" {
		h.fail(w, r, respond.Upstream("Failed to generate login code", errors.New("generate_link returned no email_otp"), nil))
		return
	}

	if err := h.email.SendLoginPIN(r.Context(), addr, link.EmailOTP); err != nil {
		h.fail(w, r, upstream("Failed to send email", err))
		return
	}
	h.logger.Info("login pin sent", "email", addr)
	respond.OK(w, map[string]any{"message": "Código enviado"})
}

type pinRequest struct {
	Email string `json:"email"`
	PIN   string `json:"pin"`
}

// VerifyLoginPIN exchanges a PIN for session tokens.
func (h *AuthHandler) VerifyLoginPIN(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, authSecrets...) {
		return
	}
	var req pinRequest
	if err := pinSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	sess, err := h.supabase.Verify(r.Context(), supabase.VerifyParams{
		Type:  supabase.VerifyEmail,
		Email: normalizeEmail(req.Email),
		Token: strings.TrimSpace(req.PIN),
	})
	if err != nil {
		var apiErr *supabase.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			respond.Error(w, respond.Unauthorized("Código inválido o caducado"))
			return
		}
		h.fail(w, r, upstream("Failed to verify code", err))
		return
	}
	respond.OK(w, sessionFields(sess))
}

func sessionFields(s *supabase.Session) map[string]any {
	return map[string]any{
		"access_token":  s.AccessToken,
		"refresh_token": s.RefreshToken,
		"expires_in":    s.ExpiresIn,
		"expires_at":    s.ExpiresAt,
		"token_type":    s.TokenType,
		"user":          s.User,
	}
}

// SendMagicLink emails a Supabase magic link to an existing user.
func (h *AuthHandler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey, config.ResendAPIKey, config.ResendFrom, config.AppBaseURL) {
		return
	}
	var req emailRequest
	if err := emailSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	addr := normalizeEmail(req.Email)

	if _, err := h.existingUser(r, addr); err != nil {
		h.fail(w, r, err)
		return
	}

	link, err := h.magicLink(r, addr, redirectTarget(req.RedirectTo, h.cfg.BaseURL))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.email.SendMagicLink(r.Context(), addr, link); err != nil {
		h.fail(w, r, upstream("Failed to send email", err))
		return
	}
	h.logger.Info("magic link sent", "email", addr)
	respond.OK(w, map[string]any{"message": "Enlace enviado"})
}

// magicLink generates a Supabase magic link and repairs its URLs.
func (h *AuthHandler) magicLink(r *http.Request, addr, redirectTo string) (string, error) {
	link, err := h.supabase.GenerateLink(r.Context(), supabase.GenerateLinkParams{
		Type:       supabase.LinkMagic,
		Email:      addr,
		RedirectTo: redirectTo,
	})
	if err != nil {
		return "", upstream("Failed to generate magic link", err)
	}
	if link.ActionLink == "" {
		return "", respond.Upstream("Failed to generate magic link", errors.New("generate_link returned no action_link"), nil)
	}
	return FixRedirectURL(link.ActionLink, h.cfg.BaseURL), nil
}

// SendCustomMagicLink emails a first-party sign-in link backed by a
// magic_link_tokens row instead of a Supabase action link.
func (h *AuthHandler) SendCustomMagicLink(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey, config.ResendAPIKey, config.ResendFrom, config.AppBaseURL) {
		return
	}
	var req emailRequest
	if err := emailSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	addr := normalizeEmail(req.Email)

	if _, err := h.existingUser(r, addr); err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := newToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	row := magicLinkToken{Email: addr, Token: token, ExpiresAt: time.Now().UTC().Add(customLinkTTL)}
	if err := h.supabase.Insert(r.Context(), tableMagicLinkTokens, row, nil); err != nil {
		h.fail(w, r, upstream("Failed to create magic link", err))
		return
	}

	link := h.cfg.BaseURL + "/app/magic?token=" + token
	if err := h.email.SendMagicLink(r.Context(), addr, link); err != nil {
		h.fail(w, r, upstream("Failed to send email", err))
		return
	}
	h.logger.Info("custom magic link sent", "email", addr)
	respond.OK(w, map[string]any{"message": "Enlace enviado"})
}

type magicTokenRequest struct {
	Token string `json:"token"`
}

// ValidateMagicToken redeems a first-party magic link token for a session.
// The RPC marks the token used atomically, so a token works once.
func (h *AuthHandler) ValidateMagicToken(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, authSecrets...) {
		return
	}
	var req magicTokenRequest
	if err := magicTokenSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	var res magicTokenValidation
	err := h.supabase.RPC(r.Context(), rpcValidateMagicToken, map[string]any{
		"p_token":      req.Token,
		"p_ip":         middleware.RealIP(r),
		"p_user_agent": r.UserAgent(),
	}, &res)
	if err != nil {
		h.fail(w, r, upstream("Failed to validate token", err))
		return
	}
	if !res.Valid {
		if res.Reason == "expired" {
			respond.Error(w, respond.Forbidden("El enlace ha caducado"))
			return
		}
		respond.Error(w, respond.Unauthorized("Enlace inválido o ya utilizado"))
		return
	}

	link, err := h.supabase.GenerateLink(r.Context(), supabase.GenerateLinkParams{Type: supabase.LinkMagic, Email: res.Email})
	if err != nil {
		h.fail(w, r, upstream("Failed to create session", err))
		return
	}
	sess, err := h.supabase.Verify(r.Context(), supabase.VerifyParams{Type: supabase.VerifyMagicLink, TokenHash: link.HashedToken})
	if err != nil {
		h.fail(w, r, upstream("Failed to create session", err))
		return
	}
	respond.OK(w, sessionFields(sess))
}
