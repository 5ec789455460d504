package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/narrahq/narra/internal/auth"
	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/email"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

const emailChangeTTL = 24 * time.Hour

var changeTokenSchema = decode.MustCompile("change-token.json", `{
	"type": "object",
	"required": ["token"],
	"properties": {"token": {"type": "string", "pattern": "^[0-9a-f]{64}$"}}
}`)

// EmailChangeHandler runs the self-service email change: the author asks for
// a new address, confirms it from the new inbox, and can revert it from the
// old one.
type EmailChangeHandler struct {
	base
	supabase *supabase.Client
	email    *email.Client
	now      func() time.Time
}

func NewEmailChangeHandler(cfg config.Config, sb *supabase.Client, ec *email.Client, logger *slog.Logger) *EmailChangeHandler {
	return &EmailChangeHandler{
		base:     base{cfg: cfg, logger: logger},
		supabase: sb,
		email:    ec,
		now:      time.Now,
	}
}

// Request records a pending change for the signed-in author and emails both
// addresses. It runs behind session authentication.
func (h *EmailChangeHandler) Request(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey, config.SupabaseJWTSecret, config.ResendAPIKey, config.ResendFrom, config.AppBaseURL) {
		return
	}
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.UserID == "" {
		respond.Error(w, respond.Unauthorized("Missing authorization token"))
		return
	}
	var req newEmailRequest
	if err := newEmailSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	ctx := r.Context()
	newAddr := normalizeEmail(req.NewEmail)
	oldAddr := normalizeEmail(ac.Email)
	if newAddr == oldAddr {
		respond.Error(w, respond.BadRequest("El correo nuevo es igual al actual"))
		return
	}

	taken, err := h.supabase.FindUserByEmail(ctx, newAddr)
	if err != nil {
		h.fail(w, r, upstream("Failed to check email", err))
		return
	}
	if taken != nil {
		respond.Error(w, respond.BadRequest("Ese correo ya está en uso"))
		return
	}

	confirmToken, err := newToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	revertToken, err := newToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	err = h.supabase.Insert(ctx, tableEmailChanges, emailChangeRequest{
		UserID:       ac.UserID,
		OldEmail:     oldAddr,
		NewEmail:     newAddr,
		ConfirmToken: confirmToken,
		RevertToken:  revertToken,
		Status:       changePending,
		ExpiresAt:    h.now().UTC().Add(emailChangeTTL),
	}, nil)
	if err != nil {
		h.fail(w, r, upstream("Failed to create email change request", err))
		return
	}

	if err := h.email.SendEmailChangeConfirm(ctx, newAddr, h.link("confirmar-correo", confirmToken)); err != nil {
		h.fail(w, r, upstream("Failed to send confirmation email", err))
		return
	}
	if oldAddr != "" {
		if err := h.email.SendEmailChangeNotice(ctx, oldAddr, newAddr, h.link("revertir-correo", revertToken)); err != nil {
			h.fail(w, r, upstream("Failed to send notice email", err))
			return
		}
	}
	h.logger.Info("email change requested", "user", ac.UserID)
	respond.OK(w, map[string]any{"message": "Te enviamos un correo para confirmar el cambio"})
}

func (h *EmailChangeHandler) link(page, token string) string {
	return h.cfg.BaseURL + "/app/" + page + "?token=" + url.QueryEscape(token)
}

// changeToken reads the token from the query string, or from the body for POST.
func changeToken(r *http.Request) (string, error) {
	var req struct {
		Token string `json:"token"`
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, changeTokenSchema.Values(url.Values{"token": {t}}, &req)
	}
	if r.Method != http.MethodPost {
		return "", respond.BadRequest("Token is required")
	}
	if err := changeTokenSchema.Decode(r, &req); err != nil {
		return "", err
	}
	return req.Token, nil
}

func (h *EmailChangeHandler) lookup(ctx context.Context, column, token string) (*emailChangeRequest, error) {
	var rows []emailChangeRequest
	if err := h.supabase.Select(ctx, tableEmailChanges, supabase.Filter(column, token), &rows); err != nil {
		return nil, upstream("Failed to load email change request", err)
	}
	if len(rows) == 0 {
		return nil, respond.NotFound("Solicitud de cambio no encontrada")
	}
	return &rows[0], nil
}

// markStatus records the outcome. The auth change has already happened, so a
// failure here is logged and not returned.
func (h *EmailChangeHandler) markStatus(ctx context.Context, req *emailChangeRequest, column, token, status string) {
	err := h.supabase.Update(ctx, tableEmailChanges, supabase.Filter(column, token), map[string]any{
		"status":     status,
		"updated_at": h.now().UTC(),
	}, nil)
	if err != nil {
		h.logger.Error("failed to mark email change", "request", req.ID, "status", status, "error", err)
	}
}

func (h *EmailChangeHandler) setEmail(ctx context.Context, userID, addr string) error {
	confirmed := true
	if _, err := h.supabase.UpdateUser(ctx, userID, supabase.UpdateUserParams{Email: &addr, EmailConfirm: &confirmed}); err != nil {
		return upstream("Failed to update email", err)
	}
	return nil
}

// Confirm applies a pending change from the link sent to the new address.
func (h *EmailChangeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	token, err := changeToken(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	ctx := r.Context()

	req, err := h.lookup(ctx, "confirm_token", token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Status != changePending {
		respond.Error(w, respond.BadRequest("Esta solicitud ya fue procesada"))
		return
	}
	if h.now().After(req.ExpiresAt) {
		respond.Error(w, respond.Forbidden("El enlace ha caducado"))
		return
	}

	if err := h.setEmail(ctx, req.UserID, req.NewEmail); err != nil {
		h.fail(w, r, err)
		return
	}
	h.markStatus(ctx, req, "confirm_token", token, changeConfirmed)
	if err := h.supabase.Update(ctx, tableAuthors, supabase.Filter("id", req.UserID), map[string]any{"email": req.NewEmail}, nil); err != nil {
		h.logger.Error("failed to update author email", "user", req.UserID, "error", err)
	}

	h.logger.Info("email change confirmed", "user", req.UserID)
	respond.OK(w, map[string]any{"email": req.NewEmail})
}

// Revert restores the previous address from the link sent to the old one.
// It works for pending and confirmed changes until the link expires.
func (h *EmailChangeHandler) Revert(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	token, err := changeToken(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	ctx := r.Context()

	req, err := h.lookup(ctx, "revert_token", token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Status == changeReverted {
		respond.Error(w, respond.BadRequest("Este cambio ya fue revertido"))
		return
	}
	if h.now().After(req.ExpiresAt) {
		respond.Error(w, respond.Forbidden("El enlace ha caducado"))
		return
	}

	if err := h.setEmail(ctx, req.UserID, req.OldEmail); err != nil {
		h.fail(w, r, err)
		return
	}
	h.markStatus(ctx, req, "revert_token", token, changeReverted)
	if err := h.supabase.Update(ctx, tableAuthors, supabase.Filter("id", req.UserID), map[string]any{"email": req.OldEmail}, nil); err != nil {
		h.logger.Error("failed to update author email", "user", req.UserID, "error", err)
	}

	h.logger.Info("email change reverted", "user", req.UserID)
	respond.OK(w, map[string]any{"email": req.OldEmail})
}
