// Package handler implements the HTTP endpoints. Every endpoint follows the
// same shape: check its secrets, decode and validate the body, call the
// upstream services in order, and answer with a JSON envelope.
package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/respond"
)

// base carries what every handler needs.
type base struct {
	cfg    config.Config
	logger *slog.Logger
}

// configured writes a 500 and returns false when any secret is unset, so no
// upstream call is attempted.
func (b base) configured(w http.ResponseWriter, secrets ...config.Secret) bool {
	missing := b.cfg.Missing(secrets...)
	if len(missing) == 0 {
		return true
	}
	b.logger.Error("missing configuration", "missing", missing)
	respond.Error(w, respond.Config(missing))
	return false
}

// fail writes err, logging server-side failures.
func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	if respond.Status(err) >= http.StatusInternalServerError {
		b.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, err)
}

// Requires is middleware form of the secret check, for routes that run other
// middleware (authentication) before the handler.
func Requires(cfg config.Config, logger *slog.Logger, secrets ...config.Secret) func(http.Handler) http.Handler {
	b := base{cfg: cfg, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.configured(w, secrets...) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type detailer interface {
	Detail() any
}

// upstream wraps a failed third-party call. Bodies of upstream API errors
// are passed to the caller as details.
func upstream(msg string, err error) error {
	var he *respond.HTTPError
	if errors.As(err, &he) {
		return err
	}
	var d detailer
	var details any
	if errors.As(err, &d) {
		details = d.Detail()
	}
	return respond.Upstream(msg, err, details)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// newToken returns 32 random bytes, hex encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func tokensEqual(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
