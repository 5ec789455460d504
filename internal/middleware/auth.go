package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/narrahq/narra/internal/auth"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireSession verifies the caller's Supabase access token and populates
// AuthContext. An empty jwtSecret is a configuration error.
func RequireSession(jwtSecret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtSecret == "" {
				respond.Error(w, respond.Config([]string{"SUPABASE_JWT_SECRET"}))
				return
			}
			token := BearerToken(r)
			if token == "" {
				respond.Error(w, respond.Unauthorized("Missing authorization token"))
				return
			}
			claims, err := supabase.ParseAccessToken(token, jwtSecret)
			if err != nil {
				logger.Warn("rejected access token", "error", err, "remote", RealIP(r))
				respond.Error(w, respond.Unauthorized("Invalid or expired session"))
				return
			}

			ac := auth.AuthContext{
				UserID:   claims.Subject,
				Email:    claims.Email,
				Role:     claims.Role,
				AuthorID: claims.Subject,
				Token:    token,
				Source:   auth.SourceSession,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// TokenResolver maps a gift management token to the author it manages.
// It returns a respond error for unknown tokens or missing authors.
type TokenResolver interface {
	ResolveManagementToken(ctx context.Context, token string) (auth.AuthContext, error)
}

// RequireManager authorizes gift management requests. The token comes from
// the Authorization header, the "token" query parameter or a "token" field
// in a JSON body.
func RequireManager(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				token = bodyToken(r)
			}
			if token == "" {
				respond.Error(w, respond.Unauthorized("Missing management token"))
				return
			}
			ac, err := resolver.ResolveManagementToken(r.Context(), token)
			if err != nil {
				respond.Error(w, err)
				return
			}
			ac.Token = token
			ac.Source = auth.SourceManagementToken
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

const maxPeekBody = 1 << 20

// bodyToken reads a "token" field from a JSON body and restores the body for
// the next handler.
func bodyToken(r *http.Request) string {
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var body struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.Token
}
