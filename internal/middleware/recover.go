package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/narrahq/narra/internal/respond"
)

// Recover turns a panicking handler into a generic 500.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic serving request",
					"path", r.URL.Path,
					"panic", v,
					"request_id", RequestIDFrom(r.Context()),
					"stack", string(debug.Stack()),
				)
				respond.JSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
