package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
)

// Recovery catches a handler panic, logs it with a stack trace, and
// returns 500 instead of crashing the worker goroutine, following the
// loghunter reference's Recovery middleware.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", "error", rec, "stack", string(debug.Stack()), "method", r.Method, "path", r.URL.Path)
					response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
