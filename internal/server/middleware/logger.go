package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

// Logger attaches a request-scoped logger to the request context. Each
// request gets its own run_id so the log lines of one merge can be
// grouped.
func Logger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqLogger := logger.With().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", req.RemoteAddr).
				Str("run_id", utils.NewRunID()).
				Logger()

			ctx := reqLogger.WithContext(req.Context())
			req = req.WithContext(ctx)

			next.ServeHTTP(w, req)
		})
	}
}
