package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/phrasemark/kit"
)

// Trace gives each request a random trace id, stored under kit.TraceIDKey
// and echoed in X-Trace-ID, and a logger derived from base carrying it.
// A nil base falls back to slog.Default().
func Trace(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			_, _ = rand.Read(id)
			traceID := hex.EncodeToString(id)

			lg := base
			if lg == nil {
				lg = slog.Default()
			}
			lg = lg.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = context.WithValue(ctx, LoggerKey, lg)
			w.Header().Set("X-Trace-ID", traceID)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			lg.Info("request", "remote_addr", r.RemoteAddr, "duration", time.Since(start))
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default() outside a
// traced request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
