package nastest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the flat {"error":"..."} shape the auth endpoints use.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeTypedError answers with {"error":{"code":"...","message":"..."}}.
func writeTypedError(w http.ResponseWriter, status int, code, message string) {
	if code == "" {
		code = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{"error": errorPayload{Code: code, Message: message}})
}

func requestLog(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("nastest")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type accountKey struct{}

type accountCtx struct {
	acc   *account
	token string
}

func withAccount(ctx context.Context, acc *account, token string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountCtx{acc: acc, token: token})
}

func accountFrom(ctx context.Context) (*account, string) {
	v, _ := ctx.Value(accountKey{}).(accountCtx)
	return v.acc, v.token
}
