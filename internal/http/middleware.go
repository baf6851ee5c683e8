package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/logging"
)

// Authenticator checks a username and password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*entity.User, error)
}

// RequireBasicAuth resolves the principal from HTTP basic credentials.
func RequireBasicAuth(auth Authenticator, realm string, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || username == "" {
				w.Header().Set("WWW-Authenticate", challenge)
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingCredential)
				return
			}

			user, err := auth.Authenticate(r.Context(), username, password)
			if err != nil {
				switch {
				case errors.Is(err, application.ErrInvalidCredentials):
					w.Header().Set("WWW-Authenticate", challenge)
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Message: "ユーザー名またはパスワードが正しくありません。"})
				default:
					responder.loggerFor(r.Context()).ErrorContext(r.Context(), "authentication failed", "error", err)
					responder.writeJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Message: "認証中にエラーが発生しました。"})
				}
				return
			}

			ctx := ContextWithPrincipal(r.Context(), application.PrincipalOf(user))
			ctx = logging.With(ctx, "principal_id", user.ID().String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder remembers the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}
