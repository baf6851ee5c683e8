package http

import (
	"net/http"
	"strings"
)

// RouterConfig lists the handlers to mount. Nil handlers are skipped.
// Middleware wraps the whole mux; Protect wraps only the calendar routes.
type RouterConfig struct {
	Health     http.Handler
	Metrics    http.Handler
	Calendar   *CalendarHandler
	Protect    func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.Handle("/healthz", getOnly(cfg.Health))
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", getOnly(cfg.Metrics))
	}

	if cfg.Calendar != nil {
		protect := cfg.Protect
		if protect == nil {
			protect = func(h http.Handler) http.Handler { return h }
		}
		mux.Handle("/appointments", protect(getOnly(http.HandlerFunc(cfg.Calendar.Appointments))))
		mux.Handle("/calendar.ics", protect(getOnly(http.HandlerFunc(cfg.Calendar.ICS))))
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func getOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
