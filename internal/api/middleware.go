package api

import (
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pquerna/otp/totp"

	"pegvault/internal/model"
)

// observe logs each request and records latency metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.log.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", float64(elapsed.Microseconds())/1000.0,
			"caller", r.Header.Get("X-Caller"),
		)
		if s.metrics != nil {
			s.metrics.HTTPRequestDur.
				WithLabelValues(r.URL.Path, http.StatusText(ww.Status())).
				Observe(elapsed.Seconds())
		}
	})
}

// requireTOTP gates admin routes behind a time-based one-time password in
// the X-Admin-TOTP header. An empty configured secret disables the check.
func (s *Server) requireTOTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.totpSecret != "" {
			code := r.Header.Get("X-Admin-TOTP")
			if code == "" || !totp.Validate(code, s.totpSecret) {
				s.log.Warn("admin request rejected, bad TOTP",
					"path", r.URL.Path, "caller", r.Header.Get("X-Caller"))
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing TOTP code"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// rejectReason buckets an engine error into a metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, model.ErrDeviationExceeded):
		return "deviation"
	case errors.Is(err, model.ErrInsufficientBalance):
		return "balance"
	case errors.Is(err, model.ErrInsufficientAllowance):
		return "allowance"
	case errors.Is(err, model.ErrInsufficientReserve):
		return "reserve"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrExternalCall):
		return "external_call"
	}
	return "other"
}
