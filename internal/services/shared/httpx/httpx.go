// Package httpx provides HTTP middleware helpers used by the wallet service.
package httpx

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	"github.com/louisbranch/ledgerwallet/internal/platform/requestctx"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id for correlation.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(RequestIDHeader, requestID)
			}
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(requestctx.WithRequestID(r.Context(), requestID)))
		})
	}
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Printf(
						"panic recovered method=%s path=%s request_id=%s panic=%v stack=%s",
						r.Method,
						r.URL.Path,
						r.Header.Get(RequestIDHeader),
						recovered,
						strings.TrimSpace(string(debug.Stack())),
					)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Printf("http request method=%s path=%s status=%d duration=%s request_id=%s",
				r.Method, r.URL.Path, status, time.Since(start).Round(time.Microsecond), r.Header.Get(RequestIDHeader))
		})
	}
}

// ErrCrossOrigin is returned by CheckSameOrigin.
var ErrCrossOrigin = errors.New("cross-origin request")

// CheckSameOrigin rejects a request whose Origin, or failing that Referer,
// names a different host than the request itself. Requests carrying neither
// header pass.
func CheckSameOrigin(r *http.Request) error {
	source := strings.TrimSpace(r.Header.Get("Origin"))
	if source == "" || source == "null" {
		source = strings.TrimSpace(r.Header.Get("Referer"))
	}
	if source == "" {
		return nil
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return ErrCrossOrigin
	}
	if !strings.EqualFold(u.Host, r.Host) {
		return ErrCrossOrigin
	}
	return nil
}

// HTTPStatus maps a domain error onto a response status.
func HTTPStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeParse, apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodePending:
		return http.StatusConflict
	case apperrors.CodeConnection:
		return http.StatusServiceUnavailable
	case apperrors.CodeRemote, apperrors.CodeBinding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
