package http

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/growth-hub/pkg/logger"
)

var (
	errMissingAPIKey = echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
	errInvalidAPIKey = echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING & RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware logs every request and attaches a request-scoped logger
// to the context.
func (s *Server) loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		reqLog := s.logger.WithRequestID(requestID(c))
		c.SetRequest(req.WithContext(logger.WithContext(req.Context(), reqLog)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		fields := []logger.Field{
			logger.String("method", req.Method),
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Int64("duration_ms", time.Since(start).Milliseconds()),
			logger.String("ip", c.RealIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			reqLog.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("http request", fields...)
		default:
			reqLog.Info("http request", fields...)
		}
		return nil
	}
}

// recoveryMiddleware turns a handler panic into a 500 response.
func (s *Server) recoveryMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request().URL.Path),
					logger.String("request_id", requestID(c)),
				)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(c)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// API KEY AUTH
// ══════════════════════════════════════════════════════════════════════════════

// apiKeyVerifier checks presented keys against bcrypt hashes. Verified keys
// are remembered so bcrypt runs once per distinct key.
type apiKeyVerifier struct {
	hashes [][]byte

	mu       sync.RWMutex
	verified map[string]struct{}
}

func newAPIKeyVerifier(hashes []string) *apiKeyVerifier {
	v := &apiKeyVerifier{verified: make(map[string]struct{})}
	for _, h := range hashes {
		if h != "" {
			v.hashes = append(v.hashes, []byte(h))
		}
	}
	return v
}

func (v *apiKeyVerifier) enabled() bool { return len(v.hashes) > 0 }

func (v *apiKeyVerifier) verify(key string) bool {
	v.mu.RLock()
	_, ok := v.verified[key]
	v.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			v.mu.Lock()
			v.verified[key] = struct{}{}
			v.mu.Unlock()
			return true
		}
	}
	return false
}

func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.keys.enabled() {
			return next(c)
		}
		key := c.Request().Header.Get(s.config.APIKeyHeader)
		if key == "" {
			return errMissingAPIKey
		}
		if !s.keys.verify(key) {
			return errInvalidAPIKey
		}
		return next(c)
	}
}
