package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

const maxRequestIDLength = 64

// requestID reuses a caller supplied X-Request-ID when it is sane and mints one otherwise.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" || len(rid) > maxRequestIDLength || strings.ContainsAny(rid, " \t\r\n") {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), rid)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		status := rw.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		common.LoggerWithRequest(r.Context(), s.logger).Log(r.Context(), level, "http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rw.bytes,
			"remote", r.RemoteAddr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			common.LoggerWithRequest(r.Context(), s.logger).Error("http.panic",
				"method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			s.writeError(w, r, fmt.Errorf("panic: %v: %w", rec, common.ErrInternal))
		}()
		next.ServeHTTP(w, r)
	})
}

// bearerAuth accepts any configured token. Every token is compared so the
// time taken does not depend on which one matched.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	tokens := make([][]byte, 0, len(s.cfg.Tokens))
	for _, t := range s.cfg.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, []byte(t))
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			s.writeError(w, r, common.NewAppError("UNAUTHORIZED", "missing bearer token", common.ErrUnauthorized))
			return
		}
		match := -1
		for i, t := range tokens {
			if subtle.ConstantTimeCompare([]byte(raw), t) == 1 {
				match = i
			}
		}
		if match < 0 {
			s.writeError(w, r, common.NewAppError("UNAUTHORIZED", "invalid bearer token", common.ErrUnauthorized))
			return
		}
		ctx := common.WithPrincipal(r.Context(), fmt.Sprintf("token-%d", match))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errRateLimited = errors.New("too many requests")

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			common.LoggerWithRequest(r.Context(), s.logger).Warn("http.rate_limited", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: kindRateLimited, Message: errRateLimited.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}
