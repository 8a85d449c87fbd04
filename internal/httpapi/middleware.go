package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/obslog"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// cleanupThreshold is the map size above which idle entries are pruned.
	cleanupThreshold = 500
	maxIdleAge       = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter hands out one token bucket per caller.
type UserRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	r       rate.Limit
	b       int
}

func NewUserRateLimiter(r rate.Limit, b int) *UserRateLimiter {
	return &UserRateLimiter{entries: make(map[string]*limiterEntry), r: r, b: b}
}

func (l *UserRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.entries) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for k, e := range l.entries {
			if e.lastSeen.Before(cutoff) {
				delete(l.entries, k)
			}
		}
	}
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := userFrom(r.Context()).ID
		if key == "" {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
		}
		if !s.limiter.Allow(key) {
			s.metrics.Error("rate_limited")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, decisiondto.ErrorResponse{Error: decisiondto.ErrorBody{
				Kind:      "rate_limited",
				Message:   s.messages.Text("errors.rate_limited", nil, http.StatusText(http.StatusTooManyRequests)),
				Retryable: true,
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware sets CORS headers for the configured origins. With no
// origins it only answers preflight requests.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := origins[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+decisiondto.HeaderUserID+", "+decisiondto.HeaderUserName)
					w.Header().Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type identity struct {
	ID   string
	Name string
}

type ctxKey int

const userKey ctxKey = iota

func userFrom(ctx context.Context) identity {
	id, _ := ctx.Value(userKey).(identity)
	return id
}

// requireUser reads the caller from the identity headers. Browsers cannot set
// headers on a WebSocket handshake, so upgrades may pass user_id and
// user_name as query parameters instead.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(decisiondto.HeaderUserID))
		name := strings.TrimSpace(r.Header.Get(decisiondto.HeaderUserName))
		if id == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			id = strings.TrimSpace(r.URL.Query().Get("user_id"))
			name = strings.TrimSpace(r.URL.Query().Get("user_name"))
		}
		if id == "" {
			s.writeError(w, r, domain.ErrAuth)
			return
		}
		if name == "" {
			name = id
		}
		ctx := context.WithValue(r.Context(), userKey, identity{ID: id, Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("user_id", r.Header.Get(decisiondto.HeaderUserID)),
		}
		if status >= http.StatusInternalServerError {
			obslog.L().Warn("http_request", fields...)
			return
		}
		obslog.L().Debug("http_request", fields...)
	})
}
