package server

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"schedd/pkg/logx"
)

// corsMiddleware mirrors the original server's open CORS policy: every
// response carries Allow-Origin *, and OPTIONS preflights short-circuit
// before rate limiting and auth.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			h := w.Header()
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiter applies a per-client token bucket: RateLimit requests per
// RateWindow, keyed by remote IP. Idle entries age out so the map stays
// bounded under client churn.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	pruned  time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiter(requests int, window time.Duration) *clientLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &clientLimiter{
		clients: map[string]*limiterEntry{},
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		idle:    10 * window,
	}
}

func (c *clientLimiter) allow(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.pruned) > c.idle {
		for k, e := range c.clients {
			if now.Sub(e.seen) > c.idle {
				delete(c.clients, k)
			}
		}
		c.pruned = now
	}

	e, ok := c.clients[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = e
	}
	e.seen = now
	return e.lim.Allow()
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks X-API-Key or a bearer token against key. Only
// mounted when a key is configured.
func authMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !presentsKey(r, key) {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin guards the admin endpoints. With no admin key configured the
// regular auth is the only gate, matching the original deployment.
func (s *Service) requireAdmin(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm := strings.TrimSpace(cfg.AdminAPIKey)
			if adm != "" && !presentsKey(r, adm) {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pprofGuard admits loopback clients unconditionally; everyone else needs
// the admin key.
func (s *Service) pprofGuard(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isLoopback(clientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			adm := strings.TrimSpace(cfg.AdminAPIKey)
			if adm != "" && presentsKey(r, adm) {
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, http.StatusUnauthorized, "Unauthorized")
		})
	}
}

func presentsKey(r *http.Request, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	if got := strings.TrimSpace(r.Header.Get("X-API-Key")); got != "" {
		return got == key
	}
	if ah := r.Header.Get("Authorization"); ah != "" {
		const p = "Bearer "
		return strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == key
	}
	return false
}

// clientIP relies on chi's RealIP middleware having already folded
// X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// requestLog logs one line per request at debug with status and timing.
func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("remote", clientIP(r)),
			)
		})
	}
}

// recoverer converts handler panics into 500 responses with a stack in the
// log, keeping the serve loop alive.
func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("handler panic",
						logx.String("path", r.URL.Path),
						logx.Any("panic", p),
						logx.Stack(string(debug.Stack())),
					)
					respondError(w, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
