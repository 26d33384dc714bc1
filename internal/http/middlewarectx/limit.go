package middlewarectx

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/traders-portal/internal/http/response"
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter держит отдельный token bucket на каждого пользователя.
type UserRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*userLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewUserRateLimiter создаёт лимитер с rps запросов в секунду и всплеском burst.
func NewUserRateLimiter(rps float64, burst int) *UserRateLimiter {
	return &UserRateLimiter{
		clients: make(map[string]*userLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow расходует токен пользователя.
func (l *UserRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cl, ok := l.clients[key]
	if !ok {
		cl = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Cleanup удаляет лимитеры пользователей, не обращавшихся дольше idle.
func (l *UserRateLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	now := l.now()
	for key, cl := range l.clients {
		if now.Sub(cl.lastSeen) > idle {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Middleware ограничивает частоту запросов пользователя. Ключ — ID из JWT.
func (l *UserRateLimiter) Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _ := r.Context().Value(UserID).(string)
			if key == "" {
				key = r.RemoteAddr
			}
			if !l.Allow(key) {
				log.Warn("too many requests", slog.String("key", key),
					slog.String("request_id", middleware.GetReqID(r.Context())))
				response.Fail(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
