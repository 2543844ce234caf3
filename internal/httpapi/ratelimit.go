package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Buckets idle for this long are full again and can be forgotten.
const bucketIdle = 10 * time.Minute

type RateLimitConfig struct {
	IPPerMinute      int
	IPBurst          int
	SessionPerMinute int
	SessionBurst     int
}

// RateLimiter applies one token bucket per client IP and another per
// session token.
type RateLimiter struct {
	ipLimiter      *tokenLimiter
	sessionLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:      newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		sessionLimiter: newTokenLimiter(cfg.SessionPerMinute, cfg.SessionBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := clientIP(r); ip != "" {
			if wait, ok := l.ipLimiter.take(ip); !ok {
				rejectRateLimited(w, r, wait)
				return
			}
		}
		if token := sessionTokenFromRequest(r); token != "" {
			if wait, ok := l.sessionLimiter.take(token); !ok {
				rejectRateLimited(w, r, wait)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
}

type tokenLimiter struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	buckets   map[string]*bucket
	lastPrune time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		perSecond: float64(perMinute) / 60.0,
		burst:     float64(burst),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// take spends one token for key. When none is left it reports how long
// until the next one.
func (l *tokenLimiter) take(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSecond)
	b.seen = now
	if b.tokens < 1 {
		missing := 1 - b.tokens
		return time.Duration(missing / l.perSecond * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (l *tokenLimiter) allow(key string) bool {
	_, ok := l.take(key)
	return ok
}

func (l *tokenLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < bucketIdle {
		return
	}
	l.lastPrune = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= bucketIdle {
			delete(l.buckets, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
