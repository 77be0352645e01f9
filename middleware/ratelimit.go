package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	auth "tweetattest-backend/storage/auth"
)

// RateLimiter hands out a token bucket per client. Idle buckets expire.
type RateLimiter struct {
	buckets *gocache.Cache
	keys    auth.APIKeyValidator
	rps     rate.Limit
	burst   int
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst.
func NewRateLimiter(rps float64, burst int, idle time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &RateLimiter{
		buckets: gocache.New(idle, 2*idle),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// WithKeys gives callers presenting a key known to keys a bucket of their own.
// Everyone else shares the bucket of their remote IP.
func (l *RateLimiter) WithKeys(keys auth.APIKeyValidator) *RateLimiter {
	l.keys = keys
	return l
}

// Allow reports whether client may proceed now.
func (l *RateLimiter) Allow(client string) bool {
	return l.limiter(client).Allow()
}

func (l *RateLimiter) limiter(client string) *rate.Limiter {
	if v, ok := l.buckets.Get(client); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(client, lim)
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	if err := l.buckets.Add(client, lim, gocache.DefaultExpiration); err != nil {
		// Lost a race with another request for the same client.
		if v, ok := l.buckets.Get(client); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// ClientKey identifies the caller by a valid API key, falling back to remote IP.
func ClientKey(r *http.Request, keys auth.APIKeyValidator) string {
	if keys != nil {
		if key := PresentedKey(r); key != "" {
			if _, ok := keys.Get(key); ok {
				return "key:" + key
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimit rejects callers that exceed their bucket with 429.
func RateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil || l.rps <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(ClientKey(r, l.keys)) {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(l.rps)))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(rps rate.Limit) int {
	if rps >= 1 {
		return 1
	}
	return int(1/float64(rps)) + 1
}
