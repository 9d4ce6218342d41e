package api

import (
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const rateLimitClients = 10_000

// RateLimiter keeps one token bucket per client address. Buckets are only
// evicted when the table is full, least recently used first, so an active
// client keeps its bucket.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	proxies TrustedProxies
	buckets *lru.Cache[string, *rate.Limiter]
}

func NewRateLimiter(perSecond float64, burst int, proxies TrustedProxies) *RateLimiter {
	return newRateLimiter(perSecond, burst, rateLimitClients, proxies)
}

func newRateLimiter(perSecond float64, burst, size int, proxies TrustedProxies) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	buckets, _ := lru.New[string, *rate.Limiter](size)
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		proxies: proxies,
		buckets: buckets,
	}
}

func (l *RateLimiter) Allow(client string) bool {
	lim, ok := l.buckets.Get(client)
	if !ok {
		fresh := rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.buckets.PeekOrAdd(client, fresh); found {
			lim = prev
		} else {
			lim = fresh
		}
	}
	return lim.Allow()
}

// Wrap rejects requests over the caller's budget with 429. A limiter with a
// non-positive rate lets everything through.
func (l *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit <= 0 {
			next(w, r)
			return
		}
		key := r.RemoteAddr
		if ip := l.proxies.ClientIP(r); ip != nil {
			key = ip.String()
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}
