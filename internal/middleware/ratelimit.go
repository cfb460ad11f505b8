// Package middleware holds HTTP middleware for the API surface.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/logsentry/logsentry/internal/metrics"
)

// Limiter is a per-client token bucket guarding the ingest endpoints.
// Buckets refill continuously at the configured per-minute rate; a
// client with no tokens gets 429 until the bucket refills.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*bucket
	perMinute int

	done chan struct{}
	once sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLimiter creates a limiter allowing perMinute requests per client.
// A non-positive rate disables limiting.
func NewLimiter(perMinute int) *Limiter {
	l := &Limiter{
		clients:   make(map[string]*bucket),
		perMinute: perMinute,
		done:      make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Wrap enforces the limit around an HTTP handler. Clients are keyed by
// remote IP.
func (l *Limiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if l.perMinute <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			metrics.RequestsThrottled.WithLabelValues(r.URL.Path).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"detail":"rate limit exceeded"}`))
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.clients[client]
	if !ok {
		l.clients[client] = &bucket{tokens: float64(l.perMinute) - 1, lastRefill: now}
		return true
	}

	refill := now.Sub(b.lastRefill).Minutes() * float64(l.perMinute)
	if refill > 0 {
		b.tokens = minF(float64(l.perMinute), b.tokens+refill)
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// cleanup drops buckets idle for over ten minutes.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for client, b := range l.clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(l.clients, client)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop terminates the cleanup loop.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
