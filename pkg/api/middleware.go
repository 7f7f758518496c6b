package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

func correlationID(r *http.Request) string {
	return r.Header.Get(requestIDHeader)
}

// WithRequestID stamps every request with a correlation id, honoring one
// supplied by the caller.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// WithCORS applies the configured origin allow-list. An empty list
// disables cross-origin access entirely.
func WithCORS(allowed []string, next http.Handler) http.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedSet[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Admin-Key")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SourceLimiter enforces a per-producer ingestion rate. Keyed by the
// envelope source, not the peer address: one producer fleet shares one
// budget regardless of how many hosts it runs on.
type SourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*sourceEntry
	rps      rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type sourceEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSourceLimiter(rps float64, burst int) *SourceLimiter {
	sl := &SourceLimiter{
		limiters: make(map[string]*sourceEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go sl.cleanup()
	return sl
}

// Close stops the background cleanup loop. Idempotent; Allow keeps
// working after Close.
func (sl *SourceLimiter) Close() {
	sl.stopOnce.Do(func() { close(sl.stop) })
}

// Allow reports whether the source may ingest right now.
func (sl *SourceLimiter) Allow(source string) bool {
	sl.mu.Lock()
	entry, ok := sl.limiters[source]
	if !ok {
		entry = &sourceEntry{limiter: rate.NewLimiter(sl.rps, sl.burst)}
		sl.limiters[source] = entry
	}
	entry.lastSeen = time.Now()
	sl.mu.Unlock()
	return entry.limiter.Allow()
}

// cleanup drops limiters for sources idle longer than three minutes,
// until Close.
func (sl *SourceLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stop:
			return
		case <-ticker.C:
			sl.mu.Lock()
			for source, entry := range sl.limiters {
				if time.Since(entry.lastSeen) > 3*time.Minute {
					delete(sl.limiters, source)
				}
			}
			sl.mu.Unlock()
		}
	}
}
