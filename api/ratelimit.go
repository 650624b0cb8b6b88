/*
ratelimit.go - Per-caller request rate limiting

PURPOSE:
  Caps request rates per caller so one client cannot monopolize the ledger
  or the AI provider. Callers are keyed by user id when the request carries
  one, otherwise by remote address.

DESIGN:
  - One token bucket (x/time/rate) per key, created on first request
  - A background sweeper drops buckets idle longer than IdleTTL
  - Rejected requests get 429 with Retry-After

USAGE:
  limiter := NewRateLimiter(10, 20, log)
  limiter.Start()
  defer limiter.Stop()
  r.Use(limiter.Handler)

SEE ALSO:
  - server.go: Middleware order
*/
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per caller.
type RateLimiter struct {
	Rate          rate.Limit
	Burst         int
	IdleTTL       time.Duration
	SweepInterval time.Duration

	log      *slog.Logger
	now      func() time.Time
	visitors map[string]*visitor
	mu       sync.Mutex

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewRateLimiter creates a limiter allowing perSecond requests with burst.
func NewRateLimiter(perSecond float64, burst int, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		Rate:          rate.Limit(perSecond),
		Burst:         burst,
		IdleTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
		log:           log,
		now:           time.Now,
		visitors:      make(map[string]*visitor),
	}
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.Rate, rl.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Handler is the rate limiting middleware. Mount it after Authenticate so
// the user id is available.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if id, ok := userIDFromContext(r.Context()); ok {
			key = "user:" + id.String()
		}

		if !rl.Allow(key) {
			rl.log.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("key", key),
				slog.String("path", r.URL.Path))
			retry := 1
			if rl.Rate > 0 {
				retry = int(1/float64(rl.Rate)) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins sweeping idle buckets.
func (rl *RateLimiter) Start() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.ticker != nil {
		return
	}
	rl.ticker = time.NewTicker(rl.SweepInterval)
	rl.stop = make(chan struct{})
	rl.wg.Add(1)
	go rl.run(rl.ticker, rl.stop)
}

// Stop ends the sweeper and waits for it to exit.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	if rl.ticker == nil {
		rl.mu.Unlock()
		return
	}
	rl.ticker.Stop()
	close(rl.stop)
	rl.ticker = nil
	rl.mu.Unlock()

	rl.wg.Wait()
}

func (rl *RateLimiter) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rl.wg.Done()
	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-stop:
			return
		}
	}
}

// Sweep removes buckets idle for longer than IdleTTL and returns how many.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.IdleTTL)
	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	if removed > 0 {
		rl.log.Debug("rate limiter sweep", slog.Int("removed", removed), slog.Int("remaining", len(rl.visitors)))
	}
	return removed
}
