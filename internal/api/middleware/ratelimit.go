package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxClients          int     = 10000
	defaultGlobalRPS           int     = 100
	defaultClientRPS           int     = 20
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request from a client may proceed.
	RateLimiter interface {
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with token buckets: one shared by every
	// request and one per client. Idle client buckets are evicted periodically.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		clients       map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		clientRPS   int
		clientBurst int
		idleTimeout time.Duration
		maxClients  int
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a rate limiter and starts its cleanup goroutine. Call Close
// to stop it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(
			rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst),
		),
		clients:       make(map[string]*clientLimiter),
		cleanupTicker: time.NewTicker(cleanupInterval),
		done:          make(chan struct{}),
		clientRPS:     config.ClientRPS,
		clientBurst:   computeBurstCapacity(config.ClientRPS, config.ClientBurst),
		idleTimeout:   idleTimeout,
		maxClients:    config.MaxClients,
	}

	go rl.runCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when set, else 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the client's bucket.
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}

	cl := rl.clientLimiter(clientID)

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) clientLimiter(clientID string) *clientLimiter {
	rl.mu.RLock()
	cl, ok := rl.clients[clientID]
	rl.mu.RUnlock()

	if ok {
		return cl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok = rl.clients[clientID]; ok {
		return cl
	}

	cl = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: time.Now(),
	}
	rl.clients[clientID] = cl

	if count := len(rl.clients); count >= int(float64(rl.maxClients)*thresholdMultiplier) {
		slog.Warn("rate limiter approaching max clients limit",
			slog.Int("current_clients", count),
			slog.Int("max_clients", rl.maxClients),
		)
	}

	return cl
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) runCleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

// cleanup evicts client buckets idle for longer than the idle timeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, cl := range rl.clients {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > rl.idleTimeout {
			delete(rl.clients, clientID)
		}
	}
}

// trackedClients returns the number of client buckets.
func (rl *InMemoryRateLimiter) trackedClients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.clients)
}

// ClientID identifies the caller for rate limiting: the host part of the remote address.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// RateLimit creates a middleware answering 429 when the limiter refuses a request.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(ClientID(r)) {
				next.ServeHTTP(w, r)

				return
			}

			detail := "Rate limit exceeded. Please retry after some time."

			w.Header().Set("Retry-After", "1")

			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("failed to write rate limit response",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
