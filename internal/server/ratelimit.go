package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/courserag-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained queries per second allowed per
	// client. Each query drives at least one generator call, so it is low.
	defaultRateLimit = 2
	// defaultRateBurst is the per-client burst.
	defaultRateBurst = 5

	// limiterIdleTTL is how long a client's bucket survives without traffic.
	limiterIdleTTL = 5 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket on the query route. Idle
// buckets are swept once a minute.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	rps   rate.Limit
	burst int
	log   *slog.Logger

	// onReject is called for every refused request. May be nil.
	onReject func()
}

// newRateLimiter constructs a rateLimiter and starts its sweeper. The
// sweeper exits when the returned stop function is called; stop is safe to
// call more than once.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

func (rl *rateLimiter) bucket(client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL as of now.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.clients, client)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// middleware refuses requests over the client's budget with 429 and a
// Retry-After header giving the whole seconds until a token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		client := clientIP(r)

		res := rl.bucket(client, now).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if !res.OK() || delay > 0 {
			res.CancelAt(now)
			if rl.onReject != nil {
				rl.onReject()
			}

			log := logging.FromContext(r.Context())
			log.Warn("rate limit exceeded",
				slog.String("client", client),
				slog.Duration("retry_after", delay),
			)
			w.Header().Set("Retry-After", retryAfter(res.OK(), delay))
			writeJSON(w, log, http.StatusTooManyRequests, errorResponse{Error: "too many queries; slow down"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter renders delay as whole seconds, at least 1. A reservation that
// can never be satisfied (zero rate) reports a minute.
func retryAfter(ok bool, delay time.Duration) string {
	if !ok || delay == rate.InfDuration {
		return "60"
	}
	return strconv.Itoa(max(1, int(math.Ceil(delay.Seconds()))))
}

// clientIP is the remote host of the connection. X-Forwarded-For is not
// trusted; put a proxy-aware limiter in front when deploying behind one.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
