package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter counts failed attempts per key. Check is consulted before the
// request runs; Hit is recorded only when the response is a failure, so
// successful logins never use up the allowance.
type Limiter interface {
	Check(ctx context.Context, key string) (blocked bool, retryAfter time.Duration, err error)
	Hit(ctx context.Context, key string) error
}

// MemoryLimiter is a per-process token bucket limiter. Buckets for idle
// clients are evicted from a bounded LRU.
type MemoryLimiter struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewMemoryLimiter allows requests failures per window for each key.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	if requests < 1 {
		requests = 1
	}
	return &MemoryLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		now:     time.Now,
		buckets: lru.NewLRU[string, *rate.Limiter](10_000, nil, window),
	}
}

func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(m.limit, m.burst)
		m.buckets.Add(key, b)
	}
	return b
}

// Check reports whether key has no tokens left.
func (m *MemoryLimiter) Check(_ context.Context, key string) (bool, time.Duration, error) {
	now := m.now()
	b := m.bucket(key)
	tokens := b.TokensAt(now)
	if tokens >= 1 {
		return false, 0, nil
	}
	wait := time.Duration((1 - tokens) / float64(m.limit) * float64(time.Second))
	return true, wait, nil
}

// Hit consumes one token for key.
func (m *MemoryLimiter) Hit(_ context.Context, key string) error {
	m.bucket(key).AllowN(m.now(), 1)
	return nil
}

// RedisLimiter is a fixed-window counter shared by every instance that points
// at the same Redis.
type RedisLimiter struct {
	client   *redis.Client
	requests int64
	window   time.Duration
	prefix   string
}

// NewRedisLimiter allows requests failures per window for each key.
func NewRedisLimiter(client *redis.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, requests: int64(requests), window: window, prefix: "helpdesk:ratelimit"}
}

func (l *RedisLimiter) key(k string) string { return l.prefix + ":" + k }

// Check reads the current window's count.
func (l *RedisLimiter) Check(ctx context.Context, key string) (bool, time.Duration, error) {
	n, err := l.client.Get(ctx, l.key(key)).Int64()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("redis get: %w", err)
	}
	if n < l.requests {
		return false, 0, nil
	}
	ttl, err := l.client.PTTL(ctx, l.key(key)).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return true, ttl, nil
}

// Hit increments the window counter, starting the window on first use.
func (l *RedisLimiter) Hit(ctx context.Context, key string) error {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, l.key(key))
	ttl := pipe.PTTL(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	if incr.Val() == 1 || ttl.Val() < 0 {
		if err := l.client.PExpire(ctx, l.key(key), l.window).Err(); err != nil {
			return fmt.Errorf("redis expire: %w", err)
		}
	}
	return nil
}

// ErrAuthRateLimited is the 429 returned once a client exhausts its allowance.
var ErrAuthRateLimited = apperr.RateLimit("Too many authentication attempts from this IP, please try again later.").
	WithCode("AUTH_RATE_LIMIT_EXCEEDED")

// TrustedProxies lists the peers whose X-Forwarded-For header is believed.
// The zero value trusts nobody and keys every request on its socket address.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

func (t TrustedProxies) trusts(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the socket address of r. When that peer is a trusted
// proxy, X-Forwarded-For is walked right to left and the first hop that is
// not itself trusted is returned.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	ip := remoteHost(r)
	if !t.trusts(ip) {
		return ip
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		ip = hop
		if !t.trusts(hop) {
			break
		}
	}
	return ip
}

// ClientIP returns the socket address of r, ignoring forwarding headers.
func ClientIP(r *http.Request) string { return TrustedProxies(nil).ClientIP(r) }

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitOption configures RateLimit.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	proxies TrustedProxies
}

// WithTrustedProxies lets requests relayed by proxies be keyed on the
// forwarded client address.
func WithTrustedProxies(p TrustedProxies) RateLimitOption {
	return func(c *rateLimitConfig) { c.proxies = p }
}

// RateLimit blocks clients (by IP) whose failed attempts exhausted limiter.
// Limiter errors fail open and are logged.
func RateLimit(limiter Limiter, render *respond.Renderer, logger *slog.Logger, opts ...RateLimitOption) func(http.Handler) http.Handler {
	var cfg rateLimitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := cfg.proxies.ClientIP(r)
			key := "auth:" + ip
			blocked, retry, err := limiter.Check(r.Context(), key)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "err", err)
			}
			if blocked {
				secs := int(math.Ceil(retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				logger.WarnContext(r.Context(), "auth rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				render.Error(w, r, ErrAuthRateLimited.WithDetail("retryAfter", secs))
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusBadRequest {
				if err := limiter.Hit(r.Context(), key); err != nil {
					logger.WarnContext(r.Context(), "rate limiter hit", "err", err)
				}
			}
		})
	}
}
