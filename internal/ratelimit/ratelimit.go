// Package ratelimit provides per-client token-bucket rate limiting for the
// public login and phishing endpoints.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cerberus",
	Subsystem: "ratelimit",
	Name:      "rejected_total",
	Help:      "Requests rejected by the rate limiter, by scope.",
}, []string{"scope"})

func init() {
	prometheus.MustRegister(rejected)
}

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the rate.
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// DefaultConfig returns the defaults used for login traffic.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 30,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop. Zero fields take the
// DefaultConfig values.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.stop:
			return
		}
	}
}

// prune forgets clients idle long enough to have refilled completely.
func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.refillTime(float64(l.cfg.BurstSize)))
	for key, b := range l.clients {
		if b.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take consumes a token, or reports how long until one is available.
func (l *Limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.clients[key]
	if !exists {
		l.clients[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), lastCheck: now}
		return true, 0
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * l.perSecond()
	if b.tokens > float64(l.cfg.BurstSize) {
		b.tokens = float64(l.cfg.BurstSize)
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, l.refillTime(1 - b.tokens)
}

func (l *Limiter) perSecond() float64 {
	return float64(l.cfg.RequestsPerMinute) / 60.0
}

func (l *Limiter) refillTime(tokens float64) time.Duration {
	return time.Duration(tokens / l.perSecond() * float64(time.Second))
}

// Middleware limits requests per client IP within scope. Separate scopes
// keep separate buckets for the same client.
func (l *Limiter) Middleware(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.take(scope + ":" + c.ClientIP())
		if !ok {
			rejected.WithLabelValues(scope).Inc()
			retry := int(math.Ceil(wait.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}
