package riot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"riot-ingester/internal/metrics"
)

// EndpointClass groups endpoints that share a method rate limit.
type EndpointClass string

const (
	ClassLeague    EndpointClass = "league"
	ClassSummoner  EndpointClass = "summoner"
	ClassAccount   EndpointClass = "account"
	ClassMatchList EndpointClass = "match-ids"
	ClassMatch     EndpointClass = "match"
	ClassTimeline  EndpointClass = "timeline"
	ClassStatus    EndpointClass = "status"
)

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Per      time.Duration
}

// Dev key limits are 20/1s and 100/2min; the defaults stay below them.
var (
	DefaultShortLimit = Limit{Requests: 15, Per: time.Second}
	DefaultLongLimit  = Limit{Requests: 90, Per: 2 * time.Minute}
)

// CooldownStore shares throttle pauses between processes.
type CooldownStore interface {
	Pause(ctx context.Context, key string, d time.Duration) error
	PausedUntil(ctx context.Context, key string) (time.Time, error)
}

// GovernorConfig configures a Governor.
type GovernorConfig struct {
	Short     Limit
	Long      Limit
	Cooldowns CooldownStore // optional
	Logger    *zap.Logger
}

// Governor enforces per (route, endpoint class) request budgets.
// Each bucket has a short window and a long window token bucket; a throttling
// response pauses the bucket for the advertised retry-after.
type Governor struct {
	short     Limit
	long      Limit
	cooldowns CooldownStore
	logger    *zap.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	key   string
	class EndpointClass
	short *rate.Limiter
	long  *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// Permit is handed out by Acquire and must be passed to Release exactly once
// after the HTTP call it covers.
type Permit struct {
	Class    EndpointClass
	Route    string
	Issued   time.Time
	bucket   *bucket
	released atomic.Bool
}

// NewGovernor creates a governor. Zero limits fall back to the dev key defaults.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.Short.Requests <= 0 || cfg.Short.Per <= 0 {
		cfg.Short = DefaultShortLimit
	}
	if cfg.Long.Requests <= 0 || cfg.Long.Per <= 0 {
		cfg.Long = DefaultLongLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Governor{
		short:     cfg.Short,
		long:      cfg.Long,
		cooldowns: cfg.Cooldowns,
		logger:    cfg.Logger.Named("governor"),
		buckets:   make(map[string]*bucket),
	}
}

func newLimiter(l Limit) *rate.Limiter {
	every := l.Per / time.Duration(l.Requests)
	return rate.NewLimiter(rate.Every(every), l.Requests)
}

func bucketKey(class EndpointClass, route string) string {
	return route + ":" + string(class)
}

func (g *Governor) bucket(class EndpointClass, route string) *bucket {
	key := bucketKey(class, route)

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{
			key:   key,
			class: class,
			short: newLimiter(g.short),
			long:  newLimiter(g.long),
		}
		g.buckets[key] = b
	}
	return b
}

// Acquire blocks until a request for class on route is permissible.
// When ctx is cancelled it returns ErrCancelled and no token is consumed.
func (g *Governor) Acquire(ctx context.Context, class EndpointClass, route string) (*Permit, error) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	b := g.bucket(class, route)
	start := time.Now()

	for {
		if until := g.pausedUntil(ctx, b); time.Now().Before(until) {
			if !sleepCtx(ctx, time.Until(until)) {
				return nil, ErrCancelled
			}
			continue
		}

		now := time.Now()
		rs := b.short.ReserveN(now, 1)
		rl := b.long.ReserveN(now, 1)
		if !rs.OK() || !rl.OK() {
			rs.CancelAt(now)
			rl.CancelAt(now)
			return nil, ErrCancelled
		}

		delay := rs.DelayFrom(now)
		if d := rl.DelayFrom(now); d > delay {
			delay = d
		}

		if delay > 0 && !sleepCtx(ctx, delay) {
			cancelAt := time.Now()
			rs.CancelAt(cancelAt)
			rl.CancelAt(cancelAt)
			return nil, ErrCancelled
		}

		// A pause set while we slept applies to these tokens too. They are due
		// already, so they are kept and used once the pause ends.
		for {
			until := g.pausedUntil(ctx, b)
			if !time.Now().Before(until) {
				break
			}
			if !sleepCtx(ctx, time.Until(until)) {
				return nil, ErrCancelled
			}
		}

		metrics.GovernorWait.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())
		return &Permit{Class: class, Route: route, Issued: time.Now(), bucket: b}, nil
	}
}

// Release reports the outcome of the call made under permit. A positive
// retryAfter pauses the bucket for at least that long.
func (g *Governor) Release(p *Permit, retryAfter time.Duration) {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	if retryAfter <= 0 {
		return
	}

	until := time.Now().Add(retryAfter)
	b := p.bucket
	b.mu.Lock()
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
	b.mu.Unlock()

	metrics.GovernorPauses.WithLabelValues(string(p.Class)).Inc()
	g.logger.Warn("bucket paused",
		zap.String("class", string(p.Class)),
		zap.String("route", p.Route),
		zap.Duration("retry_after", retryAfter))

	if g.cooldowns != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.cooldowns.Pause(ctx, b.key, retryAfter); err != nil {
			g.logger.Warn("shared cooldown write failed", zap.String("bucket", b.key), zap.Error(err))
		}
	}
}

// PausedUntil reports the pause deadline of a bucket, for logging and tests.
func (g *Governor) PausedUntil(class EndpointClass, route string) time.Time {
	b := g.bucket(class, route)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pausedUntil
}

func (g *Governor) pausedUntil(ctx context.Context, b *bucket) time.Time {
	b.mu.Lock()
	until := b.pausedUntil
	b.mu.Unlock()

	if g.cooldowns == nil {
		return until
	}
	shared, err := g.cooldowns.PausedUntil(ctx, b.key)
	if err != nil {
		g.logger.Debug("shared cooldown read failed", zap.String("bucket", b.key), zap.Error(err))
		return until
	}
	if shared.After(until) {
		return shared
	}
	return until
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
