// internal/service/coupon/infrastructure/ratelimit_memory.go
package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nexus-coupon/internal/pkg/bootstrap"
	"nexus-coupon/internal/service/coupon/port"
)

// MemoryRateLimiter 是单实例的令牌桶限流器，用于本地开发和没有 Redis 的部署。
// 每个 (kind, identifier) 一个桶，容量为 limit，每个窗口补满一次。
type MemoryRateLimiter struct {
	budgets    map[port.LimitKind]bootstrap.Budget
	sweepEvery time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweptAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// NewMemoryRateLimiter 创建一个进程内限流器
func NewMemoryRateLimiter(cfg bootstrap.RateLimitConfig) *MemoryRateLimiter {
	budgets := budgetsFrom(cfg)
	var sweepEvery time.Duration
	for _, b := range budgets {
		if sweepEvery == 0 || b.Window < sweepEvery {
			sweepEvery = b.Window
		}
	}
	return &MemoryRateLimiter{
		budgets:    budgets,
		sweepEvery: sweepEvery,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, kind port.LimitKind, identifier string) (port.RateLimitDecision, error) {
	budget, ok := l.budgets[kind]
	if !ok {
		return port.RateLimitDecision{}, fmt.Errorf("no rate limit budget for %q", kind)
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	key := string(kind) + ":" + identifier
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(budget.Window / time.Duration(budget.Limit))
		b = &bucket{limiter: rate.NewLimiter(every, budget.Limit), window: budget.Window}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return port.RateLimitDecision{Allowed: false, RetryAfter: delay}, nil
	}
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return port.RateLimitDecision{Allowed: true, Remaining: remaining}, nil
}

// sweep 按最短的窗口周期执行，清掉在自身窗口内没有请求的桶。
// 空闲满一个窗口的桶已经补满，删除后重建不会放宽限制。
func (l *MemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(l.sweptAt) < l.sweepEvery {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, key)
		}
	}
	l.sweptAt = now
}

var _ port.RateLimiter = (*MemoryRateLimiter)(nil)
