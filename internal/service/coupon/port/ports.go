// internal/service/coupon/port/ports.go
package port

import (
	"context"
	"time"

	"nexus-coupon/internal/service/coupon/domain"
)

// LimitKind 区分不同的限流预算。
type LimitKind string

const (
	LimitIssuance LimitKind = "issue"
	LimitCheck    LimitKind = "check"
)

// RateLimitDecision 是一次限流判定的结果。
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter 按 (kind, identifier) 计数，实现必须是原子的"自增并判断"。
type RateLimiter interface {
	Allow(ctx context.Context, kind LimitKind, identifier string) (RateLimitDecision, error)
}

// Locker 提供以 key 为粒度的互斥，release 可以重复调用。
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// EventPublisher 发布优惠券生命周期事件。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.CouponEvent) error
}

// RuleEngine 编译并执行活动的资格规则。
type RuleEngine interface {
	// Compile 只做语法和类型检查，用于保存活动前的校验。
	Compile(rule string) error
	Evaluate(rule string, facts domain.EligibilityFacts) (bool, error)
}
