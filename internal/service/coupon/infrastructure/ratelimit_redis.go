// internal/service/coupon/infrastructure/ratelimit_redis.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"nexus-coupon/internal/pkg/bootstrap"
	"nexus-coupon/internal/pkg/redis"
	"nexus-coupon/internal/service/coupon/port"
)

const fixedWindowScriptName = "coupon_fixed_window"

// KEYS[1] 计数键，ARGV[1] 窗口毫秒数。
// 返回 {当前计数, 剩余毫秒}。INCR 与 PEXPIRE 在同一个脚本里执行，不会留下没有过期时间的计数键。
const fixedWindowScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

// RedisRateLimiter 是基于 Redis 固定窗口计数的限流器，多实例共享同一份计数。
type RedisRateLimiter struct {
	client  *redis.Client
	budgets map[port.LimitKind]bootstrap.Budget
}

// NewRedisRateLimiter 预加载 Lua 脚本并返回限流器
func NewRedisRateLimiter(client *redis.Client, cfg bootstrap.RateLimitConfig) (*RedisRateLimiter, error) {
	if err := client.LoadScriptFromContent(fixedWindowScriptName, fixedWindowScript); err != nil {
		return nil, err
	}
	return &RedisRateLimiter{client: client, budgets: budgetsFrom(cfg)}, nil
}

func (l *RedisRateLimiter) Allow(ctx context.Context, kind port.LimitKind, identifier string) (port.RateLimitDecision, error) {
	budget, ok := l.budgets[kind]
	if !ok {
		return port.RateLimitDecision{}, fmt.Errorf("no rate limit budget for %q", kind)
	}

	key := fmt.Sprintf("ratelimit:%s:%s", kind, identifier)
	res, err := l.client.RunScript(ctx, fixedWindowScriptName, []string{key}, budget.Window.Milliseconds())
	if err != nil {
		return port.RateLimitDecision{}, errors.Wrap(err, "run rate limit script")
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return port.RateLimitDecision{}, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	count, _ := values[0].(int64)
	ttl, _ := values[1].(int64)

	return decide(budget, int(count), time.Duration(ttl)*time.Millisecond), nil
}

func decide(budget bootstrap.Budget, count int, ttl time.Duration) port.RateLimitDecision {
	if count > budget.Limit {
		return port.RateLimitDecision{Allowed: false, RetryAfter: ttl}
	}
	return port.RateLimitDecision{Allowed: true, Remaining: budget.Limit - count}
}

func budgetsFrom(cfg bootstrap.RateLimitConfig) map[port.LimitKind]bootstrap.Budget {
	return map[port.LimitKind]bootstrap.Budget{
		port.LimitIssuance: cfg.Issuance,
		port.LimitCheck:    cfg.Check,
	}
}

var _ port.RateLimiter = (*RedisRateLimiter)(nil)
