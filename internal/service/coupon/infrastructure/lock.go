// internal/service/coupon/infrastructure/lock.go
package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/pkg/redis"
	"nexus-coupon/internal/pkg/zookeeper"
	"nexus-coupon/internal/service/coupon/port"
)

const releaseLockScriptName = "coupon_release_lock"

// 只有持有者的 token 匹配时才删除，避免误删别人重新获取的锁
const releaseLockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker 使用 SET NX PX 实现的互斥锁，TTL 到期自动释放。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(client *redis.Client, ttl time.Duration) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, err
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}, nil
}

// Acquire 轮询直到拿到锁、ctx 结束或等待超过一个 TTL。
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.client.GetClient().SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "acquire redis lock")
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, errors.Errorf("timed out waiting for lock %s", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 用独立的 context 释放，调用方的 ctx 可能已经取消
			rctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := l.client.RunScript(rctx, releaseLockScriptName, []string{lockKey}, token); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to release redis lock")
			}
		})
	}, nil
}

// ZookeeperLocker 把 zookeeper 临时顺序节点锁适配为 port.Locker
type ZookeeperLocker struct {
	conn *zk.Conn
	ttl  time.Duration
}

// NewZookeeperLocker 创建 zookeeper 锁，ttl 作为等待锁的上限
func NewZookeeperLocker(conn *zk.Conn, ttl time.Duration) *ZookeeperLocker {
	return &ZookeeperLocker{conn: conn, ttl: ttl}
}

func (l *ZookeeperLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, key)
	if err != nil {
		return nil, errors.Wrap(err, "create zookeeper lock")
	}
	wctx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	if err := lock.Lock(wctx); err != nil {
		return nil, errors.Wrap(err, "acquire zookeeper lock")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to release zookeeper lock")
			}
		})
	}, nil
}

var (
	_ port.Locker = (*RedisLocker)(nil)
	_ port.Locker = (*ZookeeperLocker)(nil)
)
