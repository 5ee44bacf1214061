package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL = 2 * time.Second
	LockKeyPrefix  = "lock:invite:" // 邀请码分布式锁
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

type DistLock struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewDistLock(rdb *redis.Client) *DistLock {
	return &DistLock{RDB: rdb, TTL: DefaultLockTTL}
}

// Acquire 请求加分布式锁
func (l *DistLock) Acquire(ctx context.Context, key, token string) (bool, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return l.RDB.SetNX(ctx, LockKeyPrefix+key, token, ttl).Result()
}

// Release 用lua保证原子性，只删自己持有的锁
func (l *DistLock) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.RDB, []string{LockKeyPrefix + key}, token).Err()
}
