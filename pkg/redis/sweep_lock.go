package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配 owner 时才删除，避免误删其他实例的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local owner = ARGV[1]
if redis.call('GET', lockKey) == owner then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireSweepLock 尝试获取对账锁，多实例部署时同一时刻只有一个实例对账。
func AcquireSweepLock(ctx context.Context, rdb *rd.Client, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, SweepLockKey(), owner, ttl).Result()
}

// ReleaseSweepLock 安全释放对账锁。
func ReleaseSweepLock(ctx context.Context, rdb *rd.Client, owner string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{SweepLockKey()}, owner).Int()
	return err
}

// SweepLock 绑定持有者与 TTL 的对账锁。
type SweepLock struct {
	rdb   *rd.Client
	owner string
	ttl   time.Duration
}

func NewSweepLock(rdb *rd.Client, owner string, ttl time.Duration) *SweepLock {
	return &SweepLock{rdb: rdb, owner: owner, ttl: ttl}
}

func (l *SweepLock) Acquire(ctx context.Context) (bool, error) {
	return AcquireSweepLock(ctx, l.rdb, l.owner, l.ttl)
}

func (l *SweepLock) Release(ctx context.Context) error {
	return ReleaseSweepLock(ctx, l.rdb, l.owner)
}
