package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// PrepareLedger 记录「已调用网关 prepare、本地行未写入」的标识。
// 进程在 prepare 与落库之间崩溃时，对账任务据此找出网关侧的孤儿预登记。
type PrepareLedger struct {
	rdb *rd.Client
	key string
}

func NewPrepareLedger(rdb *rd.Client) *PrepareLedger {
	return &PrepareLedger{rdb: rdb, key: PrepareLedgerKey()}
}

// Track 登记一个 merchant_order_id，score 为登记时间（秒）。
func (l *PrepareLedger) Track(ctx context.Context, merchantOrderID string, at time.Time) error {
	return l.rdb.ZAdd(ctx, l.key, rd.Z{Score: float64(at.Unix()), Member: merchantOrderID}).Err()
}

// Clear 本地行落库后移除登记。
func (l *PrepareLedger) Clear(ctx context.Context, merchantOrderID string) error {
	return l.rdb.ZRem(ctx, l.key, merchantOrderID).Err()
}

// Stale 返回登记时间早于 before 的标识，最多 limit 个。
func (l *PrepareLedger) Stale(ctx context.Context, before time.Time, limit int64) ([]string, error) {
	return l.rdb.ZRangeByScore(ctx, l.key, &rd.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: limit,
	}).Result()
}
