package queue

import (
	"context"
	"strconv"

	"onlineshop/internal/payment"
	rediskey "onlineshop/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// Outbox 把结算事件原子写入 Redis Stream，由 Relay 异步转发 Kafka。
// 同一 merchant_order_id 只会入流一次。
type Outbox struct {
	rdb    *rd.Client
	stream string
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

// PublishSettlement 实现 payment.SettlementPublisher。
func (o *Outbox) PublishSettlement(ctx context.Context, s payment.Settlement) error {
	_, err := rediskey.AppendSettlementOnce(ctx, o.rdb, o.stream, s.MerchantOrderID, map[string]string{
		"event_id":          uuid.NewString(),
		"order_id":          strconv.FormatUint(uint64(s.OrderID), 10),
		"merchant_order_id": s.MerchantOrderID,
		"transaction_id":    s.TransactionID,
		"amount":            strconv.FormatInt(s.Amount, 10),
	})
	return err
}
