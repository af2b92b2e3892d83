package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// messagePublisher 由 *Producer 实现，测试中可替换。
type messagePublisher interface {
	Publish(ctx context.Context, msg SettlementMessage) error
}

// Relay 将 Redis Stream 中的结算事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher messagePublisher
	logger    *zap.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, stream, group, consumer string, logger *zap.Logger) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: producer,
		logger:    logger,
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.logger.Error("relay ensure group", zap.Error(err))
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.poll(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warn("relay poll", zap.Error(err))
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// poll 先处理当前消费者历史 pending，没有再阻塞读新消息。
func (r *Relay) poll(ctx context.Context, block time.Duration) error {
	msgs, err := r.readGroup(ctx, "0", 0)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		msgs, err = r.readGroup(ctx, ">", block)
		if err != nil {
			return fmt.Errorf("read new: %w", err)
		}
	}

	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// 发布失败不 ACK，消息会继续保留用于重试。
			return fmt.Errorf("process message id=%s: %w", xm.ID, err)
		}
	}
	return nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}
	if block == 0 {
		// go-redis 中 Block=0 表示永久阻塞，读 pending 时不需要阻塞
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseSettlementEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.logger.Warn("relay drop malformed event", zap.String("id", xm.ID), zap.Error(err))
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseSettlementEvent(values map[string]interface{}) (SettlementMessage, error) {
	eventID, err := getStreamString(values, "event_id")
	if err != nil {
		return SettlementMessage{}, err
	}
	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return SettlementMessage{}, err
	}
	merchantID, err := getStreamString(values, "merchant_order_id")
	if err != nil {
		return SettlementMessage{}, err
	}
	transactionID, err := getStreamString(values, "transaction_id")
	if err != nil {
		return SettlementMessage{}, err
	}
	amountStr, err := getStreamString(values, "amount")
	if err != nil {
		return SettlementMessage{}, err
	}

	orderID64, err := strconv.ParseUint(orderStr, 10, 64)
	if err != nil {
		return SettlementMessage{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return SettlementMessage{}, fmt.Errorf("invalid amount %q", amountStr)
	}

	msg := SettlementMessage{
		EventID:         eventID,
		OrderID:         uint(orderID64),
		MerchantOrderID: merchantID,
		TransactionID:   transactionID,
		Amount:          amount,
	}
	if err := msg.Validate(); err != nil {
		return SettlementMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
