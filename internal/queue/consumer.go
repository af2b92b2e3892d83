package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"onlineshop/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Consumer 消费结算事件，把订单标记为已支付。
type Consumer struct {
	r      *kafka.Reader
	db     *gorm.DB
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, logger *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:     db,
		logger: logger,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var msg SettlementMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.logger.Warn("consumer unmarshal", zap.Error(err))
			continue
		}
		if err := c.apply(ctx, msg); err != nil {
			c.logger.Error("consumer apply settlement",
				zap.String("merchant_order_id", msg.MerchantOrderID),
				zap.Error(err),
			)
		}
	}
}

// apply 幂等：订单已支付时更新 0 行，也视为成功。
// 只有本地确实存在已结算且金额一致的交易行时才改订单状态。
func (c *Consumer) apply(ctx context.Context, msg SettlementMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var n int64
	err := c.db.WithContext(ctx).Model(&model.OrderTransaction{}).
		Where("order_id = ? AND merchant_order_id = ? AND transaction_id = ? AND amount = ?",
			msg.OrderID, msg.MerchantOrderID, msg.TransactionID, msg.Amount).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no settled transaction for %s", msg.MerchantOrderID)
	}

	return c.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND paid = ?", msg.OrderID, false).
		Update("paid", true).Error
}
