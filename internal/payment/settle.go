package payment

import (
	"context"
	"fmt"

	"onlineshop/internal/model"

	"go.uber.org/zap"
)

// SettleRequest 网关（或前端转发网关结果）通知某笔交易已结算。
type SettleRequest struct {
	MerchantOrderID string
	ImpUID          string
	PayMethod       string
}

// Settlement 结算成功后对外发布的事件。
type Settlement struct {
	OrderID         uint
	MerchantOrderID string
	TransactionID   string
	Amount          int64
}

// SettlementPublisher 发布结算事件，由下游把订单标记为已支付。
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, s Settlement) error
}

// Settler 写入网关交易号并保存，保存过程中 Validator 完成核对。
type Settler struct {
	store     Store
	publisher SettlementPublisher
	logger    *zap.Logger
}

// NewSettler publisher 可为 nil。
func NewSettler(store Store, publisher SettlementPublisher, logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{store: store, publisher: publisher, logger: logger}
}

func (s *Settler) Settle(ctx context.Context, req SettleRequest) (*model.OrderTransaction, error) {
	if req.MerchantOrderID == "" || req.ImpUID == "" {
		return nil, fmt.Errorf("%w: merchant_order_id and imp_uid are required", ErrInvalidArgument)
	}

	txn, err := s.store.FindByMerchantID(ctx, req.MerchantOrderID)
	if err != nil {
		return nil, err
	}
	if txn.Settled() {
		if txn.TransactionID == req.ImpUID {
			// 重复通知：补发事件，outbox 侧幂等
			s.publish(ctx, txn)
			return txn, nil
		}
		return nil, fmt.Errorf("%w: %s already settled with another gateway id", ErrTamperedTransaction, req.MerchantOrderID)
	}

	txn.TransactionID = req.ImpUID
	txn.TransactionStatus = model.TransactionStatusPaid
	txn.Success = true
	if req.PayMethod != "" {
		txn.Type = req.PayMethod
	}
	if err := s.store.Save(ctx, txn); err != nil {
		if IsRejected(err) {
			s.logger.Warn("settlement rejected",
				zap.String("merchant_order_id", req.MerchantOrderID),
				zap.String("imp_uid", req.ImpUID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.logger.Info("transaction settled",
		zap.Uint("order_id", txn.OrderID),
		zap.String("merchant_order_id", txn.MerchantOrderID),
		zap.String("imp_uid", txn.TransactionID),
		zap.Int64("amount", txn.Amount),
	)

	s.publish(ctx, txn)
	return txn, nil
}

// publish 失败只记日志：交易已经落库，重复通知会再次发布。
func (s *Settler) publish(ctx context.Context, txn *model.OrderTransaction) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishSettlement(ctx, Settlement{
		OrderID:         txn.OrderID,
		MerchantOrderID: txn.MerchantOrderID,
		TransactionID:   txn.TransactionID,
		Amount:          txn.Amount,
	})
	if err != nil {
		s.logger.Error("publish settlement failed", zap.String("merchant_order_id", txn.MerchantOrderID), zap.Error(err))
	}
}
