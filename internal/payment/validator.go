package payment

import (
	"context"
	"fmt"

	"onlineshop/internal/gateway"
	"onlineshop/internal/model"

	"go.uber.org/zap"
)

// Gateway 支付网关需要提供的两个操作。
type Gateway interface {
	Prepare(ctx context.Context, merchantOrderID string, amount int64) error
	Fetch(ctx context.Context, merchantOrderID string) (*gateway.Record, error)
}

// Validator 在交易行带着网关交易号保存后，向网关回查并与本地行交叉核对，
// 防止客户端伪造支付结果或金额。
type Validator struct {
	gw     Gateway
	logger *zap.Logger
}

func NewValidator(gw Gateway, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{gw: gw, logger: logger}
}

// Check 是 Store 的 SaveHook：网关回查在 DB 事务外完成，
// 返回的 SaveCheck 在事务内以网关返回的 (merchant_order_id, imp_uid, amount) 为准，去本地查是否存在完全一致的行。
func (v *Validator) Check(ctx context.Context, txn *model.OrderTransaction) (SaveCheck, error) {
	rec, err := v.gw.Fetch(ctx, txn.MerchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("fetch gateway record %s: %w", txn.MerchantOrderID, err)
	}
	if !rec.Paid() {
		v.logger.Warn("gateway has no paid record",
			zap.String("merchant_order_id", txn.MerchantOrderID),
			zap.String("transaction_id", txn.TransactionID),
		)
		return nil, fmt.Errorf("%w: %s", ErrUntrustedTransaction, txn.MerchantOrderID)
	}

	return func(ctx context.Context, s Store) error {
		ok, err := s.Matches(ctx, rec.MerchantOrderID, rec.ImpUID, rec.Amount)
		if err != nil {
			return fmt.Errorf("match stored transaction: %w", err)
		}
		if !ok {
			v.logger.Warn("abnormal transaction",
				zap.String("merchant_order_id", txn.MerchantOrderID),
				zap.String("transaction_id", txn.TransactionID),
				zap.Int64("amount", txn.Amount),
				zap.String("gateway_imp_uid", rec.ImpUID),
				zap.Int64("gateway_amount", rec.Amount),
			)
			return fmt.Errorf("%w: %s", ErrTamperedTransaction, txn.MerchantOrderID)
		}
		return nil
	}, nil
}
