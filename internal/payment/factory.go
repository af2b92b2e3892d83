package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"onlineshop/internal/model"

	"go.uber.org/zap"
)

// maxIDAttempts 生成商户订单号时的最大重试次数。
const maxIDAttempts = 5

// Ledger 记录已向网关预登记、尚未落库的标识，供对账任务发现孤儿预登记。
type Ledger interface {
	Track(ctx context.Context, merchantOrderID string, at time.Time) error
	Clear(ctx context.Context, merchantOrderID string) error
}

// Factory 创建待支付交易：生成标识 → 网关预登记 → 落库。
type Factory struct {
	store  Store
	gw     Gateway
	ids    *IDGenerator
	ledger Ledger
	logger *zap.Logger
}

// NewFactory ledger 可为 nil。
func NewFactory(store Store, gw Gateway, ids *IDGenerator, ledger Ledger, logger *zap.Logger) *Factory {
	if ids == nil {
		ids = NewIDGenerator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{store: store, gw: gw, ids: ids, ledger: ledger, logger: logger}
}

type createOptions struct {
	success *bool
	status  string
}

// CreateOption 创建交易时的可选参数。
type CreateOption func(*createOptions)

// WithOutcome 在落库前写入 success 与 transaction_status。
func WithOutcome(success bool, status string) CreateOption {
	return func(o *createOptions) {
		o.success = &success
		o.status = status
	}
}

// CreateNew 为订单创建一笔待支付交易，返回商户订单号。
// 网关预登记失败直接返回，不重试也不回滚。
func (f *Factory) CreateNew(ctx context.Context, order *model.Order, amount int64, opts ...CreateOption) (string, error) {
	if order == nil {
		return "", fmt.Errorf("%w: order is required", ErrInvalidArgument)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	merchantID, err := f.uniqueID(ctx, order.Email)
	if err != nil {
		return "", err
	}

	if f.ledger != nil {
		if err := f.ledger.Track(ctx, merchantID, f.ids.Now()); err != nil {
			f.logger.Warn("prepare ledger track failed", zap.String("merchant_order_id", merchantID), zap.Error(err))
		}
	}

	if err := f.gw.Prepare(ctx, merchantID, amount); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGatewayPrepare, merchantID, err)
	}

	txn := &model.OrderTransaction{
		OrderID:         order.ID,
		MerchantOrderID: merchantID,
		Amount:          amount,
	}
	if o.success != nil {
		txn.Success = *o.success
		txn.TransactionStatus = o.status
	}
	if err := f.store.Save(ctx, txn); err != nil {
		return "", err
	}

	if f.ledger != nil {
		if err := f.ledger.Clear(ctx, merchantID); err != nil {
			f.logger.Warn("prepare ledger clear failed", zap.String("merchant_order_id", merchantID), zap.Error(err))
		}
	}

	f.logger.Info("transaction created",
		zap.Uint("order_id", order.ID),
		zap.String("merchant_order_id", merchantID),
		zap.Int64("amount", amount),
	)
	return merchantID, nil
}

// uniqueID 生成并检查标识，冲突时重新生成。
func (f *Factory) uniqueID(ctx context.Context, email string) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := f.ids.Generate(email)
		exists, err := f.store.MerchantIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check merchant order id: %w", err)
		}
		if !exists {
			return id, nil
		}
		f.logger.Debug("merchant order id collision", zap.String("merchant_order_id", id), zap.Int("attempt", i+1))
	}
	return "", fmt.Errorf("%w: gave up after %d attempts", ErrDuplicateIdentifier, maxIDAttempts)
}

// IsRejected 交易是否因网关核对不通过被拒。
func IsRejected(err error) bool {
	return errors.Is(err, ErrUntrustedTransaction) || errors.Is(err, ErrTamperedTransaction)
}
