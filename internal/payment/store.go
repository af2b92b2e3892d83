package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"onlineshop/internal/model"

	"gorm.io/gorm"
)

// Store 交易行的持久化。
type Store interface {
	// Save 插入或更新交易行；行上已有网关交易号时先执行 SaveHook，
	// 再在同一个 DB 事务内执行各 hook 返回的 SaveCheck，任一失败则不保存。
	Save(ctx context.Context, txn *model.OrderTransaction) error
	MerchantIDExists(ctx context.Context, merchantOrderID string) (bool, error)
	// Matches 是否存在 (merchant_order_id, transaction_id, amount) 三者都一致的行。
	Matches(ctx context.Context, merchantOrderID, transactionID string, amount int64) (bool, error)
	FindByMerchantID(ctx context.Context, merchantOrderID string) (*model.OrderTransaction, error)
	// ListUnsettled 创建时间在 [since, before) 内且尚无网关交易号的行，最早的在前。
	ListUnsettled(ctx context.Context, since, before time.Time, limit int) ([]model.OrderTransaction, error)
	// ListByOrder 订单下的全部交易，最新的在前。
	ListByOrder(ctx context.Context, orderID uint) ([]model.OrderTransaction, error)
}

// SaveHook 在带网关交易号的行保存前调用，运行在 DB 事务之外，网关这类慢调用放在这里，
// 避免长时间占住 SQLite 写锁。返回的 SaveCheck 可为 nil。
type SaveHook func(ctx context.Context, txn *model.OrderTransaction) (SaveCheck, error)

// SaveCheck 在行写入之后、事务提交之前调用。s 绑定在当前 DB 事务上。
type SaveCheck func(ctx context.Context, s Store) error

// GormStore 基于 gorm 的 Store 实现。
type GormStore struct {
	db    *gorm.DB
	hooks []SaveHook
}

func NewGormStore(db *gorm.DB, hooks ...SaveHook) *GormStore {
	return &GormStore{db: db, hooks: hooks}
}

func (s *GormStore) Save(ctx context.Context, txn *model.OrderTransaction) error {
	var checks []SaveCheck
	if txn.Settled() {
		for _, hook := range s.hooks {
			check, err := hook(ctx, txn)
			if err != nil {
				return err
			}
			if check != nil {
				checks = append(checks, check)
			}
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(txn).Error; err != nil {
			if errorsLikeUnique(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, txn.MerchantOrderID)
			}
			return fmt.Errorf("save transaction: %w", err)
		}

		scoped := &GormStore{db: tx}
		for _, check := range checks {
			if err := check(ctx, scoped); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) MerchantIDExists(ctx context.Context, merchantOrderID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OrderTransaction{}).
		Where("merchant_order_id = ?", merchantOrderID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) Matches(ctx context.Context, merchantOrderID, transactionID string, amount int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OrderTransaction{}).
		Where("merchant_order_id = ? AND transaction_id = ? AND amount = ?", merchantOrderID, transactionID, amount).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) FindByMerchantID(ctx context.Context, merchantOrderID string) (*model.OrderTransaction, error) {
	var txn model.OrderTransaction
	err := s.db.WithContext(ctx).Where("merchant_order_id = ?", merchantOrderID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (s *GormStore) ListUnsettled(ctx context.Context, since, before time.Time, limit int) ([]model.OrderTransaction, error) {
	var list []model.OrderTransaction
	err := s.db.WithContext(ctx).
		Where("(transaction_id IS NULL OR transaction_id = '') AND created_at >= ? AND created_at < ?", since, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (s *GormStore) ListByOrder(ctx context.Context, orderID uint) ([]model.OrderTransaction, error) {
	var list []model.OrderTransaction
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	return list, err
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
