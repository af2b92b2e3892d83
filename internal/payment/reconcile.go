package payment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StaleLedger 对账需要从预登记账本中找出超时未落库的标识。
type StaleLedger interface {
	Ledger
	Stale(ctx context.Context, before time.Time, limit int64) ([]string, error)
}

// Locker 多实例部署时保证同一时刻只有一个实例对账。
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ReconcilerConfig struct {
	Interval  time.Duration // 对账周期
	Grace     time.Duration // 创建后多久仍未结算才纳入对账
	MaxAge    time.Duration // 超过该时长的待支付交易视为放弃，不再回查
	BatchSize int
}

// SweepReport 一次对账的结果统计。
type SweepReport struct {
	OrphansCleared int // 网关侧已预登记、本地无行
	LedgerCleared  int // 本地已落库，只是账本没清理
	Settled        int
	Rejected       int
	Failed         int
}

// Reconciler 周期性比对网关与本地交易：
// 1. 清理 prepare 成功但本地未落库的孤儿预登记；
// 2. 网关已收款、本地仍待支付的交易，补走一次结算（Validator 照常核对）。
type Reconciler struct {
	store   Store
	gw      Gateway
	settler *Settler
	ledger  StaleLedger
	lock    Locker
	cfg     ReconcilerConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler ledger 与 lock 可为 nil。
func NewReconciler(store Store, gw Gateway, settler *Settler, ledger StaleLedger, lock Locker, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:   store,
		gw:      gw,
		settler: settler,
		ledger:  ledger,
		lock:    lock,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run 按周期对账，直到 ctx 取消。
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("reconcile sweep failed", zap.Error(err))
				continue
			}
			if report != (SweepReport{}) {
				r.logger.Info("reconcile sweep done",
					zap.Int("orphans_cleared", report.OrphansCleared),
					zap.Int("ledger_cleared", report.LedgerCleared),
					zap.Int("settled", report.Settled),
					zap.Int("rejected", report.Rejected),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}

// Sweep 执行一轮对账。拿不到锁时直接返回空报告。
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			return report, nil
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release sweep lock failed", zap.Error(err))
			}
		}()
	}

	now := r.now()
	cutoff := now.Add(-r.cfg.Grace)

	if r.ledger != nil {
		if err := r.sweepLedger(ctx, cutoff, &report); err != nil {
			return report, err
		}
	}
	if err := r.sweepUnsettled(ctx, now.Add(-r.cfg.MaxAge), cutoff, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) sweepLedger(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	ids, err := r.ledger.Stale(ctx, cutoff, int64(r.cfg.BatchSize))
	if err != nil {
		return fmt.Errorf("list stale ledger entries: %w", err)
	}
	for _, id := range ids {
		exists, err := r.store.MerchantIDExists(ctx, id)
		if err != nil {
			report.Failed++
			r.logger.Warn("check ledger entry failed", zap.String("merchant_order_id", id), zap.Error(err))
			continue
		}
		if exists {
			report.LedgerCleared++
		} else {
			// 网关侧没有补偿接口，这里只能记录并放弃该标识
			report.OrphansCleared++
			r.logger.Warn("orphaned gateway pre-registration", zap.String("merchant_order_id", id))
		}
		if err := r.ledger.Clear(ctx, id); err != nil {
			r.logger.Warn("clear ledger entry failed", zap.String("merchant_order_id", id), zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) sweepUnsettled(ctx context.Context, since, before time.Time, report *SweepReport) error {
	list, err := r.store.ListUnsettled(ctx, since, before, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list unsettled transactions: %w", err)
	}
	for _, txn := range list {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := r.gw.Fetch(ctx, txn.MerchantOrderID)
		if err != nil {
			report.Failed++
			r.logger.Warn("fetch gateway record failed", zap.String("merchant_order_id", txn.MerchantOrderID), zap.Error(err))
			continue
		}
		if !rec.Paid() {
			continue
		}

		_, err = r.settler.Settle(ctx, SettleRequest{
			MerchantOrderID: txn.MerchantOrderID,
			ImpUID:          rec.ImpUID,
			PayMethod:       rec.PayMethod,
		})
		switch {
		case err == nil:
			report.Settled++
		case IsRejected(err):
			report.Rejected++
		default:
			report.Failed++
			r.logger.Warn("settle during reconcile failed", zap.String("merchant_order_id", txn.MerchantOrderID), zap.Error(err))
		}
	}
	return nil
}
