package payment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"onlineshop/internal/gateway"
	"onlineshop/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway implements Gateway for testing
type fakeGateway struct {
	mu         sync.Mutex
	prepared   map[string]int64
	records    map[string]*gateway.Record
	prepareErr error
	fetchErr   error
	fetchCalls int

	// fetchHold 非 nil 时 Fetch 先通知 fetchEntered，再挂起直到 fetchHold 关闭
	fetchEntered chan struct{}
	fetchHold    chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		prepared: map[string]int64{},
		records:  map[string]*gateway.Record{},
	}
}

func (g *fakeGateway) Prepare(_ context.Context, merchantOrderID string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prepareErr != nil {
		return g.prepareErr
	}
	g.prepared[merchantOrderID] = amount
	return nil
}

func (g *fakeGateway) Fetch(_ context.Context, merchantOrderID string) (*gateway.Record, error) {
	if g.fetchHold != nil {
		g.fetchEntered <- struct{}{}
		<-g.fetchHold
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.records[merchantOrderID], nil
}

// pay 模拟用户在网关完成支付。
func (g *fakeGateway) pay(merchantOrderID, impUID string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[merchantOrderID] = &gateway.Record{
		Status:          gateway.StatusPaid,
		MerchantOrderID: merchantOrderID,
		ImpUID:          impUID,
		Amount:          amount,
		PayMethod:       "card",
	}
}

// memLedger implements StaleLedger for testing
type memLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	failAll error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]time.Time{}}
}

func (l *memLedger) Track(_ context.Context, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll != nil {
		return l.failAll
	}
	l.entries[id] = at
	return nil
}

func (l *memLedger) Clear(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
	return nil
}

func (l *memLedger) Stale(_ context.Context, before time.Time, limit int64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, at := range l.entries {
		if !at.After(before) && int64(len(out)) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

// fakeLock implements Locker for testing
type fakeLock struct {
	held     bool
	released bool
}

func (l *fakeLock) Acquire(context.Context) (bool, error) { return !l.held, nil }
func (l *fakeLock) Release(context.Context) error {
	l.released = true
	return nil
}

// recordingPublisher implements SettlementPublisher for testing
type recordingPublisher struct {
	events []Settlement
	err    error
}

func (p *recordingPublisher) PublishSettlement(_ context.Context, s Settlement) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, s)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Product{},
		&model.Coupon{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderTransaction{},
	))
	return db
}

// newFileDB 文件库、多连接，busy timeout 取较小值，锁冲突会很快暴露。
func newFileDB(t *testing.T, busy time.Duration) *gorm.DB {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", filepath.Join(t.TempDir(), "shop.db"), busy.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Product{},
		&model.Coupon{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderTransaction{},
	))
	return db
}

func createOrder(t *testing.T, db *gorm.DB, email string) *model.Order {
	o := &model.Order{
		FirstName:  "Jiwoo",
		LastName:   "Kim",
		Email:      email,
		Address:    "1 Teheran-ro",
		PostalCode: "06236",
		City:       "Seoul",
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

// harness 把 store/validator/factory/settler 按生产方式装配起来。
type harness struct {
	db        *gorm.DB
	gw        *fakeGateway
	ledger    *memLedger
	store     *GormStore
	factory   *Factory
	settler   *Settler
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	db := newTestDB(t)
	gw := newFakeGateway()
	ledger := newMemLedger()
	validator := NewValidator(gw, nil)
	store := NewGormStore(db, validator.Check)
	publisher := &recordingPublisher{}
	return &harness{
		db:        db,
		gw:        gw,
		ledger:    ledger,
		store:     store,
		factory:   NewFactory(store, gw, NewIDGenerator(), ledger, nil),
		settler:   NewSettler(store, publisher, nil),
		publisher: publisher,
	}
}

func (h *harness) storedTxn(t *testing.T, merchantOrderID string) model.OrderTransaction {
	var txn model.OrderTransaction
	require.NoError(t, h.db.Where("merchant_order_id = ?", merchantOrderID).First(&txn).Error)
	return txn
}
