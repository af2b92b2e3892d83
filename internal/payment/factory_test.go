package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"onlineshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNew_NilOrder(t *testing.T) {
	h := newHarness(t)
	for _, amount := range []int64{-1, 0, 1, 15000} {
		id, err := h.factory.CreateNew(context.Background(), nil, amount)
		assert.ErrorIs(t, err, ErrInvalidArgument, "amount=%d", amount)
		assert.Empty(t, id)
	}
	assert.Empty(t, h.gw.prepared)
}

func TestCreateNew_NonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	order := createOrder(t, h.db, "buyer@example.com")

	_, err := h.factory.CreateNew(context.Background(), order, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateNew_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := createOrder(t, h.db, "buyer@example.com")

	id, err := h.factory.CreateNew(ctx, order, 15000)
	require.NoError(t, err)
	assert.Regexp(t, hexID, id)

	// 网关预登记了同样的金额
	assert.Equal(t, int64(15000), h.gw.prepared[id])

	txn := h.storedTxn(t, id)
	assert.Equal(t, order.ID, txn.OrderID)
	assert.Equal(t, int64(15000), txn.Amount)
	assert.Empty(t, txn.TransactionID)
	assert.False(t, txn.Success)

	// 落库后账本清理
	assert.Empty(t, h.ledger.entries)
}

func TestCreateNew_UniqueAcrossCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := createOrder(t, h.db, "buyer@example.com")

	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		id, err := h.factory.CreateNew(ctx, order, 1000)
		require.NoError(t, err)
		_, dup := seen[id]
		assert.False(t, dup, "merchant id %s reused", id)
		seen[id] = struct{}{}
	}
}

func TestCreateNew_WithOutcome(t *testing.T) {
	h := newHarness(t)
	order := createOrder(t, h.db, "buyer@example.com")

	id, err := h.factory.CreateNew(context.Background(), order, 2000, WithOutcome(false, "ready"))
	require.NoError(t, err)

	txn := h.storedTxn(t, id)
	assert.False(t, txn.Success)
	assert.Equal(t, "ready", txn.TransactionStatus)
}

func TestCreateNew_GatewayPrepareFails(t *testing.T) {
	h := newHarness(t)
	h.gw.prepareErr = errors.New("gateway down")
	order := createOrder(t, h.db, "buyer@example.com")

	_, err := h.factory.CreateNew(context.Background(), order, 1000)
	assert.ErrorIs(t, err, ErrGatewayPrepare)

	var n int64
	require.NoError(t, h.db.Model(&model.OrderTransaction{}).Count(&n).Error)
	assert.Zero(t, n)

	// 预登记失败时账本保留该标识，交给对账任务处理
	assert.Len(t, h.ledger.entries, 1)
}

func TestCreateNew_LedgerFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.ledger.failAll = errors.New("redis down")
	order := createOrder(t, h.db, "buyer@example.com")

	_, err := h.factory.CreateNew(context.Background(), order, 1000)
	assert.NoError(t, err)
}

func TestCreateNew_RetriesOnCollision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := createOrder(t, h.db, "buyer@example.com")
	now := time.Unix(1_700_000_000, 0)

	taken := fixedGenerator("first", now).Generate(order.Email)
	require.NoError(t, h.store.Save(ctx, &model.OrderTransaction{OrderID: order.ID, MerchantOrderID: taken, Amount: 1}))

	randoms := []string{"first", "second"}
	gen := &IDGenerator{
		Now: func() time.Time { return now },
		Random: func() string {
			r := randoms[0]
			randoms = randoms[1:]
			return r
		},
	}
	f := NewFactory(h.store, h.gw, gen, nil, nil)

	id, err := f.CreateNew(ctx, order, 1000)
	require.NoError(t, err)
	assert.Equal(t, fixedGenerator("second", now).Generate(order.Email), id)
}

func TestCreateNew_GivesUpAfterCollisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := createOrder(t, h.db, "buyer@example.com")
	gen := fixedGenerator("same", time.Unix(1_700_000_000, 0))

	taken := gen.Generate(order.Email)
	require.NoError(t, h.store.Save(ctx, &model.OrderTransaction{OrderID: order.ID, MerchantOrderID: taken, Amount: 1}))

	f := NewFactory(h.store, h.gw, gen, nil, nil)
	_, err := f.CreateNew(ctx, order, 1000)
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
	assert.Empty(t, h.gw.prepared)
}
