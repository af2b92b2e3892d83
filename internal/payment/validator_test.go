package payment

import (
	"context"
	"errors"
	"testing"

	"onlineshop/internal/gateway"
	"onlineshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingTxn 创建一笔待支付交易并返回商户订单号。
func pendingTxn(t *testing.T, h *harness, amount int64) string {
	order := createOrder(t, h.db, "buyer@example.com")
	id, err := h.factory.CreateNew(context.Background(), order, amount)
	require.NoError(t, err)
	return id
}

func saveWithGatewayID(t *testing.T, h *harness, merchantOrderID, impUID string) error {
	txn := h.storedTxn(t, merchantOrderID)
	txn.TransactionID = impUID
	return h.store.Save(context.Background(), &txn)
}

func TestValidator_NotPaid(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)
	h.gw.records[id] = &gateway.Record{Status: "ready", MerchantOrderID: id, ImpUID: "imp_1", Amount: 15000}

	err := saveWithGatewayID(t, h, id, "imp_1")
	assert.ErrorIs(t, err, ErrUntrustedTransaction)
	assert.Empty(t, h.storedTxn(t, id).TransactionID)
}

func TestValidator_UnknownToGateway(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)

	err := saveWithGatewayID(t, h, id, "imp_1")
	assert.ErrorIs(t, err, ErrUntrustedTransaction)
}

func TestValidator_AmountTampered(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)
	// 网关实际收款金额与本地预登记金额不一致
	h.gw.pay(id, "imp_1", 100)

	err := saveWithGatewayID(t, h, id, "imp_1")
	assert.ErrorIs(t, err, ErrTamperedTransaction)
	assert.Empty(t, h.storedTxn(t, id).TransactionID)
}

func TestValidator_GatewayIDMismatch(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)
	h.gw.pay(id, "imp_real", 15000)

	err := saveWithGatewayID(t, h, id, "imp_forged")
	assert.ErrorIs(t, err, ErrTamperedTransaction)
}

func TestValidator_Consistent(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)
	h.gw.pay(id, "imp_1", 15000)

	require.NoError(t, saveWithGatewayID(t, h, id, "imp_1"))
	assert.Equal(t, "imp_1", h.storedTxn(t, id).TransactionID)
}

func TestValidator_FetchError(t *testing.T) {
	h := newHarness(t)
	id := pendingTxn(t, h, 15000)
	h.gw.fetchErr = errors.New("timeout")

	err := saveWithGatewayID(t, h, id, "imp_1")
	require.Error(t, err)
	assert.False(t, IsRejected(err))
	assert.Empty(t, h.storedTxn(t, id).TransactionID)
}

func TestValidator_CheckDirect(t *testing.T) {
	gw := newFakeGateway()
	gw.pay("m1", "imp_1", 700)
	v := NewValidator(gw, nil)
	db := newTestDB(t)
	store := NewGormStore(db)
	order := createOrder(t, db, "a@b.c")

	txn := &model.OrderTransaction{OrderID: order.ID, MerchantOrderID: "m1", TransactionID: "imp_1", Amount: 700}
	require.NoError(t, store.Save(context.Background(), txn))
	check, err := v.Check(context.Background(), txn)
	require.NoError(t, err)
	assert.NoError(t, check(context.Background(), store))
	assert.Equal(t, 1, gw.fetchCalls)

	// 网关回查不依赖事务，未支付时直接拒绝
	_, err = v.Check(context.Background(), &model.OrderTransaction{MerchantOrderID: "m2", TransactionID: "imp_2"})
	assert.ErrorIs(t, err, ErrUntrustedTransaction)
}
