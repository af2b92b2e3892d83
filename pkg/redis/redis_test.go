package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*rd.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func TestPrepareLedger_TrackClearStale(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()
	ledger := NewPrepareLedger(rdb)

	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, ledger.Track(ctx, "old1", base))
	require.NoError(t, ledger.Track(ctx, "old2", base.Add(time.Second)))
	require.NoError(t, ledger.Track(ctx, "fresh", base.Add(time.Hour)))

	stale, err := ledger.Stale(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old1", "old2"}, stale)

	require.NoError(t, ledger.Clear(ctx, "old1"))
	stale, err = ledger.Stale(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old2"}, stale)
}

func TestGatewayToken_RoundTrip(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := GetGatewayToken(ctx, rdb, "key")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, PutGatewayToken(ctx, rdb, "key", "tok", time.Minute))
	token, found, err := GetGatewayToken(ctx, rdb, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok", token)

	mr.FastForward(2 * time.Minute)
	_, found, err = GetGatewayToken(ctx, rdb, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutGatewayToken_NonPositiveTTL(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	require.NoError(t, PutGatewayToken(context.Background(), rdb, "key", "tok", 0))
	assert.False(t, mr.Exists(GatewayTokenKey("key")))
}

func TestAppendSettlementOnce(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()
	fields := map[string]string{"merchant_order_id": "abc", "order_id": "1"}

	first, err := AppendSettlementOnce(ctx, rdb, "settlements", "abc", fields)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := AppendSettlementOnce(ctx, rdb, "settlements", "abc", fields)
	require.NoError(t, err)
	assert.False(t, second)

	n, err := rdb.XLen(ctx, "settlements").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := rdb.XRange(ctx, "settlements", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "abc", msgs[0].Values["merchant_order_id"])
	assert.Equal(t, "1", msgs[0].Values["order_id"])
}

func TestSweepLock(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := AcquireSweepLock(ctx, rdb, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AcquireSweepLock(ctx, rdb, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者释放无效
	require.NoError(t, ReleaseSweepLock(ctx, rdb, "b"))
	ok, err = AcquireSweepLock(ctx, rdb, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ReleaseSweepLock(ctx, rdb, "a"))
	ok, err = AcquireSweepLock(ctx, rdb, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
