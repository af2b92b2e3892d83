package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaAppendSettlementOnce 通过 SETNX 标记保证「同一笔交易只入流一次」。
// KEYS[1]=标记key，KEYS[2]=stream；ARGV[1]=标记ttl秒，其余为 field/value 对。
const luaAppendSettlementOnce = `
local markKey = KEYS[1]
local stream = KEYS[2]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', markKey, '1') == 1 then
  redis.call('EXPIRE', markKey, ttlSec)
  local fields = {}
  for i = 2, #ARGV do
    fields[#fields + 1] = ARGV[i]
  end
  redis.call('XADD', stream, '*', unpack(fields))
  return 1
end
return 0
`

// AppendSettlementOnce 幂等写入结算事件：
// - 首次写入返回 true
// - 重复写入返回 false（stream 中不会出现第二条）
func AppendSettlementOnce(ctx context.Context, rdb *rd.Client, stream, merchantOrderID string, fields map[string]string) (bool, error) {
	const markTTLSeconds = int64((7 * 24 * time.Hour) / time.Second)

	args := make([]any, 0, 1+2*len(fields))
	args = append(args, markTTLSeconds)
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := rdb.Eval(ctx, luaAppendSettlementOnce, []string{SettlementMarkKey(merchantOrderID), stream}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
