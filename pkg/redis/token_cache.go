package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// GetGatewayToken 读取缓存的网关 token。found=false 表示已过期或不存在。
func GetGatewayToken(ctx context.Context, rdb *rd.Client, apiKey string) (string, bool, error) {
	token, err := rdb.Get(ctx, GatewayTokenKey(apiKey)).Result()
	if errors.Is(err, rd.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// PutGatewayToken 缓存 token，ttl<=0 时不缓存。
func PutGatewayToken(ctx context.Context, rdb *rd.Client, apiKey, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return rdb.Set(ctx, GatewayTokenKey(apiKey), token, ttl).Err()
}
