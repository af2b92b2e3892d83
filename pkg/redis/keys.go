package redis

import "fmt"

// GatewayTokenKey 网关 access token 缓存键。
func GatewayTokenKey(apiKey string) string {
	return fmt.Sprintf("onlineshop:gateway:token:%s", apiKey)
}

// PrepareLedgerKey 已向网关预登记、但本地尚未落库的 merchant_order_id 集合（ZSET，score=登记时间）。
func PrepareLedgerKey() string {
	return "onlineshop:payment:prepared"
}

// SettlementMarkKey 标记某笔交易的结算事件是否已写入 outbox。
func SettlementMarkKey(merchantOrderID string) string {
	return fmt.Sprintf("onlineshop:payment:settled:%s", merchantOrderID)
}

// SweepLockKey 对账任务的全局互斥锁。
func SweepLockKey() string {
	return "onlineshop:payment:sweep:lock"
}

// CheckoutRateLimitKey 结算接口按订单限流。
func CheckoutRateLimitKey(orderID string) string {
	return fmt.Sprintf("rate_limit:checkout:order:%s", orderID)
}

// CheckoutRateLimitIPKey 解析不到订单号时按 IP 限流。
func CheckoutRateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:checkout:ip:%s", ip)
}
