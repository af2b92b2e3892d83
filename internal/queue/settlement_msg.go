package queue

import "fmt"

// SettlementMessage 是写入 Kafka 的交易结算事件。
type SettlementMessage struct {
	EventID         string `json:"event_id"`
	OrderID         uint   `json:"order_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	TransactionID   string `json:"transaction_id"`
	Amount          int64  `json:"amount"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m SettlementMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if m.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.MerchantOrderID == "" {
		return fmt.Errorf("merchant_order_id is required")
	}
	if m.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if m.Amount <= 0 {
		return fmt.Errorf("amount must be > 0")
	}
	return nil
}
