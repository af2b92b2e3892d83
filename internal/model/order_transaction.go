package model

import "time"

// TransactionStatusPaid 网关结算完成后写入的状态。
const TransactionStatusPaid = "paid"

// OrderTransaction 一次通过支付网关付款的尝试。
// 创建时只有 MerchantOrderID（待支付），网关回调后写入 TransactionID。
type OrderTransaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	OrderID uint   `gorm:"not null;index" json:"order_id"`
	Order   *Order `json:"-"`

	MerchantOrderID   string `gorm:"size:120;uniqueIndex;not null" json:"merchant_order_id"`
	TransactionID     string `gorm:"size:120;index" json:"transaction_id"` // 网关 imp_uid
	Amount            int64  `gorm:"not null;default:0" json:"amount"`     // 最小货币单位
	TransactionStatus string `gorm:"size:220" json:"transaction_status"`
	Type              string `gorm:"size:120" json:"type"`
	Success           bool   `gorm:"not null;default:false" json:"success"`
}

func (OrderTransaction) TableName() string { return "order_transactions" }

// Settled 是否已经拿到网关交易号。
func (t OrderTransaction) Settled() bool { return t.TransactionID != "" }
