package gateway

// StatusPaid 网关侧「已支付」状态。
const StatusPaid = "paid"

// Record 网关对某个 merchant_uid 的权威记录。
type Record struct {
	Status          string
	MerchantOrderID string
	ImpUID          string
	Amount          int64
	PayMethod       string
}

// Paid 网关是否确认已收款。
func (r *Record) Paid() bool {
	return r != nil && r.Status == StatusPaid
}
