package model

import "time"

// Coupon 优惠券只被订单引用；校验规则不在本服务内，这里只做有效期与启用状态判断。
type Coupon struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Code      string    `gorm:"size:50;uniqueIndex;not null" json:"code"`
	ValidFrom time.Time `gorm:"not null" json:"valid_from"`
	ValidTo   time.Time `gorm:"not null" json:"valid_to"`
	Discount  int       `gorm:"not null;default:0" json:"discount"` // 百分比 0-100
	Active    bool      `gorm:"not null" json:"active"`
}

func (Coupon) TableName() string { return "coupons" }

// Usable 判断优惠券在 now 时刻能否使用。
func (c Coupon) Usable(now time.Time) bool {
	return c.Active && !now.Before(c.ValidFrom) && !now.After(c.ValidTo)
}
