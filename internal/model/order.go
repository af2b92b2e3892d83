package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrDiscountOutOfRange = errors.New("discount must be between 0 and 100")
	ErrInvalidQuantity    = errors.New("quantity must be >= 1")
)

var hundred = decimal.NewFromInt(100)

// Order 客户订单。OrderItem 与 OrderTransaction 归属于订单，Coupon 只是引用。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FirstName  string `gorm:"size:50;not null" json:"first_name"`
	LastName   string `gorm:"size:50;not null" json:"last_name"`
	Email      string `gorm:"size:254;not null" json:"email"`
	Address    string `gorm:"size:250;not null" json:"address"`
	PostalCode string `gorm:"size:20;not null" json:"postal_code"`
	City       string `gorm:"size:100;not null" json:"city"`
	Paid       bool   `gorm:"not null;default:false" json:"paid"`

	CouponID *uint   `gorm:"index" json:"coupon_id,omitempty"`
	Coupon   *Coupon `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Discount int     `gorm:"not null;default:0" json:"discount"` // 百分比 0-100

	Items        []OrderItem        `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
	Transactions []OrderTransaction `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Order) TableName() string { return "orders" }

// BeforeSave 保证折扣落库前在 [0,100] 内。
func (o *Order) BeforeSave(*gorm.DB) error {
	if o.Discount < 0 || o.Discount > 100 {
		return ErrDiscountOutOfRange
	}
	return nil
}

// TotalProduct 所有明细金额之和，需要预先加载 Items。
func (o *Order) TotalProduct() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Cost())
	}
	return total
}

// TotalDiscount = 商品总额 × discount / 100
func (o *Order) TotalDiscount() decimal.Decimal {
	return o.TotalProduct().Mul(decimal.NewFromInt(int64(o.Discount)).Div(hundred))
}

// TotalCost = 商品总额 - 折扣
func (o *Order) TotalCost() decimal.Decimal {
	return o.TotalProduct().Sub(o.TotalDiscount())
}

// OrderItem 订单明细，创建后不再修改。
type OrderItem struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	ProductID uint            `gorm:"not null;index" json:"product_id"`
	Product   *Product        `json:"-"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeSave(*gorm.DB) error {
	if i.Quantity < 1 {
		return ErrInvalidQuantity
	}
	return nil
}

// Cost = 单价 × 数量
func (i OrderItem) Cost() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
