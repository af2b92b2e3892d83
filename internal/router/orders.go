package router

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"onlineshop/internal/model"
	"onlineshop/internal/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errCouponUnusable  = errors.New("优惠券无效或已过期")
	errProductMissing  = errors.New("商品不存在或已下架")
	errOrderPaid       = errors.New("订单已支付")
	errNothingToCharge = errors.New("订单金额为 0，无需支付")
)

// orderView 订单及其派生金额。
func orderView(o *model.Order) gin.H {
	return gin.H{
		"order":          o,
		"total_product":  o.TotalProduct().StringFixed(2),
		"total_discount": o.TotalDiscount().StringFixed(2),
		"total_cost":     o.TotalCost().StringFixed(2),
	}
}

// createOrder 下单：校验商品、套用优惠券折扣，并按当前单价快照写入明细。
func createOrder(db *gorm.DB, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FirstName  string `json:"first_name" binding:"required,max=50"`
			LastName   string `json:"last_name" binding:"required,max=50"`
			Email      string `json:"email" binding:"required,email"`
			Address    string `json:"address" binding:"required,max=250"`
			PostalCode string `json:"postal_code" binding:"required,max=20"`
			City       string `json:"city" binding:"required,max=100"`
			CouponCode string `json:"coupon_code"`
			Items      []struct {
				ProductID uint `json:"product_id" binding:"required,min=1"`
				Quantity  int  `json:"quantity" binding:"required,min=1"`
			} `json:"items" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		order := &model.Order{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Email:      req.Email,
			Address:    req.Address,
			PostalCode: req.PostalCode,
			City:       req.City,
		}

		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if code := strings.TrimSpace(req.CouponCode); code != "" {
				var coupon model.Coupon
				if err := tx.Where("code = ?", code).First(&coupon).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return errCouponUnusable
					}
					return err
				}
				if !coupon.Usable(now()) {
					return errCouponUnusable
				}
				order.CouponID = &coupon.ID
				order.Discount = coupon.Discount
			}

			for _, it := range req.Items {
				var p model.Product
				if err := tx.Where("id = ? AND available = ?", it.ProductID, true).First(&p).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return errProductMissing
					}
					return err
				}
				order.Items = append(order.Items, model.OrderItem{
					ProductID: p.ID,
					Price:     p.Price,
					Quantity:  it.Quantity,
				})
			}
			return tx.Create(order).Error
		})
		if err != nil {
			if errors.Is(err, errCouponUnusable) || errors.Is(err, errProductMissing) {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": orderView(order)})
	}
}

// loadOrder 按路由参数 id 读取订单并预加载明细；失败时已写响应。
func loadOrder(c *gin.Context, db *gorm.DB) (*model.Order, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
		return nil, false
	}
	var o model.Order
	if err := db.WithContext(c.Request.Context()).Preload("Items").First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return nil, false
	}
	return &o, true
}

// getOrder 查询订单、金额及其支付交易（最新的在前）。
func getOrder(db *gorm.DB, store payment.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := loadOrder(c, db)
		if !ok {
			return
		}
		txns, err := store.ListByOrder(c.Request.Context(), o.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		view := orderView(o)
		view["transactions"] = txns
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": view})
	}
}

// listOrders 订单列表，最新的在前。limit 默认 20，最大 100。
func listOrders(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "limit 无效"})
				return
			}
			limit = min(n, 100)
		}

		var list []model.Order
		err := db.WithContext(c.Request.Context()).
			Preload("Items").
			Order("created_at DESC, id DESC").
			Limit(limit).
			Find(&list).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		views := make([]gin.H, 0, len(list))
		for i := range list {
			views = append(views, orderView(&list[i]))
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": views})
	}
}

// checkout 为订单创建待支付交易。
// 金额由服务端按订单总额计算（四舍五入到最小货币单位），不信任客户端传入的金额。
func checkout(db *gorm.DB, factory *payment.Factory, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := loadOrder(c, db)
		if !ok {
			return
		}
		if o.Paid {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": errOrderPaid.Error()})
			return
		}
		amount := o.TotalCost().Round(0).IntPart()
		if amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": errNothingToCharge.Error()})
			return
		}

		merchantID, err := factory.CreateNew(c.Request.Context(), o, amount)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"merchant_id": merchantID,
				"amount":      amount,
			},
		})
	}
}
