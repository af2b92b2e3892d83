package router

import (
	"errors"
	"net/http"
	"time"

	"onlineshop/internal/config"
	"onlineshop/internal/middleware"
	"onlineshop/internal/payment"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 路由依赖。
type Deps struct {
	DB      *gorm.DB
	RDB     *rd.Client
	Factory *payment.Factory
	Settler *payment.Settler
	Store   payment.Store
	Config  config.AppConfig
	Logger  *zap.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Products
	r.GET("/api/products", listProducts(d.DB))
	r.POST("/api/products", createProduct(d.DB))
	// Orders
	r.GET("/api/orders", listOrders(d.DB))
	r.POST("/api/orders", createOrder(d.DB, time.Now))
	r.GET("/api/orders/:id", getOrder(d.DB, d.Store))
	r.POST("/api/orders/:id/checkout",
		middleware.CheckoutRateLimit(d.RDB, "id", d.Config.CheckoutRateLimit, d.Config.CheckoutRateWindow, d.Logger),
		checkout(d.DB, d.Factory, d.Logger))
	// Payments
	r.POST("/api/payments/validation", validation(d.Settler, d.Logger))
	r.GET("/api/payments/:merchant_id", getTransaction(d.Store))
}

// writeError 将核心层错误映射为 HTTP 状态码。
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
	case payment.IsRejected(err):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "异常交易，支付校验未通过"})
	case errors.Is(err, payment.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "交易不存在"})
	case errors.Is(err, payment.ErrDuplicateIdentifier):
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "订单号冲突，请重试"})
	case errors.Is(err, payment.ErrGatewayPrepare):
		logger.Error("gateway prepare failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"code": 502, "msg": "支付网关不可用"})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
	}
}
