package router

import (
	"errors"
	"net/http"

	"onlineshop/internal/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// validation 前端支付完成后转发网关结果；真正的判定由 Validator 回查网关完成。
func validation(settler *payment.Settler, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			MerchantID string `json:"merchant_id" binding:"required"`
			ImpID      string `json:"imp_id" binding:"required"`
			PayMethod  string `json:"pay_method"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		txn, err := settler.Settle(c.Request.Context(), payment.SettleRequest{
			MerchantOrderID: req.MerchantID,
			ImpUID:          req.ImpID,
			PayMethod:       req.PayMethod,
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"merchant_id": txn.MerchantOrderID,
				"imp_id":      txn.TransactionID,
				"amount":      txn.Amount,
				"status":      txn.TransactionStatus,
			},
		})
	}
}

// getTransaction 按商户订单号查询交易状态。
func getTransaction(store payment.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		txn, err := store.FindByMerchantID(c.Request.Context(), c.Param("merchant_id"))
		if err != nil {
			if errors.Is(err, payment.ErrTransactionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "交易不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": txn})
	}
}
