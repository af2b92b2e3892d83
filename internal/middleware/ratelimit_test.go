package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newLimitedEngine(rdb *rd.Client, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/orders/:id/checkout", CheckoutRateLimit(rdb, "id", limit, time.Minute, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func post(r http.Handler, path string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestCheckoutRateLimit_PerOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	r := newLimitedEngine(rdb, 2)

	assert.Equal(t, http.StatusOK, post(r, "/orders/1/checkout"))
	assert.Equal(t, http.StatusOK, post(r, "/orders/1/checkout"))
	assert.Equal(t, http.StatusTooManyRequests, post(r, "/orders/1/checkout"))

	// 其他订单不受影响
	assert.Equal(t, http.StatusOK, post(r, "/orders/2/checkout"))
}

func TestCheckoutRateLimit_RedisDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	r := newLimitedEngine(rdb, 1)
	assert.Equal(t, http.StatusOK, post(r, "/orders/1/checkout"))
	assert.Equal(t, http.StatusOK, post(r, "/orders/1/checkout"))
}
