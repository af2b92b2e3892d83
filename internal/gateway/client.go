package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	rediskey "onlineshop/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	// ErrGateway 网关返回非 0 code 或 5xx。
	ErrGateway = errors.New("payment gateway error")
	// ErrUnauthorized token 获取失败或被网关拒绝。
	ErrUnauthorized = errors.New("payment gateway unauthorized")
)

// token 提前过期的余量，避免边界时刻使用即将失效的 token。
const tokenSafetyMargin = time.Minute

// Config 网关连接参数。
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration

	// 熔断：连续失败 MaxFailures 次后打开，OpenTimeout 后半开探测。
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client Iamport REST 客户端。
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string

	http    *http.Client
	rdb     *rd.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *zap.Logger

	// rdb 为空时的进程内 token 缓存
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type response struct {
	status int
	body   []byte
}

type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Now         int64  `json:"now"`
	ExpiredAt   int64  `json:"expired_at"`
}

type paymentResponse struct {
	ImpUID      string `json:"imp_uid"`
	MerchantUID string `json:"merchant_uid"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	PayMethod   string `json:"pay_method"`
}

// NewClient 创建网关客户端。rdb 可为 nil，此时 token 只缓存在进程内。
func NewClient(cfg Config, rdb *rd.Client, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: cfg.Timeout},
		rdb:       rdb,
		breaker:   breaker,
		logger:    logger,
	}
}

// Prepare 向网关预登记 merchant_uid 对应的金额，网关之后拒绝以其他金额结算该 id。
func (c *Client) Prepare(ctx context.Context, merchantOrderID string, amount int64) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"merchant_uid": merchantOrderID,
		"amount":       amount,
	}
	resp, err := c.do(ctx, http.MethodPost, "/payments/prepare", token, body)
	if err != nil {
		return err
	}
	if _, err := c.decode(resp); err != nil {
		return fmt.Errorf("prepare %s: %w", merchantOrderID, err)
	}
	return nil
}

// Fetch 查询网关对 merchant_uid 的记录。网关不认识该 id 时返回 (nil, nil)。
func (c *Client) Fetch(ctx context.Context, merchantOrderID string) (*Record, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/payments/find/"+url.PathEscape(merchantOrderID), token, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	raw, err := c.decode(resp)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", merchantOrderID, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var p paymentResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("find %s: decode payment: %w", merchantOrderID, err)
	}
	return &Record{
		Status:          p.Status,
		MerchantOrderID: p.MerchantUID,
		ImpUID:          p.ImpUID,
		Amount:          p.Amount,
		PayMethod:       p.PayMethod,
	}, nil
}

// accessToken 优先读缓存，缺失时调用 /users/getToken。
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(ctx); ok {
		return token, nil
	}

	resp, err := c.do(ctx, http.MethodPost, "/users/getToken", "", map[string]string{
		"imp_key":    c.apiKey,
		"imp_secret": c.apiSecret,
	})
	if err != nil {
		return "", err
	}
	raw, err := c.decode(resp)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("get token: decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", ErrUnauthorized
	}

	ttl := time.Duration(tr.ExpiredAt-tr.Now)*time.Second - tokenSafetyMargin
	c.storeToken(ctx, tr.AccessToken, ttl)
	c.logger.Debug("gateway token refreshed", zap.Duration("ttl", ttl))
	return tr.AccessToken, nil
}

func (c *Client) cachedToken(ctx context.Context) (string, bool) {
	if c.rdb != nil {
		token, found, err := rediskey.GetGatewayToken(ctx, c.rdb, c.apiKey)
		if err != nil {
			// Redis 不可用时降级为重新获取 token
			c.logger.Warn("gateway token cache read failed", zap.Error(err))
			return "", false
		}
		return token, found
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || time.Now().After(c.tokenExpiry) {
		return "", false
	}
	return c.token, true
}

func (c *Client) storeToken(ctx context.Context, token string, ttl time.Duration) {
	if c.rdb != nil {
		if err := rediskey.PutGatewayToken(ctx, c.rdb, c.apiKey, token, ttl); err != nil {
			c.logger.Warn("gateway token cache write failed", zap.Error(err))
		}
		return
	}
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.token = token
	c.tokenExpiry = time.Now().Add(ttl)
	c.mu.Unlock()
}

// do 经过熔断器发送请求。只有传输错误与 5xx 计入熔断失败，4xx 交给调用方解释。
func (c *Client) do(ctx context.Context, method, path, token string, body any) (*response, error) {
	resp, err := c.breaker.Execute(func() (*response, error) {
		var r io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			r = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}

		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()
		b, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}
		if httpResp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s %s status=%d", ErrGateway, method, path, httpResp.StatusCode)
		}
		return &response{status: httpResp.StatusCode, body: b}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		return nil, err
	}
	return resp, nil
}

// decode 解析 {code, message, response} 信封，code!=0 视为失败。
func (c *Client) decode(resp *response) (json.RawMessage, error) {
	if resp.status == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope (status=%d): %v", ErrGateway, resp.status, err)
	}
	if env.Code != 0 || resp.status >= 300 {
		return nil, fmt.Errorf("%w: code=%d status=%d message=%s", ErrGateway, env.Code, resp.status, env.Message)
	}
	return env.Response, nil
}
