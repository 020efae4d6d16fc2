package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/go-resty/resty/v2"
	"github.com/gogogo1024/ai-trader/conf"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"

	maxRetries = 3
)

var ErrRejected = errors.New("broker: order rejected")

// OrderPlacer 下单能力，LiveExecutor 依赖它
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*OrderResponse, error)
}

type RestClient struct {
	client    *resty.Client
	apiKey    string
	apiSecret string
	limiter   *rate.Limiter
	backoff   time.Duration
}

var _ OrderPlacer = (*RestClient)(nil)

func NewRestClient(cfg conf.Broker) *RestClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	return &RestClient{
		client:    client,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		backoff:   time.Second,
	}
}

// sign HMAC-SHA256(timestamp + method + path + body)
func (c *RestClient) sign(ts, method, path string, body []byte) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest 限流、签名并按需重试；每次重试重新签名
func (c *RestClient) doRequest(ctx context.Context, method, path string, payload interface{}, result interface{}) (*resty.Response, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = b
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req := c.client.R().
			SetContext(ctx).
			SetHeader("X-API-KEY", c.apiKey).
			SetHeader("X-TIMESTAMP", ts).
			SetHeader("X-SIGNATURE", c.sign(ts, method, path, body)).
			SetHeader("Content-Type", "application/json")
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}

		resp, err := req.Execute(method, path)
		if err == nil && !resp.IsError() {
			return resp, nil
		}

		var retryAfter time.Duration
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			status := resp.StatusCode()
			lastErr = fmt.Errorf("status %d: %s", status, resp.String())
			switch {
			case status == http.StatusTooManyRequests || status == 418:
				if s, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(s) * time.Second
				}
			case status >= 500:
			default:
				return nil, fmt.Errorf("%w: %v", ErrRejected, lastErr)
			}
		}

		if i == maxRetries-1 {
			break
		}
		if retryAfter == 0 {
			retryAfter = c.backoff << i
		}
		hlog.CtxWarnf(ctx, "[Broker] %s %s failed, attempt=%d, retry_after=%s, err=%v", method, path, i+1, retryAfter, lastErr)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	ClientOrderID string `json:"client_order_id"`
}

type OrderResponse struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	TransactTime  int64           `json:"transact_time"`
}

// PlaceMarketOrder 市价单
func (c *RestClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*OrderResponse, error) {
	payload := orderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          OrderTypeMarket,
		Quantity:      qty.String(),
		ClientOrderID: clientOrderID,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/orders", payload, &OrderResponse{})
	if err != nil {
		hlog.CtxErrorf(ctx, "[Broker] place order failed, symbol=%s, side=%s, err=%v", symbol, side, err)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	result := resp.Result().(*OrderResponse)
	hlog.CtxInfof(ctx, "[Broker] order placed, id=%s, symbol=%s, side=%s, qty=%s, avg=%s",
		result.OrderID, result.Symbol, result.Side, result.ExecutedQty, result.AvgPrice)
	return result, nil
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type AccountResponse struct {
	Balances []Balance `json:"balances"`
}

// Account 查询账户余额
func (c *RestClient) Account(ctx context.Context) (*AccountResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/account", nil, &AccountResponse{})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return resp.Result().(*AccountResponse), nil
}
