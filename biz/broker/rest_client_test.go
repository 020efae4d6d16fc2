package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	rc := &RestClient{
		client:    resty.New().SetBaseURL(server.URL),
		apiKey:    "test_api_key",
		apiSecret: "test_secret_key",
		limiter:   rate.NewLimiter(rate.Inf, 1),
		backoff:   time.Millisecond,
	}
	return rc, server
}

func TestPlaceMarketOrderSigned(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders", r.URL.Path)
		assert.Equal(t, "test_api_key", r.Header.Get("X-API-KEY"))
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("X-TIMESTAMP")
		h := hmac.New(sha256.New, []byte("test_secret_key"))
		h.Write([]byte(ts + "POST" + "/api/v1/orders"))
		h.Write(body)
		assert.Equal(t, hex.EncodeToString(h.Sum(nil)), r.Header.Get("X-SIGNATURE"))
		assert.Contains(t, string(body), `"client_order_id":"c-1"`)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"o-1","client_order_id":"c-1","symbol":"BTCUSDT","side":"BUY","status":"FILLED","executed_qty":"0.5","avg_price":"101.25"}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	resp, err := rc.PlaceMarketOrder(context.Background(), "BTCUSDT", SideBuy, decimal.RequireFromString("0.5"), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", resp.OrderID)
	assert.True(t, resp.AvgPrice.Equal(decimal.RequireFromString("101.25")))
	assert.True(t, resp.ExecutedQty.Equal(decimal.RequireFromString("0.5")))
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"insufficient balance"}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	_, err := rc.PlaceMarketOrder(context.Background(), "BTCUSDT", SideBuy, decimal.NewFromInt(1), "c-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryOnServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balances":[{"asset":"USDT","free":"1000","locked":"0"}]}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	acc, err := rc.Account(context.Background())
	require.NoError(t, err)
	require.Len(t, acc.Balances, 1)
	assert.Equal(t, "USDT", acc.Balances[0].Asset)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	_, err := rc.Account(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed after 3 attempts")
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(3), calls.Load())
}

func TestContextCancelled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()
	rc.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rc.Account(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
