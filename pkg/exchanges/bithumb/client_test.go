package bithumb

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper-core/pkg/exchanges/common"
)

const testSecret = "s3cret"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: testSecret, Market: "KRW-BTC", RatePerSec: 1000, Burst: 100})
}

func claimsFrom(t *testing.T, r *http.Request) jwt.MapClaims {
	t.Helper()
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte(testSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	return claims
}

func TestFetchPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/ticker/BTC_KRW", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"0000","data":{"closing_price":"143250000","units_traded":"1234.5","date":"1735689600000"}}`))
	})
	tk, err := c.FetchPrice(context.Background(), "BTC_KRW")
	require.NoError(t, err)
	assert.Equal(t, 143_250_000.0, tk.Price)
	assert.Equal(t, 1234.5, tk.Volume)
	assert.Equal(t, int64(1735689600000), tk.Timestamp.UnixMilli())
}

func TestFetchPriceRejectsBadValues(t *testing.T) {
	bodies := []string{
		`{"status":"0000","data":{"closing_price":"0"}}`,
		`{"status":"0000","data":{"closing_price":"abc"}}`,
		`{"status":"5600","message":"bad symbol"}`,
		`not json`,
	}
	for _, body := range bodies {
		_, err := parseTicker("BTC_KRW", []byte(body), time.Now())
		var mde *common.MarketDataError
		assert.True(t, errors.As(err, &mde), body)
	}
}

func TestFetchPriceHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FetchPrice(context.Background(), "BTC_KRW")
	var mde *common.MarketDataError
	assert.True(t, errors.As(err, &mde))
}

func TestHoldingsSignedWithoutQueryHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		claims := claimsFrom(t, r)
		assert.Equal(t, "key", claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		assert.NotContains(t, claims, "query_hash")
		_, _ = w.Write([]byte(`[
			{"currency":"KRW","balance":"1000000.5","locked":"500","avg_buy_price":"0"},
			{"currency":"BTC","balance":"0.01","locked":"0","avg_buy_price":"140000000"}]`))
	})
	hs, err := c.Holdings(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, 140_000_000.0, hs[1].AvgBuyPrice)

	krw, err := c.AvailableBalance(context.Background(), "krw")
	require.NoError(t, err)
	assert.InDelta(t, 999_500.5, krw, 1e-9)

	eth, err := c.AvailableBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Zero(t, eth)
}

func TestSubmitOrderQueryHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "KRW-BTC", body["market"])
		assert.Equal(t, "bid", body["side"])
		assert.Equal(t, "limit", body["ord_type"])
		assert.Equal(t, "0.0035", body["volume"])

		vals := url.Values{}
		for k, v := range body {
			vals.Set(k, v)
		}
		sum := sha512.Sum512([]byte(vals.Encode()))
		claims := claimsFrom(t, r)
		assert.Equal(t, hex.EncodeToString(sum[:]), claims["query_hash"])
		assert.Equal(t, "SHA512", claims["query_hash_alg"])

		_, _ = w.Write([]byte(`{"uuid":"abc-123","state":"wait","executed_volume":"0"}`))
	})
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTC_KRW", Side: common.SideBuy, Price: 143_000_000, Qty: 0.0035})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.ExchangeOrderID)
	assert.Equal(t, common.StatusNew, res.Status)
}

func TestSubmitOrderInsufficient(t *testing.T) {
	tests := []struct {
		name string
		body string
		want common.ExecutionKind
	}{
		{"bid funds", `{"error":{"name":"insufficient_funds_bid","message":"주문가능한 금액(KRW)이 부족합니다."}}`, common.ExecInsufficientFunds},
		{"ask inventory", `{"error":{"name":"insufficient_funds_ask","message":"주문가능한 수량이 부족합니다."}}`, common.ExecInsufficientInventory},
		{"other", `{"error":{"name":"invalid_price","message":"price tick"}}`, common.ExecOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Side: common.SideSell, Price: 1, Qty: 1})
			var ee *common.ExecutionError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.want, ee.Kind)
		})
	}
}

func TestPrivateRequiresCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := c.Holdings(context.Background())
	var ae *common.AccountError
	assert.True(t, errors.As(err, &ae))
}
