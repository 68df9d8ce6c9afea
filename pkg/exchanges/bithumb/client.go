// Package bithumb is the Bithumb spot venue adapter: the public ticker plus the v1
// private API (accounts, orders) authenticated with HS256 JWTs.
package bithumb

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"scalper-core/pkg/exchanges/common"
)

const DefaultBaseURL = "https://api.bithumb.com"

// Config holds endpoint, credentials and pacing.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Market     string // v1 market code, e.g. KRW-BTC
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Client talks to Bithumb over REST.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

var _ common.Venue = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		now:        time.Now,
	}
}

// HasCredentials reports whether private endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// FetchPrice reads /public/ticker/{symbol}. Every numeric field is validated before it
// leaves the adapter.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (common.Ticker, error) {
	body, err := c.do(ctx, http.MethodGet, "/public/ticker/"+url.PathEscape(symbol), nil, nil)
	if err != nil {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: err}
	}
	return parseTicker(symbol, body, c.now())
}

func parseTicker(symbol string, body []byte, now time.Time) (common.Ticker, error) {
	if !gjson.ValidBytes(body) {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: errors.New("malformed ticker json")}
	}
	res := gjson.ParseBytes(body)
	if st := res.Get("status").String(); st != "" && st != "0000" {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: fmt.Errorf("status %s: %s", st, res.Get("message").String())}
	}
	data := res.Get("data")
	price, err := strictFloat(data.Get("closing_price"))
	if err != nil || price <= 0 {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: fmt.Errorf("invalid closing_price %q", data.Get("closing_price").String())}
	}
	vol, err := strictFloat(data.Get("units_traded"))
	if err != nil || vol < 0 {
		vol = 0
	}
	ts := now
	if ms := data.Get("date").Int(); ms > 0 {
		ts = time.UnixMilli(ms)
	}
	return common.Ticker{Symbol: symbol, Price: price, Volume: vol, Timestamp: ts}, nil
}

// strictFloat accepts JSON numbers and numeric strings only.
func strictFloat(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		return strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
	default:
		return 0, fmt.Errorf("not numeric: %s", v.Raw)
	}
}

// Holdings reads GET /v1/accounts.
func (c *Client) Holdings(ctx context.Context) ([]common.Holding, error) {
	body, err := c.private(ctx, http.MethodGet, "/v1/accounts", nil)
	if err != nil {
		return nil, &common.AccountError{Op: "accounts", Err: err}
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, &common.AccountError{Op: "accounts", Err: fmt.Errorf("unexpected payload: %.200s", string(body))}
	}
	var out []common.Holding
	var perr error
	res.ForEach(func(_, acc gjson.Result) bool {
		bal, err := strictFloat(acc.Get("balance"))
		if err != nil {
			perr = fmt.Errorf("balance for %s: %w", acc.Get("currency").String(), err)
			return false
		}
		locked, _ := strictFloat(acc.Get("locked"))
		avg, _ := strictFloat(acc.Get("avg_buy_price"))
		out = append(out, common.Holding{
			Currency:    strings.ToUpper(acc.Get("currency").String()),
			Balance:     bal,
			Locked:      locked,
			AvgBuyPrice: avg,
		})
		return true
	})
	if perr != nil {
		return nil, &common.AccountError{Op: "accounts", Err: perr}
	}
	return out, nil
}

// AvailableBalance is balance minus locked for one currency; zero when absent.
func (c *Client) AvailableBalance(ctx context.Context, currency string) (float64, error) {
	hs, err := c.Holdings(ctx)
	if err != nil {
		return 0, err
	}
	currency = strings.ToUpper(currency)
	for _, h := range hs {
		if h.Currency == currency {
			return h.Available(), nil
		}
	}
	return 0, nil
}

// SubmitOrder places a limit order with POST /v1/orders.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Price <= 0 || req.Qty <= 0 {
		return common.OrderResult{}, &common.ExecutionError{Message: fmt.Sprintf("invalid order price=%v qty=%v", req.Price, req.Qty)}
	}
	side := "bid"
	if req.Side == common.SideSell {
		side = "ask"
	}
	market := req.Symbol
	if c.cfg.Market != "" {
		market = c.cfg.Market
	}
	params := url.Values{}
	params.Set("market", market)
	params.Set("side", side)
	params.Set("ord_type", "limit")
	params.Set("price", formatFloat(req.Price))
	params.Set("volume", formatFloat(req.Qty))

	body, err := c.private(ctx, http.MethodPost, "/v1/orders", params)
	if err != nil {
		var ee *common.ExecutionError
		if errors.As(err, &ee) {
			return common.OrderResult{}, ee
		}
		return common.OrderResult{}, &common.ExecutionError{Kind: common.ClassifyExecution(err), Message: "submit order", Err: err}
	}
	res := gjson.ParseBytes(body)
	id := res.Get("uuid").String()
	if id == "" {
		return common.OrderResult{}, &common.ExecutionError{Message: fmt.Sprintf("order response without uuid: %.200s", string(body))}
	}
	return common.OrderResult{
		ExchangeOrderID: id,
		Status:          mapState(res.Get("state").String()),
		FilledQty:       res.Get("executed_volume").Float(),
		AvgPrice:        req.Price,
		Fee:             res.Get("paid_fee").Float(),
	}, nil
}

// private signs and sends a v1 request. Params are hashed into the token as query_hash.
func (c *Client) private(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, errors.New("bithumb: api key/secret required")
	}
	token, err := c.token(params)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	var payload []byte
	switch {
	case method == http.MethodGet && len(params) > 0:
		path += "?" + params.Encode()
	case len(params) > 0:
		obj := make(map[string]string, len(params))
		for k := range params {
			obj[k] = params.Get(k)
		}
		if payload, err = json.Marshal(obj); err != nil {
			return nil, err
		}
		headers.Set("Content-Type", "application/json; charset=utf-8")
	}
	return c.do(ctx, method, path, payload, headers)
}

func (c *Client) token(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.cfg.APIKey,
		"nonce":      uuid.NewString(),
		"timestamp":  c.now().UnixMilli(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.APISecret))
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, headers http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, apiError(res.StatusCode, body)
	}
	return body, nil
}

// apiError maps {"error":{"name","message"}} bodies onto the execution taxonomy.
func apiError(status int, body []byte) error {
	res := gjson.ParseBytes(body)
	name := res.Get("error.name").String()
	msg := res.Get("error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	e := &common.ExecutionError{Message: fmt.Sprintf("http %d %s: %s", status, name, msg)}
	switch {
	case strings.Contains(name, "insufficient_funds_ask"):
		e.Kind = common.ExecInsufficientInventory
	default:
		e.Kind = common.ClassifyExecution(errors.New(name + " " + msg))
	}
	return e
}

func mapState(s string) common.OrderStatus {
	switch s {
	case "done":
		return common.StatusFilled
	case "cancel":
		return common.StatusCanceled
	default:
		return common.StatusNew
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
