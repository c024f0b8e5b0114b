package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"klinecollector/pkg/kline"

	"go.uber.org/zap"
)

const (
	DefaultSpotURL  = "https://api.binance.com"
	DefaultUSDMURL  = "https://fapi.binance.com"
	DefaultCoinMURL = "https://dapi.binance.com"
)

// MaxKlineLimit is the largest page the klines endpoint serves per call.
func MaxKlineLimit(m kline.Market) int {
	switch m {
	case kline.Spot:
		return 1000
	case kline.USDMFutures, kline.CoinMFutures:
		return 1500
	}
	panic(fmt.Sprintf("binance: unknown market %d", uint8(m)))
}

func klinesPath(m kline.Market) string {
	switch m {
	case kline.Spot:
		return "/api/v3/klines"
	case kline.USDMFutures:
		return "/fapi/v1/klines"
	case kline.CoinMFutures:
		return "/dapi/v1/klines"
	}
	panic(fmt.Sprintf("binance: unknown market %d", uint8(m)))
}

func exchangeInfoPath(m kline.Market) string {
	switch m {
	case kline.Spot:
		return "/api/v3/exchangeInfo"
	case kline.USDMFutures:
		return "/fapi/v1/exchangeInfo"
	case kline.CoinMFutures:
		return "/dapi/v1/exchangeInfo"
	}
	panic(fmt.Sprintf("binance: unknown market %d", uint8(m)))
}

func fundingPath(m kline.Market) (string, error) {
	switch m {
	case kline.Spot:
		return "", fmt.Errorf("funding rates: %w %s", ErrUnsupported, m)
	case kline.USDMFutures:
		return "/fapi/v1/fundingRate", nil
	case kline.CoinMFutures:
		return "/dapi/v1/fundingRate", nil
	}
	panic(fmt.Sprintf("binance: unknown market %d", uint8(m)))
}

// RESTClient talks to the live market-data endpoints of each market.
type RESTClient struct {
	baseURLs   map[kline.Market]string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithBaseURL overrides the endpoint root for one market.
func WithBaseURL(m kline.Market, baseURL string) RESTOption {
	return func(c *RESTClient) {
		if baseURL != "" {
			c.baseURLs[m] = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIKey sends the key in the X-MBX-APIKEY header. Market data does not
// require it, but keyed requests get their own quota.
func WithAPIKey(key string) RESTOption {
	return func(c *RESTClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.httpClient = hc
	}
}

func NewRESTClient(timeout time.Duration, logger *zap.Logger, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURLs: map[kline.Market]string{
			kline.Spot:         DefaultSpotURL,
			kline.USDMFutures:  DefaultUSDMURL,
			kline.CoinMFutures: DefaultCoinMURL,
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KlineRequest selects one page of klines. End is inclusive, as on the API.
type KlineRequest struct {
	Market kline.Market
	Symbol string
	Token  string // Timeframe.APIToken
	Start  time.Time
	End    time.Time
	Limit  int
}

// GetKlines returns raw kline rows in the archive column order, oldest first.
func (c *RESTClient) GetKlines(ctx context.Context, req KlineRequest) ([][]string, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("interval", req.Token)
	q.Set("startTime", strconv.FormatInt(req.Start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(req.End.UnixMilli(), 10))
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	body, err := c.get(ctx, req.Market, klinesPath(req.Market), q)
	if err != nil {
		return nil, err
	}

	rows, err := ParseKlineRows(body)
	if err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return rows, nil
}

// GetSymbols lists trading symbols of a market whose quote asset is quote.
// An empty quote returns every trading symbol.
func (c *RESTClient) GetSymbols(ctx context.Context, market kline.Market, quote string) ([]string, error) {
	body, err := c.get(ctx, market, exchangeInfoPath(market), nil)
	if err != nil {
		return nil, err
	}

	var info ExchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	seen := map[string]bool{}
	var symbols []string
	for _, s := range info.Symbols {
		status := s.Status
		if status == "" {
			status = s.ContractStatus
		}
		if status != "TRADING" {
			continue
		}
		if quote != "" && !strings.EqualFold(s.QuoteAsset, quote) {
			continue
		}
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

// GetFundingRates returns funding settlements in [start, end] for a derivative symbol.
func (c *RESTClient) GetFundingRates(ctx context.Context, market kline.Market, symbol string, start, end time.Time) ([]FundingRate, error) {
	p, err := fundingPath(market)
	if err != nil {
		return nil, err
	}

	var out []FundingRate
	cursor := start
	for cursor.Before(end) {
		q := url.Values{}
		q.Set("symbol", strings.ToUpper(symbol))
		q.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
		q.Set("limit", "1000")

		body, err := c.get(ctx, market, p, q)
		if err != nil {
			return nil, err
		}
		var page []FundingRate
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		cursor = time.UnixMilli(page[len(page)-1].FundingTime + 1)
		if len(page) < 1000 {
			break
		}
	}
	return out, nil
}

func (c *RESTClient) get(ctx context.Context, market kline.Market, p string, q url.Values) ([]byte, error) {
	endpoint := c.baseURLs[market] + p
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Msg != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Msg
		}
		if used := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); used != "" {
			c.logger.Debug("request weight", zap.String("used_weight_1m", used), zap.Int("status", resp.StatusCode))
		}
		return nil, apiErr
	}

	return body, nil
}
