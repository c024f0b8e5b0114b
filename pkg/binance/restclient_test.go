package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"klinecollector/pkg/kline"

	"go.uber.org/zap"
)

// go test -v --run TestGetKlines
func TestGetKlines(t *testing.T) {
	var gotQuery string
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("path = %s, want /fapi/v1/klines", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`[[1704067200000,"42283.58","42554.57","42261.02","42475.23","1271.68108",1704070799999,"53957248.9",47134,"682.57581","28957416.8","0"]]`))
	}))
	defer srv.Close()

	client := NewRESTClient(5*time.Second, zap.NewNop(),
		WithBaseURL(kline.USDMFutures, srv.URL), WithAPIKey("key"))

	start := time.UnixMilli(1704067200000)
	rows, err := client.GetKlines(context.Background(), KlineRequest{
		Market: kline.USDMFutures,
		Symbol: "btcusdt",
		Token:  "1h",
		Start:  start,
		End:    start.Add(time.Hour - time.Millisecond),
		Limit:  1500,
	})
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0][0] != "1704067200000" || rows[0][8] != "47134" || rows[0][1] != "42283.58" {
		t.Errorf("unexpected row: %v", rows[0])
	}
	if gotKey != "key" {
		t.Errorf("api key header = %q", gotKey)
	}
	want := "endTime=1704070799999&interval=1h&limit=1500&startTime=1704067200000&symbol=BTCUSDT"
	if gotQuery != want {
		t.Errorf("query = %s, want %s", gotQuery, want)
	}
}

// go test -v --run TestAPIError
func TestAPIError(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	}))
	defer srv.Close()

	client := NewRESTClient(5*time.Second, zap.NewNop(), WithBaseURL(kline.Spot, srv.URL))
	req := KlineRequest{Market: kline.Spot, Symbol: "BTCUSDT", Token: "1m", Start: time.Now(), End: time.Now()}

	_, err := client.GetKlines(context.Background(), req)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != -1003 || !apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v, want code -1003 retryable", apiErr)
	}

	status = http.StatusBadRequest
	_, err = client.GetKlines(context.Background(), req)
	if !errors.As(err, &apiErr) || apiErr.IsRetryable() {
		t.Errorf("400 should not be retryable: %v", err)
	}
}

// go test -v --run TestGetSymbols
func TestGetSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","quoteAsset":"BTC"},
			{"symbol":"OLDUSDT","status":"BREAK","quoteAsset":"USDT"},
			{"symbol":"ETHUSDT","status":"TRADING","quoteAsset":"USDT"}
		]}`))
	}))
	defer srv.Close()

	client := NewRESTClient(5*time.Second, zap.NewNop(), WithBaseURL(kline.Spot, srv.URL))
	symbols, err := client.GetSymbols(context.Background(), kline.Spot, "usdt")
	if err != nil {
		t.Fatalf("GetSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v", symbols)
	}
}

// go test -v --run TestGetFundingRatesSpotUnsupported
func TestGetFundingRatesSpotUnsupported(t *testing.T) {
	client := NewRESTClient(time.Second, zap.NewNop())
	_, err := client.GetFundingRates(context.Background(), kline.Spot, "BTCUSDT", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}
