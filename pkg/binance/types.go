package binance

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupported is returned for endpoints a market does not offer.
var ErrUnsupported = errors.New("not supported for market")

// APIError represents a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Code       int    // Binance error code, e.g. -1121
	Message    string // Binance "msg" or the HTTP status text
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated later:
// rate limiting (429), IP ban back-off (418) and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot || e.StatusCode >= 500
}

// errorBody is the error envelope: {"code":-1121,"msg":"Invalid symbol."}
type errorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ExchangeInfoResponse is the subset of exchangeInfo used for symbol discovery.
type ExchangeInfoResponse struct {
	Symbols []struct {
		Symbol         string `json:"symbol"`         // e.g., "BTCUSDT"
		Status         string `json:"status"`         // spot/um: "TRADING"
		ContractStatus string `json:"contractStatus"` // cm: "TRADING"
		ContractType   string `json:"contractType"`   // futures only, e.g. "PERPETUAL"
		BaseAsset      string `json:"baseAsset"`
		QuoteAsset     string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FundingRate is one settlement from the funding history endpoint.
type FundingRate struct {
	Symbol      string `json:"symbol"`
	FundingTime int64  `json:"fundingTime"` // ms since epoch
	FundingRate string `json:"fundingRate"`
	MarkPrice   string `json:"markPrice"`
}
