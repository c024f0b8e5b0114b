package binance

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"klinecollector/pkg/kline"

	"go.uber.org/zap"
)

// ErrNotFound means the addressed archive object is not published (yet).
// It is an expected outcome, not a failure.
var ErrNotFound = errors.New("archive not found")

// ErrChecksumMismatch means the downloaded archive does not match its published digest.
var ErrChecksumMismatch = errors.New("archive checksum mismatch")

// ArchiveKind is the publication granularity of an archive object.
type ArchiveKind string

const (
	ArchiveMonthly ArchiveKind = "monthly"
	ArchiveDaily   ArchiveKind = "daily"
)

// DefaultArchiveURL is the public Binance data archive.
const DefaultArchiveURL = "https://data.binance.vision"

// archiveSegment is the market part of the archive path.
func archiveSegment(m kline.Market) string {
	switch m {
	case kline.Spot:
		return "spot"
	case kline.USDMFutures:
		return "futures/um"
	case kline.CoinMFutures:
		return "futures/cm"
	}
	panic(fmt.Sprintf("binance: unknown market %d", uint8(m)))
}

// ArchiveURL builds the address of one kline archive, e.g.
//
//	<base>/data/spot/monthly/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01.zip
//	<base>/data/futures/um/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-15.zip
func ArchiveURL(baseURL string, market kline.Market, kind ArchiveKind, symbol, token string, date time.Time) string {
	stamp := date.UTC().Format("2006-01-02")
	if kind == ArchiveMonthly {
		stamp = date.UTC().Format("2006-01")
	}
	symbol = strings.ToUpper(symbol)
	file := fmt.Sprintf("%s-%s-%s.zip", symbol, token, stamp)
	return strings.TrimRight(baseURL, "/") + "/" +
		path.Join("data", archiveSegment(market), string(kind), "klines", symbol, token, file)
}

// ArchiveClient downloads archive objects from the CDN. It does not retry;
// edge failover is the CDN's job.
type ArchiveClient struct {
	httpClient     *http.Client
	verifyChecksum bool
	logger         *zap.Logger
}

// ArchiveOption configures an ArchiveClient.
type ArchiveOption func(*ArchiveClient)

// WithChecksum enables verification against the published .CHECKSUM file.
func WithChecksum(enabled bool) ArchiveOption {
	return func(c *ArchiveClient) {
		c.verifyChecksum = enabled
	}
}

// WithArchiveHTTPClient sets a custom HTTP client.
func WithArchiveHTTPClient(hc *http.Client) ArchiveOption {
	return func(c *ArchiveClient) {
		c.httpClient = hc
	}
}

func NewArchiveClient(timeout time.Duration, logger *zap.Logger, opts ...ArchiveOption) *ArchiveClient {
	c := &ArchiveClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the object at address. A 404 yields ErrNotFound.
func (c *ArchiveClient) Fetch(ctx context.Context, address string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("archive error %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// FetchRows downloads, optionally verifies, and decompresses one archive
// into raw CSV rows.
func (c *ArchiveClient) FetchRows(ctx context.Context, address string) ([][]string, error) {
	body, err := c.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	if c.verifyChecksum {
		if err := c.verify(ctx, address, body); err != nil {
			return nil, err
		}
	}

	rows, err := ReadArchive(body)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", address, err)
	}
	return rows, nil
}

func (c *ArchiveClient) verify(ctx context.Context, address string, body []byte) error {
	sumFile, err := c.Fetch(ctx, address+".CHECKSUM")
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("no checksum published", zap.String("address", address))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching checksum: %w", err)
	}

	want, err := parseChecksum(sumFile)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); got != want {
		return fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, got, want)
	}
	return nil
}

// parseChecksum reads a "<sha256>  <file>" line.
func parseChecksum(b []byte) (string, error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum file: %q", strings.TrimSpace(string(b)))
	}
	return strings.ToLower(fields[0]), nil
}

// ReadArchive decompresses a zip body and returns the rows of its CSV member.
func ReadArchive(body []byte) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()

		r := csv.NewReader(rc)
		r.FieldsPerRecord = -1 // the normalizer decides what a valid width is
		r.ReuseRecord = false
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return rows, nil
	}
	return nil, errors.New("zip has no csv member")
}
