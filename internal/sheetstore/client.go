package sheetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeout is returned when the store does not answer within the
	// configured deadline.
	ErrTimeout = errors.New("location store request timed out")

	// ErrUnavailable is returned for network failures and store-side errors.
	ErrUnavailable = errors.New("location store unavailable")

	// ErrMalformed is returned when the store answers with a body the client
	// cannot use.
	ErrMalformed = errors.New("malformed location store response")

	// ErrRowNotFound is returned by write operations when no sheet row carries
	// the requested (product, spec) key.
	ErrRowNotFound = errors.New("no sheet row for product/spec key")
)

// rowNotFoundMarker is the prefix the store backend puts in its error message
// when a write misses; there is no structured code on the wire.
const rowNotFoundMarker = "找不到商品"

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client talks to the spreadsheet-backed location store over its HTTP
// contract. One transport only; every request carries a correlation id and a
// bounded deadline, released on all exit paths.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5),
		logger:     logger.With("component", "sheetstore"),
	}
}

// response is the store's uniform envelope. Which payload fields are set
// depends on the action.
type response struct {
	Success     bool    `json:"success"`
	Data        [][]any `json:"data,omitempty"`
	Error       string  `json:"error,omitempty"`
	UpdatedRow  int     `json:"updatedRow,omitempty"`
	ClearedRow  int     `json:"clearedRow,omitempty"`
	UpdatedRows []int   `json:"updatedRows,omitempty"`
}

// FetchTable reads the full location table for one sheet. The returned data
// still contains the sheet header as row 0; consumers must drop it. The store
// pre-filters rows whose quantity column is blank or non-numeric.
func (c *Client) FetchTable(ctx context.Context, sheetID string) ([][]string, error) {
	params := url.Values{}
	params.Set("action", "read")
	params.Set("sheetId", sheetID)

	resp, err := c.do(ctx, params)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrMalformed)
	}

	rows := make([][]string, len(resp.Data))
	for i, raw := range resp.Data {
		row := make([]string, len(raw))
		for j, v := range raw {
			row[j] = cellString(v)
		}
		rows[i] = row
	}

	c.logger.Info("fetched location table", "sheet_id", sheetID, "rows", len(rows)-1)
	return rows, nil
}

// UpdateCell writes one cell on the sheet row keyed by (productName,
// specName). Returns the 1-based sheet row that was updated.
func (c *Client) UpdateCell(ctx context.Context, sheetID, productName, specName, column, value string) (int, error) {
	params := url.Values{}
	params.Set("action", "update")
	params.Set("sheetId", sheetID)
	params.Set("productName", productName)
	params.Set("specName", specName)
	params.Set("column", column)
	params.Set("value", value)

	resp, err := c.do(ctx, params)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, writeError(resp.Error)
	}
	return resp.UpdatedRow, nil
}

// ClearCells clears the maintenance columns on the sheet row keyed by
// (productName, specName).
func (c *Client) ClearCells(ctx context.Context, sheetID, productName, specName string) (int, error) {
	params := url.Values{}
	params.Set("action", "clear")
	params.Set("sheetId", sheetID)
	params.Set("productName", productName)
	params.Set("specName", specName)

	resp, err := c.do(ctx, params)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, writeError(resp.Error)
	}
	return resp.ClearedRow, nil
}

// BatchUpdate writes several columns at once on every sheet row matching the
// (productName, specName) key. Returns the updated row numbers.
func (c *Client) BatchUpdate(ctx context.Context, sheetID, productName, specName string, updates map[string]string) ([]int, error) {
	encoded, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updates: %w", err)
	}

	params := url.Values{}
	params.Set("action", "batchUpdate")
	params.Set("sheetId", sheetID)
	params.Set("productName", productName)
	params.Set("specName", specName)
	params.Set("updates", string(encoded))

	resp, err := c.do(ctx, params)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, writeError(resp.Error)
	}
	return resp.UpdatedRows, nil
}

func (c *Client) do(ctx context.Context, params url.Values) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	rid := uuid.New().String()
	params.Set("rid", rid)
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build store request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("store request timed out", "rid", rid, "action", params.Get("action"))
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c.logger.Debug("store request complete",
		"rid", rid,
		"action", params.Get("action"),
		"success", out.Success,
		"elapsed", time.Since(start),
	)
	return &out, nil
}

func writeError(msg string) error {
	if strings.Contains(msg, rowNotFoundMarker) {
		return fmt.Errorf("%w: %s", ErrRowNotFound, msg)
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, msg)
}

// cellString renders one sheet cell as text. Numbers come off the wire as
// float64; integral values must not grow a decimal point.
func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
