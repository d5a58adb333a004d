// Package tabular is a client for the hosted tabular store that exposes
// tables over a PostgREST style HTTP API.
package tabular

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned when the client is missing required settings.
var ErrConfig = errors.New("tabular client misconfigured")

// APIError is a non-retryable error response from the store.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tabular store %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tabular store %d: %s", e.StatusCode, e.Message)
}

// Filter is a single column predicate, encoded as column=op.value.
type Filter struct {
	Column string
	Op     string
	Value  string
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: "eq", Value: fmt.Sprint(value)}
}

// IsNull matches rows where column is null.
func IsNull(column string) Filter {
	return Filter{Column: column, Op: "is", Value: "null"}
}

// In matches rows where column is one of values.
func In(column string, values []int64) Filter {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return Filter{Column: column, Op: "in", Value: "(" + strings.Join(parts, ",") + ")"}
}

// Or joins raw predicates, e.g. Or("assigned_to.is.null", "assigned_to.eq.0").
func Or(predicates ...string) Filter {
	return Filter{Column: "or", Value: "(" + strings.Join(predicates, ",") + ")"}
}

// Options configures the client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	PageSize   int
}

// Client talks to the tabular store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageSize   int
}

const defaultPageSize = 1000

// NewClient builds a client, applying defaults for unset options.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url required", ErrConfig)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		pageSize:   pageSize,
	}, nil
}

// Select decodes matching rows of table into out (a pointer to a slice).
// A limit of zero reads every row. Rows are fetched in pages; the store may
// return fewer rows per page than asked (max-rows), so the exact count it
// reports decides when to stop.
func (c *Client) Select(ctx context.Context, table string, filters []Filter, order string, limit int, out any) error {
	headers := map[string]string{"Prefer": "count=exact"}
	var rows []json.RawMessage
	for {
		want := c.pageSize
		if limit > 0 && limit-len(rows) < want {
			want = limit - len(rows)
		}
		query := encodeFilters(filters)
		query.Set("select", "*")
		if order != "" {
			query.Set("order", order)
		}
		query.Set("limit", strconv.Itoa(want))
		if len(rows) > 0 {
			query.Set("offset", strconv.Itoa(len(rows)))
		}
		resp, err := c.do(ctx, http.MethodGet, table, query, nil, headers)
		if err != nil {
			return err
		}
		var page []json.RawMessage
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return err
		}
		rows = append(rows, page...)

		if len(page) == 0 || (limit > 0 && len(rows) >= limit) {
			break
		}
		if total, err := parseContentRangeTotal(resp.header.Get("Content-Range")); err == nil {
			if len(rows) >= total {
				break
			}
			continue
		}
		// Without a reported total only a short page marks the end.
		if len(page) < want {
			break
		}
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

// Count returns the number of matching rows.
func (c *Client) Count(ctx context.Context, table string, filters []Filter) (int, error) {
	query := encodeFilters(filters)
	query.Set("select", "id")
	headers := map[string]string{"Prefer": "count=exact", "Range": "0-0"}
	resp, err := c.do(ctx, http.MethodGet, table, query, nil, headers)
	if err != nil {
		return 0, err
	}
	return parseContentRangeTotal(resp.header.Get("Content-Range"))
}

// Update patches matching rows and returns how many rows changed.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, values map[string]any) (int, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: update without filters", ErrConfig)
	}
	headers := map[string]string{"Prefer": "return=representation"}
	resp, err := c.do(ctx, http.MethodPatch, table, encodeFilters(filters), values, headers)
	if err != nil {
		return 0, err
	}
	return countRows(resp.body)
}

// Insert creates a row.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	_, err := c.do(ctx, http.MethodPost, table, url.Values{}, row, map[string]string{"Prefer": "return=minimal"})
	return err
}

// Upsert creates or merges a row on the given conflict columns.
func (c *Client) Upsert(ctx context.Context, table string, row any, onConflict string) error {
	query := url.Values{}
	if onConflict != "" {
		query.Set("on_conflict", onConflict)
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	_, err := c.do(ctx, http.MethodPost, table, query, row, headers)
	return err
}

// Delete removes matching rows and returns how many were removed.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) (int, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: delete without filters", ErrConfig)
	}
	headers := map[string]string{"Prefer": "return=representation"}
	resp, err := c.do(ctx, http.MethodDelete, table, encodeFilters(filters), nil, headers)
	if err != nil {
		return 0, err
	}
	return countRows(resp.body)
}

// Ping checks the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "", url.Values{}, nil, nil)
	return err
}

type response struct {
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, payload any, headers map[string]string) (*response, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil client", ErrConfig)
	}
	var bodyBytes []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(table, "/")
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("apikey", c.apiKey)
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return &response{header: resp.Header, body: respBody}, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				apiErr.Code = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				apiErr.Message = message
			}
		}
		return nil, apiErr
	}
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds >= 0 {
		delay := time.Duration(seconds) * time.Second
		if delay > c.maxDelay {
			return c.maxDelay
		}
		return delay
	}
	delay := c.baseDelay << (attempt - 1)
	if delay <= 0 || delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeFilters(filters []Filter) url.Values {
	values := url.Values{}
	for _, f := range filters {
		if f.Column == "or" {
			values.Add("or", f.Value)
			continue
		}
		values.Add(f.Column, f.Op+"."+f.Value)
	}
	return values
}

func countRows(body []byte) (int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// parseContentRangeTotal reads the total from "0-0/42" or "*/0".
func parseContentRangeTotal(header string) (int, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("missing content-range total: %q", header)
	}
	total := strings.TrimSpace(header[idx+1:])
	if total == "*" {
		return 0, fmt.Errorf("store did not report a count")
	}
	return strconv.Atoi(total)
}
