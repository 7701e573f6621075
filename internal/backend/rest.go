package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
)

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL string // e.g. https://backend.example.com/rest/v1
	APIKey  string
	Timeout time.Duration
}

// DefaultRESTConfig returns a RESTConfig with a 30 second call timeout.
func DefaultRESTConfig(baseURL, apiKey string) RESTConfig {
	return RESTConfig{BaseURL: baseURL, APIKey: apiKey, Timeout: 30 * time.Second}
}

// RESTClient talks to the backend's PostgREST-style JSON API. Row filters
// use the eq./gt. query operator syntax; inserts ask for the stored
// representation back so the dispatcher can reconcile immediately.
type RESTClient struct {
	cfg  RESTConfig
	http *http.Client
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// BulkRead implements Client.
func (c *RESTClient) BulkRead(ctx context.Context, table string, afterPK int64, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("id", fmt.Sprintf("gt.%d", afterPK))
	q.Set("order", "id.asc")
	q.Set("limit", fmt.Sprintf("%d", limit))

	body, err := c.do(ctx, http.MethodGet, table, q, nil, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackendRead, "bulk read "+table, err)
	}
	return decodeRows(body)
}

// BulkReadView implements Client.
func (c *RESTClient) BulkReadView(ctx context.Context, view string, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))

	body, err := c.do(ctx, http.MethodGet, view, q, nil, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackendRead, "bulk read view "+view, err)
	}
	return decodeRows(body)
}

// Insert implements Client.
func (c *RESTClient) Insert(ctx context.Context, table string, payload interface{}, idemKey string) (json.RawMessage, error) {
	headers := map[string]string{"Prefer": "return=representation"}
	if idemKey != "" {
		headers["Idempotency-Key"] = idemKey
	}

	body, err := c.do(ctx, http.MethodPost, table, nil, payload, headers)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackendWrite, "insert "+table, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.Newf(apperrors.ErrBackendWrite, "insert %s: empty representation", table)
	}
	return rows[0], nil
}

// Update implements Client.
func (c *RESTClient) Update(ctx context.Context, table, pkField string, pk int64, patch interface{}) error {
	q := url.Values{}
	q.Set(pkField, fmt.Sprintf("eq.%d", pk))

	if _, err := c.do(ctx, http.MethodPatch, table, q, patch, nil); err != nil {
		return apperrors.Wrap(apperrors.ErrBackendWrite, "update "+table, err)
	}
	return nil
}

// Delete implements Client.
func (c *RESTClient) Delete(ctx context.Context, table, pkField string, pk int64) error {
	q := url.Values{}
	q.Set(pkField, fmt.Sprintf("eq.%d", pk))

	if _, err := c.do(ctx, http.MethodDelete, table, q, nil, nil); err != nil {
		return apperrors.Wrap(apperrors.ErrBackendWrite, "delete "+table, err)
	}
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, payload interface{}, headers map[string]string) ([]byte, error) {
	u := c.cfg.BaseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet(data))
	}
	return data, nil
}

func decodeRows(body []byte) ([]json.RawMessage, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackendRead, "decode rows", err)
	}
	return rows, nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
