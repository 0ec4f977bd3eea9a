// Package zkverifier calls the external service that checks zero-knowledge
// mdoc presentations.
package zkverifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 10 * time.Second
	maxResponse    = 1 << 20
)

type Result struct {
	Status bool                   `json:"status"`
	Claims map[string]interface{} `json:"claims"`
}

// FlatClaims lifts claims grouped by namespace to the top level. Top level
// claims win over nested ones of the same name.
func (r *Result) FlatClaims() map[string]interface{} {
	out := map[string]interface{}{}
	var nested []string
	for k, v := range r.Claims {
		if _, ok := v.(map[string]interface{}); ok {
			nested = append(nested, k)
			continue
		}
		out[k] = v
	}
	sort.Strings(nested)
	for _, ns := range nested {
		for k, v := range r.Claims[ns].(map[string]interface{}) {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns a client for the verifier at url. Each call is bounded by
// timeout and never retried.
func New(url string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify posts the decrypted authorization response payload. Every failure
// is reported as mdoc.ReasonUpstreamService.
func (c *Client) Verify(ctx context.Context, payload map[string]interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonUpstreamService, err, "failed to encode zk payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonUpstreamService, err, "failed to create zk request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonUpstreamService, err, "failed to call zk verifier")
	}
	defer resp.Body.Close()

	c.logger.Debug("zk verifier responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mdoc.NewError(mdoc.ReasonUpstreamService, "zk verifier returned HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonUpstreamService, err, "failed to read zk response")
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonUpstreamService, err, "failed to parse zk response")
	}
	if result.Claims == nil {
		result.Claims = map[string]interface{}{}
	}
	return &result, nil
}
