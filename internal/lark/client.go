// Package lark is the HTTP gateway to the Lark open platform: OAuth token
// exchange and Bitable record search.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bitable-report/internal/domain"
)

// DefaultBaseURL is the international open-platform host.
const DefaultBaseURL = "https://open.larksuite.com"

// Config configures a Client.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	// QPS caps outbound requests per second across all callers. Zero
	// disables the cap.
	QPS        float64
	HTTPClient *http.Client
}

// Client issues JSON requests to the open platform. Every response carries
// an envelope {code, msg, data}; a non-zero code is a *domain.GatewayError.
type Client struct {
	baseURL   string
	appID     string
	appSecret string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), max(1, int(cfg.QPS)))
	}
	return &Client{
		baseURL:   base,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		http:      hc,
		limiter:   limiter,
		logger:    logger,
	}
}

// envelope is the common response wrapper. Token endpoints put their
// payload at the top level instead of under data, so the raw body is kept.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call performs one request. body is JSON-encoded when non-nil; the
// envelope's data (or the whole body when raw is set) is decoded into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, bearer string, body, out any, raw bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", op, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &domain.GatewayError{Op: op, Status: resp.StatusCode, Code: -1, Msg: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	if out == nil {
		return nil
	}
	src := []byte(env.Data)
	if raw {
		src = payload
	}
	if len(src) == 0 || string(src) == "null" {
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Code: env.Code, Msg: "empty response data"}
	}
	if err := json.Unmarshal(src, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}
