package rovas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/rovas-connector/internal/metrics"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

const (
	ProductionBaseURL  = "https://rovas.app"
	DevelopmentBaseURL = "https://dev.merit.world"

	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "rovas-connector"

	maxResponseBytes = 1 << 20
)

// Transport sends one request to a Rovas endpoint and returns its result field.
type Transport interface {
	Post(ctx context.Context, endpoint Endpoint, creds Credentials, body any) (Value, error)
}

// Config configures a Client.
type Config struct {
	BaseURL   string        // overrides the production/development URL when set
	Developer bool          // use DevelopmentBaseURL
	Timeout   time.Duration // applied separately to connect and to reading the response
	UserAgent string
}

// Client talks to the Rovas rules-proxy API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	logger    zerolog.Logger
}

var _ Transport = (*Client)(nil)

// NewClient creates an API client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = ProductionBaseURL
		if cfg.Developer {
			raw = DevelopmentBaseURL
		}
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   2 * timeout,
		},
		userAgent: userAgent,
		logger:    logger.With().Str("component", "rovas-api").Logger(),
	}, nil
}

// BaseURL returns the server root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// NodeURL returns the web address of a Rovas node such as a work report.
func (c *Client) NodeURL(id int64) string {
	return fmt.Sprintf("%s/node/%d", c.BaseURL(), id)
}

// Post sends body as JSON to endpoint and returns the endpoint's result field. The
// returned Value always converts with Int; anything else is a decode failure.
func (c *Client) Post(ctx context.Context, endpoint Endpoint, creds Credentials, body any) (Value, error) {
	target := c.BaseURL() + endpoint.Path()
	start := time.Now()

	value, err := c.post(ctx, endpoint, target, creds, body)

	metrics.APIRequestDuration.WithLabelValues(endpoint.String()).Observe(time.Since(start).Seconds())
	outcome := "ok"
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		outcome = apiErr.Kind.String()
	}
	metrics.APIRequestsTotal.WithLabelValues(endpoint.String(), outcome).Inc()

	return value, err
}

func (c *Client) post(ctx context.Context, endpoint Endpoint, target string, creds Credentials, body any) (Value, error) {
	fail := func(kind ErrorKind, status int, err error) (Value, error) {
		return Value{}, &APIError{Kind: kind, Endpoint: endpoint, URL: target, Status: status, Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fail(KindConnectionFailure, 0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fail(KindConnectionFailure, 0, err)
	}
	req.Header.Set("API-KEY", creds.APIKey())
	req.Header.Set("TOKEN", creds.APIToken())
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug().
		Str("endpoint", endpoint.String()).
		Str("url", target).
		RawJSON("body", payload).
		Msg("Sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint.String()).Msg("Request failed")
		return fail(KindConnectionFailure, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn().Str("endpoint", endpoint.String()).Msg("Credentials rejected")
		return fail(KindUnauthorized, resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().
			Str("endpoint", endpoint.String()).
			Int("status", resp.StatusCode).
			Msg("Unexpected response status")
		return fail(KindConnectionFailure, resp.StatusCode, nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(KindConnectionFailure, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug().
		Str("endpoint", endpoint.String()).
		Int("status", resp.StatusCode).
		Bytes("body", raw).
		Msg("Received response")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.reportDefect(endpoint, raw, err)
		return fail(KindDecodeResponse, resp.StatusCode, err)
	}

	value := ParseValue(fields[endpoint.ResultField()])
	if _, ok := value.Int(); !ok {
		err := fmt.Errorf("field %q is not an integer: %s", endpoint.ResultField(), value)
		c.reportDefect(endpoint, raw, err)
		return fail(KindDecodeResponse, resp.StatusCode, err)
	}

	return value, nil
}

func (c *Client) reportDefect(endpoint Endpoint, body []byte, err error) {
	c.logger.Error().
		Err(err).
		Str("endpoint", endpoint.String()).
		Bytes("body", body).
		Bool("report_as_bug", true).
		Msg("Can't decode server response")
}
