// Package ariel is a small client for the QRadar Ariel search API.
package ariel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// snapshotLimit caps the raw body kept on errors.
const snapshotLimit = 2048

// Config holds console connection settings.
type Config struct {
	// Console is the host name, or a full base URL including scheme.
	Console            string
	Token              string
	Version            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to /api/ariel/searches.
type Client struct {
	base *url.URL
	cfg  Config
	// api carries trigger and poll calls and enforces cfg.Timeout.
	api *http.Client
	// stream has no overall timeout; result downloads are bounded by ctx.
	stream *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the configured console.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Console == "" {
		return nil, fmt.Errorf("console is required")
	}
	raw := cfg.Console
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse console url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		base:   base,
		cfg:    cfg,
		api:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		stream: &http.Client{Transport: transport},
		logger: log,
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	path := strings.TrimSuffix(u.Path, "/") + "/api/ariel/searches"
	raw := path
	for _, p := range parts {
		path += "/" + p
		raw += "/" + url.PathEscape(p)
	}
	u.Path, u.RawPath = path, raw
	return u.String()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("SEC", c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Version != "" {
		req.Header.Set("Version", c.cfg.Version)
	}
}

// CreateSearch submits an AQL expression and returns the new search.
func (c *Client) CreateSearch(ctx context.Context, expression string) (*Search, error) {
	target := c.endpoint() + "?" + url.Values{"query_expression": {expression}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s, err := c.doSearch(req)
	if err != nil {
		return nil, err
	}
	if s.CursorID == "" {
		return nil, fmt.Errorf("%w: search created without cursor_id", ErrMalformedResponse)
	}
	return s, nil
}

// GetSearch fetches the current status of a search.
func (c *Client) GetSearch(ctx context.Context, cursorID string) (*Search, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(cursorID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s, err := c.doSearch(req)
	if err != nil {
		return nil, err
	}
	if s.Completed == nil {
		return nil, fmt.Errorf("%w: status of %s lacks completed flag", ErrMalformedResponse, cursorID)
	}
	return s, nil
}

// StreamResults opens the result body of a completed search. The caller must
// close the returned reader.
func (c *Client) StreamResults(ctx context.Context, cursorID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(cursorID, "results"), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream results: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

func (c *Client) doSearch(req *http.Request) (*Search, error) {
	c.setHeaders(req)

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, decodeAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var s Search
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrMalformedResponse, err, snapshot(body))
	}
	c.logger.Debug("ariel response",
		"method", req.Method,
		"cursor_id", s.CursorID,
		"status", s.Status,
		"progress", s.Progress,
		"record_count", s.RecordCount)
	return &s, nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, snapshotLimit))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Message
		apiErr.Description = eb.Description
		if apiErr.Message == "" {
			apiErr.Message = eb.HTTPResponse.Message
		}
	}
	return apiErr
}

func snapshot(body []byte) string {
	if len(body) > snapshotLimit {
		return string(body[:snapshotLimit]) + "..."
	}
	return string(body)
}
