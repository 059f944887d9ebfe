// Package client is a small Algolia REST client: JSON over HTTPS with
// API-key headers, separate read and write hosts and host failover.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
	esclient "github.com/ncobase/nsearch/data/elasticsearch/client"
	"github.com/ncobase/nsearch/data/search"
)

const (
	HeaderApplicationID = "X-Algolia-Application-Id"
	HeaderAPIKey        = "X-Algolia-API-Key"

	// maxResponseSize bounds the body read from one response
	maxResponseSize = 64 << 20
)

// Error is a non-2xx response
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Host    string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("algolia: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, 0 when none
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Client talks to one Algolia application
type Client struct {
	appID      string
	apiKey     string
	readHosts  []string
	writeHosts []string
	http       *http.Client
}

// NewClient creates a client for cfg. Configured hosts replace the
// application's default hosts for both reads and writes.
func NewClient(cfg *search.EngineConfig) (*Client, error) {
	if cfg == nil || cfg.AppID == "" {
		return nil, &search.ConfigurationError{Engine: search.Algolia, Field: "app_id", Reason: "no application id configured"}
	}
	if err := search.RequireAPIKey(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		appID:  cfg.AppID,
		apiKey: cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.RequestTimeout(),
			Transport: esclient.HTTPTransport(cfg),
		},
	}
	if len(cfg.Hosts) > 0 && cfg.Hosts[0] != "" {
		for _, h := range cfg.Hosts {
			c.readHosts = append(c.readHosts, baseURL(h))
		}
		c.writeHosts = c.readHosts
		return c, nil
	}

	app := strings.ToLower(cfg.AppID)
	fallback := []string{
		"https://" + app + "-1.algolianet.com",
		"https://" + app + "-2.algolianet.com",
		"https://" + app + "-3.algolianet.com",
	}
	c.readHosts = append([]string{"https://" + app + "-dsn.algolia.net"}, fallback...)
	c.writeHosts = append([]string{"https://" + app + ".algolia.net"}, fallback...)
	return c, nil
}

func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host
}

// AppID returns the application id
func (c *Client) AppID() string { return c.appID }

// ReadHosts returns the hosts tried in order for reads
func (c *Client) ReadHosts() []string { return c.readHosts }

// WriteHosts returns the hosts tried in order for writes
func (c *Client) WriteHosts() []string { return c.writeHosts }

// Path joins escaped segments under /1
func Path(segments ...string) string {
	var b strings.Builder
	b.WriteString("/1")
	for _, s := range segments {
		b.WriteByte('/')
		if s == "*" {
			b.WriteString(s)
			continue
		}
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Read sends a request to the read hosts. params is a struct with url
// tags encoded into the query string; body is sent as JSON; out receives
// the decoded response.
func (c *Client) Read(ctx context.Context, method, path string, params, body, out any) error {
	return c.do(ctx, c.readHosts, method, path, params, body, out)
}

// Write sends a request to the write hosts
func (c *Client) Write(ctx context.Context, method, path string, params, body, out any) error {
	return c.do(ctx, c.writeHosts, method, path, params, body, out)
}

func (c *Client) do(ctx context.Context, hosts []string, method, path string, params, body, out any) error {
	target := path
	if params != nil {
		values, err := query.Values(params)
		if err != nil {
			return fmt.Errorf("algolia: failed to encode parameters: %w", err)
		}
		if qs := values.Encode(); qs != "" {
			target += "?" + qs
		}
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("algolia: failed to encode request: %w", err)
		}
	}

	var lastErr error
	for _, host := range hosts {
		data, status, err := c.send(ctx, method, host+target, payload)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			lastErr = err
			continue
		}
		if status >= http.StatusInternalServerError {
			lastErr = apiError(status, data, host)
			continue
		}
		if status >= http.StatusMultipleChoices {
			return apiError(status, data, host)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("algolia: failed to decode response: %w", err)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("algolia: no host configured")
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set(HeaderApplicationID, c.appID)
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func apiError(status int, data []byte, host string) *Error {
	e := &Error{}
	if err := json.Unmarshal(data, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(data))
	}
	e.Status = status
	e.Host = host
	return e
}
