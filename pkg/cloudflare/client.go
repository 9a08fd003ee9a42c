// Package cloudflare talks to the Cloudflare v4 REST API and reconciles
// discovered hostnames into DNS records.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Record is the provider-facing DNS record payload.
type Record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
	Comment string `json:"comment,omitempty"`
}

// APIError is a non-success answer from the provider.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudflare: %s (code %d, http %d)", e.Message, e.Code, e.StatusCode)
}

// IsRateLimited reports whether err is a provider rate-limit answer, matching
// on HTTP 429 as well as the message the provider historically used.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || strings.Contains(apiErr.Message, "Rate limited")
}

// API is the record surface the reconciler needs. Tests inject fakes.
type API interface {
	DNSRecords(ctx context.Context, zoneID, name string) ([]Record, error)
	CreateDNSRecord(ctx context.Context, zoneID string, rec Record) error
	UpdateDNSRecord(ctx context.Context, zoneID, recordID string, rec Record) error
}

type Client struct {
	baseURL    string
	token      string
	email      string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithBaseURL points the client at a different endpoint. Intended for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient builds a Cloudflare client. With an email the legacy "global"
// authentication headers are used; without one the token is sent as a scoped
// Bearer token.
func NewClient(token, email string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		email:      email,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

// DNSRecords lists the records whose name equals name in the given zone.
func (c *Client) DNSRecords(ctx context.Context, zoneID, name string) ([]Record, error) {
	path := fmt.Sprintf("/zones/%s/dns_records?name=%s", zoneID, url.QueryEscape(name))
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, errors.Wrap(err, "invalid dns records payload")
	}
	return records, nil
}

func (c *Client) CreateDNSRecord(ctx context.Context, zoneID string, rec Record) error {
	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
	_, err := c.do(ctx, http.MethodPost, path, rec)
	return err
}

func (c *Client) UpdateDNSRecord(ctx context.Context, zoneID, recordID string, rec Record) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	_, err := c.do(ctx, http.MethodPut, path, rec)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.email != "" {
		req.Header.Set("X-Auth-Email", c.email)
		req.Header.Set("X-Auth-Key", c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: read body", method, path)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, errors.Wrapf(err, "%s %s: invalid response", method, path)
	}
	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(env.Errors) > 0 {
			apiErr.Code = env.Errors[0].Code
			apiErr.Message = env.Errors[0].Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return &env, nil
}
