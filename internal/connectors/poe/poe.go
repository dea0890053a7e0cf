// Package poe provides the GraphQL-over-HTTP transport for the Poe chat service.
package poe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiennt/alpaca-playground/internal/connectors"
)

// DefaultEndpoint is the GraphQL endpoint used by the mobile client.
const DefaultEndpoint = "https://www.quora.com/poe_api/gql_POST"

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 60 * time.Second

// staticHeaders mimic the iOS client; the service rejects unknown clients.
var staticHeaders = map[string]string{
	"Host":                         "www.quora.com",
	"Accept":                       "*/*",
	"apollographql-client-version": "1.1.6-65",
	"Accept-Language":              "en-US,en;q=0.9",
	"User-Agent":                   "Poe 1.1.6 rv:65 env:prod (iPhone14,2; iOS 16.2; en_US)",
	"apollographql-client-name":    "com.quora.app.Experts-apollo-ios",
	"Connection":                   "keep-alive",
	"Content-Type":                 "application/json",
}

// Transport implements connectors.Transport against the Poe GraphQL API.
type Transport struct {
	endpoint string
	formKey  string
	cookie   string
	client   *http.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithEndpoint overrides the GraphQL endpoint.
func WithEndpoint(url string) Option {
	return func(t *Transport) {
		if url != "" {
			t.endpoint = url
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// New creates a new Poe transport authenticated by formKey and cookie.
func New(formKey, cookie string, opts ...Option) *Transport {
	t := &Transport{
		endpoint: DefaultEndpoint,
		formKey:  formKey,
		cookie:   cookie,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return "poe"
}

// Do posts the operation and returns the raw response body.
func (t *Transport) Do(ctx context.Context, op connectors.Operation) (json.RawMessage, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op.Name, err)
	}
	for k, v := range staticHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Quora-Formkey", t.formKey)
	req.Header.Set("Cookie", t.cookie)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op.Name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s error (%d): %s", op.Name, resp.StatusCode, string(data))
	}

	return data, nil
}
