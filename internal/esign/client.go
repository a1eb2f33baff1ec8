// Package esign is a small client for the e-signature platform that filled
// forms are exported to.
package esign

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an e-signature platform API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// NewClient creates a new e-signature API client.
// baseURL is the platform URL; apiKey is the bearer token.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Recipient is the person asked to sign.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EnvelopeRequest creates a signing envelope around one PDF document.
type EnvelopeRequest struct {
	Name           string    `json:"name"`
	DocumentBase64 string    `json:"document_base64"`
	Recipient      Recipient `json:"recipient"`
}

// Envelope is the platform's record of a signing request.
type Envelope struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateEnvelope uploads the filled PDF and requests a signature.
func (c *Client) CreateEnvelope(ctx context.Context, name string, pdf []byte, recipient Recipient) (*Envelope, error) {
	req := EnvelopeRequest{
		Name:           name,
		DocumentBase64: base64.StdEncoding.EncodeToString(pdf),
		Recipient:      recipient,
	}
	var env Envelope
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/envelopes", req, &env); err != nil {
		return nil, wrapError(err, "CreateEnvelope")
	}
	return &env, nil
}

// GetEnvelope fetches the current status of a signing envelope.
func (c *Client) GetEnvelope(ctx context.Context, id string) (*Envelope, error) {
	var env Envelope
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/envelopes/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, wrapError(err, "GetEnvelope")
	}
	return &env, nil
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	// Keep any path prefix of the base URL (e.g. a tenant segment).
	u = u.JoinPath(path)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(msg)),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
