// Package api is the typed HTTP client for the remote portal API, the
// system of record behind the scheduling core.
package api

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

	"github.com/rs/zerolog"
)

// TokenFunc supplies the bearer token for each request. The token is owned
// by the session context, not by this client.
type TokenFunc func() string

type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, token TokenFunc, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// probe is the minimal envelope every response carries.
type probe struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// do issues one request and decodes the full response body into out (when
// non-nil). Failures come back as *Error with the kind derived from the
// status code and the server message passed through.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if t := c.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Message: "portal api unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Status: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	var p probe
	structured := json.Unmarshal(data, &p) == nil

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (structured && !p.Success) {
		apiErr := &Error{Status: resp.StatusCode}
		if structured {
			apiErr.Message = p.Message
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			apiErr.Kind = KindNotFound
		case resp.StatusCode == http.StatusConflict:
			apiErr.Kind = KindConflict
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			apiErr.Kind = KindAuth
		case structured:
			apiErr.Kind = KindValidation
		default:
			apiErr.Kind = KindTransport
		}
		return apiErr
	}

	if !structured {
		return &Error{Kind: KindTransport, Status: resp.StatusCode, Message: "unexpected response body"}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindTransport, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
		}
	}
	return nil
}
