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
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/supports/pkg/proto"
)

// ErrNotFound is returned when the server has nothing for the request
var ErrNotFound = errors.New("not found")

// Client is an HTTP client for the supports daemon
type Client struct {
	baseURL         string
	httpClient      *http.Client
	headers         http.Header
	websocketDialer *websocket.Dialer
	timeout         time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithHeaders sets additional HTTP headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new client for the daemon at baseURL
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	client := &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		headers:         headers,
		websocketDialer: websocket.DefaultDialer,
		timeout:         10 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Post posts a notification and returns how many observers received it
func (c *Client) Post(ctx context.Context, name, object string, payload map[string]any) (int, error) {
	var posted proto.PostResponse
	body := proto.PostRequest{Object: object, Payload: payload}

	if err := c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(name), body, &posted); err != nil {
		return 0, err
	}
	return posted.Delivered, nil
}

// Last returns the most recent notification posted under name, or ErrNotFound
func (c *Client) Last(ctx context.Context, name string) (*proto.Notification, error) {
	var n proto.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications/"+url.PathEscape(name)+"/last", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Observers returns the server's observer count per notification name
func (c *Client) Observers(ctx context.Context) (*proto.ObserversResponse, error) {
	var observers proto.ObserversResponse
	if err := c.do(ctx, http.MethodGet, "/observers", nil, &observers); err != nil {
		return nil, err
	}
	return &observers, nil
}

// envelope mirrors the server's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do makes an HTTP request and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u = u.JoinPath(path)

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, resp.Status)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if env.Error != nil {
			return fmt.Errorf("API error (%d): %s: %s", resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, resp.Status)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// streamURL builds the WebSocket URL for observing name, optionally narrowed to object
func (c *Client) streamURL(name, object string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u = u.JoinPath("/stream")
	q := u.Query()
	if name != "" {
		q.Set("name", name)
	}
	if object != "" {
		q.Set("object", object)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
