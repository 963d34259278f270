package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the Binance spot REST endpoint.
	DefaultBaseURL = "https://api.binance.com"
	// TestnetBaseURL is the Binance spot testnet REST endpoint.
	TestnetBaseURL = "https://testnet.binance.vision"

	defaultTimeout    = 10 * time.Second
	defaultRecvWindow = 5 * time.Second
)

// Client talks to the Binance spot REST API. It serves as price oracle, lot rule source and,
// when credentials are set, as an order venue.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	http       *http.Client
	log        zerolog.Logger
	recvWindow time.Duration
	now        func() time.Time
}

// ClientOption configures Client construction parameters.
type ClientOption func(*Client)

// WithCredentials sets the API key pair used for signed endpoints.
func WithCredentials(key, secret string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
		c.apiSecret = secret
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRecvWindow overrides the signed request validity window.
func WithRecvWindow(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.recvWindow = d
		}
	}
}

// NewClient builds a REST client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, log zerolog.Logger, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		log:        log,
		recvWindow: defaultRecvWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is the error payload Binance returns alongside non-2xx statuses.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) signedPost(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return fmt.Errorf("binance credentials not configured")
	}
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	payload := params.Encode()
	body := payload + "&signature=" + sign(c.apiSecret, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
