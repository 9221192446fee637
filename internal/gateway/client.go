// Package gateway is the HTTP client for the remote cart and notification
// gateway.
package gateway

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
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/circuitbreaker"
	"github.com/fjod/go_cellar/pkg/logger"
)

// TokenSource yields the bearer token for outgoing calls. It returns
// domain.ErrAuthRequired when no valid token is available.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", domain.ErrAuthRequired
	}
	return string(t), nil
}

type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	breaker  *gobreaker.CircuitBreaker[*response]
	settings circuitbreaker.Settings
	log      *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithBreaker(s circuitbreaker.Settings) Option {
	return func(c *Client) { c.settings = s }
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens:   tokens,
		settings: circuitbreaker.DefaultSettings("gateway"),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.settings.IsFailure == nil {
		c.settings.IsFailure = isNetworkFailure
	}
	c.breaker = circuitbreaker.New[*response](c.settings, c.log)
	return c
}

// StreamURL is the SSE endpoint with the token as query parameter, since
// the push transport cannot carry custom headers.
func (c *Client) StreamURL() (string, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return "", err
	}
	return c.baseURL + "/sse/stream?token=" + url.QueryEscape(token), nil
}

type response struct {
	status int
	body   []byte
}

func isNetworkFailure(err error) bool {
	return errors.Is(err, domain.ErrNetwork)
}

// do sends an authenticated JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var body []byte
	if in != nil {
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrValidation, err)
		}
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, method, path, token, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		}
		logger.WithContext(ctx, c.log).Debug("gateway call failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", domain.ErrNetwork, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code = eb.Code
			switch {
			case eb.Error != "":
				apiErr.Message = eb.Error
			case eb.Message != "":
				apiErr.Message = eb.Message
			}
		}
		return nil, apiErr
	}

	return &response{status: resp.StatusCode, body: data}, nil
}
