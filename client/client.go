// Package client talks to a running ptyhost over its invoke API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/owenthereal/ptyhost/host/api"
)

const (
	DefaultMaxRetries = 20
	DefaultRetryDelay = 100 * time.Millisecond
)

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*Client)

// WithDialer replaces the TCP dialer, e.g. with memlistener.DialContext.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(addr, token string, opts ...Option) *Client {
	c := &Client{
		addr:   addr,
		token:  token,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.dial != nil {
		transport.DialContext = c.dial
		transport.Proxy = nil
	}
	c.http = &http.Client{Transport: transport}

	return c
}

type Client struct {
	addr  string
	token string
	dial  DialFunc

	http   *http.Client
	logger *slog.Logger
}

func (c *Client) CreateShell(ctx context.Context, directory string) error {
	return c.Invoke(ctx, api.CommandCreateShell, api.CreateShellRequest{Directory: directory}, nil)
}

func (c *Client) Write(ctx context.Context, p []byte) error {
	data := string(p)
	return c.Invoke(ctx, api.CommandWriteToPty, api.WriteRequest{Data: &data}, nil)
}

// Read drains the host's buffered output. It returns nil when nothing was
// buffered.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	var resp api.ReadResponse
	if err := c.Invoke(ctx, api.CommandReadFromPty, api.Empty{}, &resp); err != nil {
		return nil, err
	}

	if resp.Data == nil {
		return nil, nil
	}

	return []byte(*resp.Data), nil
}

func (c *Client) Resize(ctx context.Context, rows, cols uint16) error {
	r, co := int(rows), int(cols)
	return c.Invoke(ctx, api.CommandResizePty, api.ResizeRequest{Rows: &r, Cols: &co}, nil)
}

// Invoke calls command with req as its JSON body and decodes the result into
// resp when it is non-nil. A failed command is returned as *api.Error.
func (c *Client) Invoke(ctx context.Context, command string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("error encoding %s request: %w", command, err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("http", "/invoke/"+command).String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+c.token)

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("error invoking %s: %w", command, err)
	}
	defer hresp.Body.Close()

	if hresp.StatusCode != http.StatusOK {
		return decodeError(hresp)
	}

	if resp == nil {
		_, _ = io.Copy(io.Discard, hresp.Body)
		return nil
	}

	if err := json.NewDecoder(hresp.Body).Decode(resp); err != nil {
		return fmt.Errorf("error decoding %s response: %w", command, err)
	}

	return nil
}

func (c *Client) Health(ctx context.Context) (*api.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("http", "/healthz").String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected health status %s", resp.Status)
	}

	var h api.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("error decoding health response: %w", err)
	}

	return &h, nil
}

// WaitReady polls the health endpoint until the host answers.
func (c *Client) WaitReady(ctx context.Context) (*api.Health, error) {
	var h *api.Health
	err := retry.Do(
		func() error {
			var err error
			h, err = c.Health(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(DefaultMaxRetries),
		retry.Delay(DefaultRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("waiting for host", "addr", c.addr, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("host at %s is not ready: %w", c.addr, err)
	}

	return h, nil
}

func (c *Client) url(scheme, path string) *url.URL {
	return &url.URL{Scheme: scheme, Host: c.addr, Path: path}
}

func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Kind == "" {
		return &api.Error{Status: resp.StatusCode, Kind: api.KindInternal, Message: resp.Status}
	}

	return &api.Error{
		Status:  resp.StatusCode,
		Kind:    body.Error.Kind,
		Message: body.Error.Message,
	}
}
