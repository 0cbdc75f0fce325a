// Package client talks to a running shq daemon over its unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/protocol"
)

// The host part is ignored; every connection goes to the socket.
const baseURL = "http://shq"

const defaultTimeout = 30 * time.Second

// Client sends requests to the daemon. It is safe for concurrent use.
type Client struct {
	socketPath string
	secret     string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithSecret sends the shared secret with every request.
func WithSecret(secret string) Option {
	return func(c *Client) { c.secret = secret }
}

// WithTimeout bounds each round trip. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the daemon listening on socketPath.
func New(socketPath string, opts ...Option) *Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    1,
		IdleConnTimeout: 30 * time.Second,
	}
	c := &Client{
		socketPath: socketPath,
		http:       &http.Client{Transport: transport, Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers one request and returns the daemon's response. A Failure
// response is returned as a classified error carrying the daemon's category,
// so callers can tell rejections apart.
func (c *Client) Send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	body, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	data, _, err := c.do(ctx, http.MethodPost, protocol.MessagePath, body)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		return nil, err
	}
	if f, ok := resp.(protocol.Failure); ok {
		return nil, FailureError(f)
	}
	return resp, nil
}

// History fetches the task history kept by the daemon's event store.
func (c *Client) History(ctx context.Context) ([]*eventstore.TaskHistory, error) {
	data, status, err := c.do(ctx, http.MethodGet, protocol.HistoryPath, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, httpError(status, data)
	}
	var history []*eventstore.TaskHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, "invalid history response").Build()
	}
	return history, nil
}

// Health returns the daemon's reported status, such as "running".
func (c *Client) Health(ctx context.Context) (string, error) {
	data, _, err := c.do(ctx, http.MethodGet, protocol.HealthPath, nil)
	if err != nil {
		return "", err
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &health); err != nil {
		return "", errors.WrapError(err, errors.CategoryProtocol, "invalid health response").Build()
	}
	return health.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, 0, errors.WrapError(err, errors.CategoryInternal, "failed to build request").Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(protocol.SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, c.connectError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.WrapError(err, errors.CategoryDaemon, "failed to read daemon response").Build()
	}
	return data, resp.StatusCode, nil
}

func (c *Client) connectError(err error) error {
	msg := "failed to reach daemon"
	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Op == "dial" {
		msg = "daemon is not running"
	}
	return errors.WrapError(err, errors.CategoryDaemon, msg).
		WithContext("socket", c.socketPath).
		Build()
}

// FailureError turns a Failure response back into a classified error.
func FailureError(f protocol.Failure) error {
	b := errors.NewError(errors.ErrorCategory(f.Code), f.Message)
	if len(f.Details) > 0 {
		b = b.WithContextMap(errors.ErrorContext(f.Details))
	}
	return b.Build()
}

func httpError(status int, data []byte) error {
	var payload errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return errors.ProtocolError(fmt.Sprintf("daemon answered with HTTP %d", status)).Build()
	}
	category := errors.ErrorCategory(payload.Code)
	if category == "" {
		category = errors.CategoryInternal
	}
	return errors.NewError(category, payload.Error).Build()
}
