// Package transport is the JSON-RPC client used for live calls against
// running nodes over HTTP, unix sockets and websockets.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Dialect selects the JSON-RPC envelope.
type Dialect string

const (
	// JSONRPC1 is Bitcoin Core's envelope: positional params, "1.0".
	JSONRPC1 Dialect = "jsonrpc1"
	// JSONRPC2 is the 2.0 envelope with named params.
	JSONRPC2 Dialect = "jsonrpc2"
)

// DefaultTimeout applies when neither the config nor the context sets one.
const DefaultTimeout = 30 * time.Second

// Config describes how to reach a node.
type Config struct {
	Endpoint string
	User     string
	Password string
	Timeout  time.Duration
	Dialect  Dialect
}

// ConfigFromEnv reads PREFIX_URL, PREFIX_USER, PREFIX_PASSWORD and
// PREFIX_TIMEOUT. Missing variables leave fields empty.
func ConfigFromEnv(prefix string, dialect Dialect) Config {
	cfg := Config{
		Endpoint: os.Getenv(prefix + "_URL"),
		User:     os.Getenv(prefix + "_USER"),
		Password: os.Getenv(prefix + "_PASSWORD"),
		Dialect:  dialect,
	}
	if raw := os.Getenv(prefix + "_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg
}

// Client performs JSON-RPC calls. It holds no per-call state and is safe for
// concurrent use; every call opens its own request or connection.
type Client struct {
	cfg    Config
	scheme string
	target string
	http   *http.Client
	logger *slog.Logger
}

// New validates cfg and returns a client. Supported endpoint schemes are
// http, https, unix, ws and wss.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport: endpoint is required")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = JSONRPC2
	}
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parse endpoint %q: %w", cfg.Endpoint, err)
	}
	c := &Client{cfg: cfg, scheme: u.Scheme, logger: logger}
	switch u.Scheme {
	case "http", "https":
		c.target = cfg.Endpoint
		c.http = &http.Client{}
	case "unix":
		c.target = u.Path
		if c.target == "" {
			c.target = u.Opaque
		}
	case "ws", "wss":
		c.target = cfg.Endpoint
	default:
		return nil, fmt.Errorf("transport: unsupported endpoint scheme %q", u.Scheme)
	}
	return c, nil
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// Call sends one request and returns the raw result. The context deadline
// bounds the call; when the context has none, the configured timeout (or
// DefaultTimeout) applies.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  c.defaultParams(params),
	}
	if c.cfg.Dialect == JSONRPC1 {
		req.JSONRPC = "1.0"
	}

	start := time.Now()
	var resp *response
	var err error
	switch c.scheme {
	case "http", "https":
		resp, err = c.callHTTP(ctx, req)
	case "unix":
		resp, err = c.callUnix(ctx, req)
	default:
		resp, err = c.callWebsocket(ctx, req)
	}
	c.logger.Debug("rpc call",
		"endpoint", c.cfg.Endpoint,
		"method", method,
		"duration", time.Since(start),
		"error", err)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		resp.Error.Method = method
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &TransportError{Op: "decode", Method: method, Endpoint: c.cfg.Endpoint, Err: ErrMissingResult}
	}
	return resp.Result, nil
}

func (c *Client) defaultParams(params any) any {
	if params != nil {
		return params
	}
	if c.cfg.Dialect == JSONRPC1 {
		return []any{}
	}
	return map[string]any{}
}

func (c *Client) fail(ctx context.Context, op string, method string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &TransportError{Op: op, Method: method, Endpoint: c.cfg.Endpoint, Err: ctx.Err()}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Method: method, Endpoint: c.cfg.Endpoint, Err: err}
	}
	return &TransportError{Op: op, Method: method, Endpoint: c.cfg.Endpoint, Err: err}
}

func (c *Client) callHTTP(ctx context.Context, req request) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "encode", Method: req.Method, Endpoint: c.cfg.Endpoint, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "encode", Method: req.Method, Endpoint: c.cfg.Endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.User != "" {
		httpReq.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.fail(ctx, "dial", req.Method, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.fail(ctx, "read", req.Method, err)
	}

	// Bitcoin Core reports RPC errors with a 500 status and a JSON-RPC body,
	// so the body is decoded before the status is judged.
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, &TransportError{Op: "status", Method: req.Method, Endpoint: c.cfg.Endpoint,
				Err: fmt.Errorf("http %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data)))}
		}
		return nil, &TransportError{Op: "decode", Method: req.Method, Endpoint: c.cfg.Endpoint, Err: err}
	}
	return &resp, nil
}

func (c *Client) callUnix(ctx context.Context, req request) (*response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.target)
	if err != nil {
		return nil, c.fail(ctx, "dial", req.Method, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, c.fail(ctx, "write", req.Method, err)
	}

	dec := json.NewDecoder(conn)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			return nil, c.fail(ctx, "read", req.Method, err)
		}
		// lightningd may interleave notifications; they carry no id.
		if matchesID(resp.ID, req.ID) {
			return &resp, nil
		}
	}
}

func (c *Client) callWebsocket(ctx context.Context, req request) (*response, error) {
	header := http.Header{}
	if c.cfg.User != "" {
		r, _ := http.NewRequest(http.MethodGet, c.target, nil)
		r.SetBasicAuth(c.cfg.User, c.cfg.Password)
		header.Set("Authorization", r.Header.Get("Authorization"))
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.target, header)
	if err != nil {
		return nil, c.fail(ctx, "dial", req.Method, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return nil, c.fail(ctx, "write", req.Method, err)
	}
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			return nil, c.fail(ctx, "read", req.Method, err)
		}
		if matchesID(resp.ID, req.ID) {
			return &resp, nil
		}
	}
}

func matchesID(raw json.RawMessage, id string) bool {
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == id
}
