// Package rpcclient implements engine.Session against a remote JSON-RPC
// engine server.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"enginelink/go-backend/internal/adapters/rpc"
	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/wire"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 16 << 20
	jsonrpcVersion   = "2.0"
	requestIDPrefix  = "enginelink."
)

var ErrStatus = errors.New("unexpected rpc http status")

type Options struct {
	Token string
	// Timeout bounds each call when the caller's context has no deadline.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a remote engine session. It is safe for concurrent use; the
// server serializes calls into its own session.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
	nextID  atomic.Uint64
}

var _ engine.Session = (*Client)(nil)

func New(url string, opts Options) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rpc url is required")
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:     url,
		token:   strings.TrimSpace(opts.Token),
		timeout: timeout,
		http:    httpClient,
	}, nil
}

func (c *Client) Eval(ctx context.Context, script string) error {
	return c.call(ctx, rpc.MethodEval, rpc.ScriptParams{Script: script}, nil)
}

func (c *Client) ReturningEval(ctx context.Context, script string, nargout int) ([]any, error) {
	var res rpc.ValuesResult
	if err := c.call(ctx, rpc.MethodReturningEval, rpc.ScriptParams{Script: script, Nargout: nargout}, &res); err != nil {
		return nil, err
	}
	return decodeValues(res.Values)
}

func (c *Client) Feval(ctx context.Context, name string, args ...any) error {
	enc, err := encodeArgs(args)
	if err != nil {
		return err
	}
	return c.call(ctx, rpc.MethodFeval, rpc.CallParams{Name: name, Args: enc}, nil)
}

func (c *Client) ReturningFeval(ctx context.Context, name string, nargout int, args ...any) ([]any, error) {
	enc, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	var res rpc.ValuesResult
	if err := c.call(ctx, rpc.MethodReturningFeval, rpc.CallParams{Name: name, Nargout: nargout, Args: enc}, &res); err != nil {
		return nil, err
	}
	return decodeValues(res.Values)
}

func (c *Client) GetVariable(ctx context.Context, name string) (any, error) {
	var res rpc.ValueResult
	if err := c.call(ctx, rpc.MethodGetVariable, rpc.VariableParams{Name: name}, &res); err != nil {
		return nil, err
	}
	v, err := wire.Decode(res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvocation, err)
	}
	return v, nil
}

func (c *Client) SetVariable(ctx context.Context, name string, value any) error {
	enc, err := wire.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: variable %s: %w", engine.ErrInvocation, name, err)
	}
	return c.call(ctx, rpc.MethodSetVariable, rpc.VariableParams{Name: name, Value: &enc}, nil)
}

// Health calls health_check. It is not part of engine.Session.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, rpc.MethodHealthCheck, nil, nil)
}

// call performs one JSON-RPC round trip. Every failure wraps
// engine.ErrInvocation; a remote error is also reachable as *rpc.Error.
func (c *Client) call(ctx context.Context, method string, params, result any) (retErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	req := rpc.Request{JSONRPC: jsonrpcVersion, ID: json.RawMessage(fmt.Sprintf("%d", id)), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return invocationErr(method, err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return invocationErr(method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return invocationErr(method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(rpc.RequestIDHeader, fmt.Sprintf("%s%d", requestIDPrefix, id))
	if c.token != "" {
		httpReq.Header.Set(rpc.TokenHeader, c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return invocationErr(method, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = invocationErr(method, closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return invocationErr(method, fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var decoded rpc.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return invocationErr(method, err)
	}
	if decoded.Error != nil {
		return invocationErr(method, decoded.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return invocationErr(method, err)
	}
	return nil
}

func encodeArgs(args []any) ([]wire.Value, error) {
	enc, err := wire.EncodeAll(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvocation, err)
	}
	return enc, nil
}

func decodeValues(values []wire.Value) ([]any, error) {
	out, err := wire.DecodeAll(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvocation, err)
	}
	return out, nil
}

func invocationErr(method string, err error) error {
	return fmt.Errorf("%w: %s: %w", engine.ErrInvocation, method, err)
}
