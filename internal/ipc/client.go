package ipc

import (
	"context"
	"encoding/json"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// call issues method and abandons the wait when ctx ends.
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	pending := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		return done.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start requests the daemon to start serving.
func (c *Client) Start(ctx context.Context) (*StartResponse, error) {
	var resp StartResponse
	if err := c.call(ctx, "Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop serving.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, "Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Execute runs a task and returns its result or failure description.
func (c *Client) Execute(ctx context.Context, kind string, payload json.RawMessage, timeout time.Duration) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	req := ExecuteRequest{Kind: kind, Payload: payload, TimeoutMillis: timeout.Milliseconds()}
	if err := c.call(ctx, "Execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generations lists cache generations.
func (c *Client) Generations(ctx context.Context) (*GenerationsResponse, error) {
	var resp GenerationsResponse
	if err := c.call(ctx, "Generations", GenerationsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Activate re-runs cache activation.
func (c *Client) Activate(ctx context.Context) (*ActivateResponse, error) {
	var resp ActivateResponse
	if err := c.call(ctx, "Activate", ActivateRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TerminateWorker shuts down the background unit.
func (c *Client) TerminateWorker(ctx context.Context) (*TerminateWorkerResponse, error) {
	var resp TerminateWorkerResponse
	if err := c.call(ctx, "TerminateWorker", TerminateWorkerRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Preload schedules module pre-warming.
func (c *Client) Preload(ctx context.Context) (*PreloadResponse, error) {
	var resp PreloadResponse
	if err := c.call(ctx, "Preload", PreloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
