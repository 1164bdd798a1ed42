package controlplane

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the hand-wired counterpart of the generated gRPC client:
// one Invoke per method, all carried by the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a device's control plane at addr (host:port).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("controlplane: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClientFromConn wraps an existing connection, e.g. one over a
// bufconn listener under test.
func NewClientFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	full := "/" + ServiceName + "/" + method
	return c.conn.Invoke(ctx, full, in, out, grpc.CallContentSubtype(CodecName))
}

// GetStatus fetches the device-wide snapshot.
func (c *Client) GetStatus(ctx context.Context) (*StatusReply, error) {
	out := new(StatusReply)
	if err := c.invoke(ctx, "GetStatus", &GetStatusRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSchedule fetches the runner's per-slot state.
func (c *Client) GetSchedule(ctx context.Context) (*ScheduleReply, error) {
	out := new(ScheduleReply)
	if err := c.invoke(ctx, "GetSchedule", &GetScheduleRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLoggers fetches per-logger-instance state.
func (c *Client) GetLoggers(ctx context.Context) (*LoggersReply, error) {
	out := new(LoggersReply)
	if err := c.invoke(ctx, "GetLoggers", &GetLoggersRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Flush asks the device to commit partial logger blocks now.
func (c *Client) Flush(ctx context.Context, loggersMask uint16) (*FlushReply, error) {
	out := new(FlushReply)
	if err := c.invoke(ctx, "Flush", &FlushRequest{LoggersMask: loggersMask}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
