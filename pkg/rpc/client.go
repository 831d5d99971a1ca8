package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"billingstack/pkg/models"
)

// Requester is the subset of *nats.Conn the client needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client calls methods on a topic.
type Client struct {
	conn    Requester
	topic   string
	codec   ErrorCodec
	timeout time.Duration
}

// NewClient creates a client. A nil codec uses DefaultCodec.
func NewClient(conn Requester, topic string, codec ErrorCodec) *Client {
	if codec == nil {
		codec = DefaultCodec
	}
	return &Client{conn: conn, topic: topic, codec: codec, timeout: 30 * time.Second}
}

// Call invokes method with args and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, rc models.RequestContext, method string, args, out any) error {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: marshal args: %w", err)
	}
	data, err := json.Marshal(Request{Method: method, Ctxt: rc, Args: rawArgs})
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, c.topic, data)
	if err != nil {
		return fmt.Errorf("rpc: request %s on %s: %w", method, c.topic, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("rpc: decode reply: %w", err)
	}
	if resp.Error != nil {
		return c.codec.Decode(*resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("rpc: decode result: %w", err)
	}
	return nil
}
