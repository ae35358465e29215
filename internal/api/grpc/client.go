package grpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arkilian/indexsearch/pkg/types"
)

// Client calls a remote Evaluator. It satisfies search.Evaluator.
type Client struct {
	conn grpc.ClientConnInterface

	once sync.Once
	size int
	err  error
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Evaluate scores v remotely.
func (c *Client) Evaluate(ctx context.Context, v types.Vector) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, evaluateMethod, wrapperspb.String(v.String()), out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Baseline fetches the remote baseline metrics.
func (c *Client) Baseline(ctx context.Context) (map[string]float64, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, baselineMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	m := make(map[string]float64, len(out.GetFields()))
	for k, v := range out.GetFields() {
		m[k] = v.GetNumberValue()
	}
	return m, nil
}

// FetchSize asks the server for the vector length and caches it.
func (c *Client) FetchSize(ctx context.Context) (int, error) {
	c.once.Do(func() {
		out := new(wrapperspb.Int32Value)
		if err := c.conn.Invoke(ctx, sizeMethod, &emptypb.Empty{}, out); err != nil {
			c.err = fmt.Errorf("fetch vector size: %w", err)
			return
		}
		c.size = int(out.GetValue())
	})
	return c.size, c.err
}

// Size returns the cached vector length; FetchSize must have succeeded.
func (c *Client) Size() int {
	return c.size
}
