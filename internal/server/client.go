// Client for the engine service over any gRPC connection
package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the engine service. Requests and responses are plain maps in
// the shapes documented on the Server methods.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes a method by its short name, e.g. "ResolveSlot"
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ResolveSlot resolves one slot at the server's current time
func (c *Client) ResolveSlot(ctx context.Context, nodeID, slot string) (map[string]any, error) {
	return c.Call(ctx, "ResolveSlot", map[string]any{"node_id": nodeID, "slot": slot})
}

// ResolvePageAt resolves the given slots, or all of them when slots is empty
func (c *Client) ResolvePageAt(ctx context.Context, nodeID string, slots []string, at time.Time) (map[string]any, error) {
	req := map[string]any{"node_id": nodeID}
	if len(slots) > 0 {
		list := make([]any, len(slots))
		for i, s := range slots {
			list[i] = s
		}
		req["slots"] = list
	}
	if !at.IsZero() {
		req["at"] = formatTime(at)
	}
	return c.Call(ctx, "ResolvePage", req)
}

// ListVersions returns the version history of a node
func (c *Client) ListVersions(ctx context.Context, nodeID string) (map[string]any, error) {
	return c.Call(ctx, "ListVersions", map[string]any{"node_id": nodeID})
}

// PublishVersion makes a version live now
func (c *Client) PublishVersion(ctx context.Context, nodeID string, number int) (map[string]any, error) {
	return c.Call(ctx, "PublishVersion", map[string]any{"node_id": nodeID, "number": number})
}
