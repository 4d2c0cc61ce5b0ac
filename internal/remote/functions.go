package remote

import (
	"context"
	"net/http"
)

// Invoke calls an edge function with a JSON payload and decodes the reply.
func Invoke[T any](ctx context.Context, c *Client, name string, payload any) (*T, error) {
	body, err := marshal(payload)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/functions/v1/" + name,
		body:     body,
		limitKey: limitFunctions,
	})
	if err != nil {
		return nil, err
	}
	v, err := decode[T](data)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
