package remote

import (
	"context"
	"net/http"
)

// Upload stores an object and returns its public URL. One upload call; URL
// resolution for public buckets is local.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/storage/v1/object/" + bucket + "/" + path,
		headers:  map[string]string{"Content-Type": contentType, "Cache-Control": "3600"},
		body:     data,
		limitKey: limitStorage,
	})
	if err != nil {
		return "", err
	}
	return c.PublicURL(bucket, path), nil
}

// PublicURL returns the public URL for an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + path
}
