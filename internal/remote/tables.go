package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tallyapp/tally-go/internal/errors"
)

// Filter narrows a table operation to matching rows.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Query describes a table read.
type Query struct {
	Table      string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func (q Query) values() url.Values {
	v := url.Values{"select": {"*"}}
	for _, f := range q.Filters {
		v.Set(f.Column, "eq."+f.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	return v
}

// SelectAll fetches every matching row.
func SelectAll[T any](ctx context.Context, c *Client, q Query) ([]T, error) {
	data, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/rest/v1/" + q.Table,
		query:    q.values(),
		limitKey: limitTables,
	})
	if err != nil {
		return nil, err
	}
	return decode[[]T](data)
}

// SelectSingle fetches the single matching row, or ErrNotFound when none
// matches.
func SelectSingle[T any](ctx context.Context, c *Client, q Query) (*T, error) {
	q.Limit = 1
	rows, err := SelectAll[T](ctx, c, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NotFoundf("%s: no rows", q.Table)
	}
	return &rows[0], nil
}

// Insert creates a row and returns the created representation.
func Insert[T any](ctx context.Context, c *Client, table string, payload any) (*T, error) {
	body, err := marshal([]any{payload})
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/rest/v1/" + table,
		headers:  map[string]string{"Prefer": "return=representation"},
		body:     body,
		limitKey: limitTables,
	})
	if err != nil {
		return nil, err
	}
	rows, err := decode[[]T](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Remote("insert returned no representation")
	}
	return &rows[0], nil
}

// Update patches matching rows and returns the first updated representation.
func Update[T any](ctx context.Context, c *Client, table string, patch any, filters ...Filter) (*T, error) {
	body, err := marshal(patch)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, f := range filters {
		q.Set(f.Column, "eq."+f.Value)
	}
	data, err := c.do(ctx, request{
		method:   http.MethodPatch,
		path:     "/rest/v1/" + table,
		query:    q,
		headers:  map[string]string{"Prefer": "return=representation"},
		body:     body,
		limitKey: limitTables,
	})
	if err != nil {
		return nil, err
	}
	rows, err := decode[[]T](data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NotFoundf("%s: no rows matched update", table)
	}
	return &rows[0], nil
}

// Delete removes matching rows. Deleting zero rows is not an error: the
// caller decides whether absence matters.
func Delete(ctx context.Context, c *Client, table string, filters ...Filter) error {
	q := url.Values{}
	for _, f := range filters {
		q.Set(f.Column, "eq."+f.Value)
	}
	_, err := c.do(ctx, request{
		method:   http.MethodDelete,
		path:     "/rest/v1/" + table,
		query:    q,
		limitKey: limitTables,
	})
	return err
}
