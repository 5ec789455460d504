package supabase

import (
	"context"
	"net/http"
	"net/url"
)

// Filter builds PostgREST equality filters from column/value pairs.
//
//	Filter("author_id", id, "story_id", storyID)
func Filter(pairs ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Set(pairs[i], "eq."+pairs[i+1])
	}
	return q
}

// Select reads rows from table into dst, which should be a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, q url.Values, dst any) error {
	return c.do(ctx, request{
		op:     "select " + table,
		method: http.MethodGet,
		path:   "/rest/v1/" + table,
		query:  q,
	}, dst)
}

// Insert adds row (or a slice of rows) and decodes the stored representation.
func (c *Client) Insert(ctx context.Context, table string, row any, dst any) error {
	return c.do(ctx, request{
		op:      "insert " + table,
		method:  http.MethodPost,
		path:    "/rest/v1/" + table,
		body:    row,
		headers: map[string]string{"Prefer": preferReturn(dst)},
	}, dst)
}

// Upsert inserts row or merges it into the row that conflicts on onConflict.
func (c *Client) Upsert(ctx context.Context, table, onConflict string, row any, dst any) error {
	q := url.Values{}
	if onConflict != "" {
		q.Set("on_conflict", onConflict)
	}
	return c.do(ctx, request{
		op:      "upsert " + table,
		method:  http.MethodPost,
		path:    "/rest/v1/" + table,
		query:   q,
		body:    row,
		headers: map[string]string{"Prefer": "resolution=merge-duplicates," + preferReturn(dst)},
	}, dst)
}

// Update patches every row matched by q.
func (c *Client) Update(ctx context.Context, table string, q url.Values, patch any, dst any) error {
	return c.do(ctx, request{
		op:      "update " + table,
		method:  http.MethodPatch,
		path:    "/rest/v1/" + table,
		query:   q,
		body:    patch,
		headers: map[string]string{"Prefer": preferReturn(dst)},
	}, dst)
}

// Delete removes every row matched by q.
func (c *Client) Delete(ctx context.Context, table string, q url.Values) error {
	return c.do(ctx, request{
		op:      "delete " + table,
		method:  http.MethodDelete,
		path:    "/rest/v1/" + table,
		query:   q,
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
}

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, args any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	return c.do(ctx, request{
		op:     "rpc " + fn,
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + fn,
		body:   args,
	}, dst)
}

func preferReturn(dst any) string {
	if dst == nil {
		return "return=minimal"
	}
	return "return=representation"
}
