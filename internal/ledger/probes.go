package ledger

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Probe is one known shape of the transaction lookup endpoint. PathTemplate
// may contain {id}; when BodyKey is set the id is sent in the JSON body.
type Probe struct {
	Method       string
	PathTemplate string
	BodyKey      string
}

// TransactionProbes lists the lookup shapes in the order they are tried.
// Earlier entries are the shapes observed to work on current ledger versions.
var TransactionProbes = []Probe{
	{Method: http.MethodGet, PathTemplate: "/api/transaction/{id}"},
	{Method: http.MethodGet, PathTemplate: "/api/transactions/{id}"},
	{Method: http.MethodGet, PathTemplate: "/api/tx/{id}"},
	{Method: http.MethodGet, PathTemplate: "/api/transaction?id={id}"},
	{Method: http.MethodGet, PathTemplate: "/api/transactions?id={id}"},
	{Method: http.MethodPost, PathTemplate: "/api/transaction/check", BodyKey: "txId"},
	{Method: http.MethodPost, PathTemplate: "/api/transaction/get", BodyKey: "txId"},
}

// Path renders the probe path for id, escaping it for the path segment or
// the query string depending on where {id} sits.
func (p Probe) Path(id string) string {
	path, query, hasQuery := strings.Cut(p.PathTemplate, "?")
	path = strings.ReplaceAll(path, "{id}", url.PathEscape(id))
	if !hasQuery {
		return path
	}
	return path + "?" + strings.ReplaceAll(query, "{id}", url.QueryEscape(id))
}

// LookupTransaction tries each probe in order and returns the first
// successful response with a non-empty body. found is false when none match.
func (c *Client) LookupTransaction(ctx context.Context, cred Credential, id string, probes []Probe) (Result, bool) {
	if probes == nil {
		probes = TransactionProbes
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{ErrorMessage: "transaction id is required"}, false
	}
	var last Result
	for _, probe := range probes {
		if err := ctx.Err(); err != nil {
			return Result{ErrorMessage: err.Error()}, false
		}
		var payload map[string]any
		if probe.BodyKey != "" {
			payload = map[string]any{probe.BodyKey: id}
		}
		res := c.Call(ctx, cred, probe.Method, probe.Path(id), payload)
		if res.OK && hasBody(res) {
			return res, true
		}
		last = res
	}
	return last, false
}

func hasBody(res Result) bool {
	raw := bytes.TrimSpace(res.Raw)
	switch string(raw) {
	case "", "{}", "[]", "null", `""`:
		return false
	}
	return true
}
