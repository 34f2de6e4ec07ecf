package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL+"/", 2*time.Second)
}

func TestCallAttachesSessionBearer(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath, gotMethod string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	res := c.Transfer(context.Background(), Session("tok-1"), ToUser("42"), 1.5)
	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "/api/transfer", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "42", gotBody["toId"])
	assert.Equal(t, 1.5, gotBody["amount"])
	_, hasCard := gotBody["cardCode"]
	assert.False(t, hasCard)
}

func TestCallAttachesCardCode(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]string{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("Authorization") != "" {
			t.Errorf("card call must not send a bearer header")
		}
		if r.Method == http.MethodGet {
			seen[r.URL.Path] = r.URL.Query().Get("cardCode")
		} else {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			seen[r.URL.Path], _ = body["cardCode"].(string)
		}
		_, _ = w.Write([]byte(`{"coins":3}`))
	}))

	ctx := context.Background()
	cred := Card("c0ffee")
	require.True(t, c.Transfer(ctx, cred, ToCard("beef"), 2).OK)
	require.True(t, c.Rank(ctx, cred).OK)
	require.True(t, c.Balance(ctx, cred, "").OK)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "c0ffee", seen["/api/card/pay"])
	assert.Equal(t, "c0ffee", seen["/api/rank"])
	assert.Equal(t, "c0ffee", seen["/api/card/info"])
}

func TestCallErrorMessagePrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "error wins", status: 400, body: `{"message":"m","error":"e"}`, want: "e"},
		{name: "message", status: 400, body: `{"msg":"short","message":"long"}`, want: "long"},
		{name: "detail", status: 422, body: `{"detail":"bad field"}`, want: "bad field"},
		{name: "raw body", status: 500, body: `upstream exploded`, want: "upstream exploded"},
		{name: "status text", status: 503, body: ``, want: "Service Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			res := c.Call(context.Background(), Session("x"), http.MethodGet, "/api/rank", nil)
			assert.False(t, res.OK)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.want, res.ErrorMessage)
		})
	}
}

func TestCallMalformedSuccessBody(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coins":`))
	}))
	res := c.Rank(context.Background(), Session("x"))
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestCallTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(nil, url, time.Second)
	res := c.Rank(context.Background(), Session("x"))
	assert.False(t, res.OK)
	assert.Zero(t, res.StatusCode)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewClient(nil, srv.URL, 50*time.Millisecond)
	res := c.Rank(context.Background(), Session("x"))
	assert.False(t, res.OK)
	assert.Equal(t, "ledger request timed out", res.ErrorMessage)
}

func TestEndpointsRequireCredential(t *testing.T) {
	t.Parallel()

	c := NewClient(nil, "http://127.0.0.1:1", time.Second)
	ctx := context.Background()
	for _, res := range []Result{
		c.Balance(ctx, Credential{}, "1"),
		c.Transfer(ctx, Credential{}, ToUser("1"), 1),
		c.Claim(ctx, Credential{}),
		c.BillPay(ctx, Credential{}, "b"),
	} {
		assert.False(t, res.OK)
		assert.Equal(t, ErrNoCredential.Error(), res.ErrorMessage)
	}
	assert.False(t, c.Transactions(ctx, Card("c"), 1).OK)
	assert.False(t, c.IssueCard(ctx, Card("c")).OK)
}

func TestLookupTransactionProbeOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/transaction/tx9":
			w.WriteHeader(http.StatusNotFound)
		case "/api/transactions/tx9":
			_, _ = w.Write([]byte(`{}`))
		case "/api/tx/tx9":
			_, _ = w.Write([]byte(`{"id":"tx9","amount":2}`))
		default:
			t.Errorf("unexpected probe %s", r.URL.Path)
		}
	}))

	res, found := c.LookupTransaction(context.Background(), Session("x"), "tx9", nil)
	require.True(t, found)
	amount, ok := Number(res.Data, []string{"amount"})
	require.True(t, ok)
	assert.Equal(t, 2.0, amount)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"GET /api/transaction/tx9?",
		"GET /api/transactions/tx9?",
		"GET /api/tx/tx9?",
	}, calls)
}

func TestLookupTransactionNotFound(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))

	_, found := c.LookupTransaction(context.Background(), Session("x"), "nope", nil)
	assert.False(t, found)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, len(TransactionProbes))
	assert.Equal(t, "POST /api/transaction/get", paths[len(paths)-1])
	assert.Equal(t, "GET /api/transaction", paths[3])
}

func TestLookupPathEscapesByPosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		template string
		want     string
	}{
		{"/api/transaction/{id}", "/api/transaction/a&b=c+d%2Fe"},
		{"/api/transaction?id={id}", "/api/transaction?id=a%26b%3Dc%2Bd%2Fe"},
		{"/api/transaction/check", "/api/transaction/check"},
	}
	for _, tt := range tests {
		got := Probe{PathTemplate: tt.template}.Path("a&b=c+d/e")
		if got != tt.want {
			t.Fatalf("Path(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestLookupTransactionQueryKeepsID(t *testing.T) {
	t.Parallel()

	id := "tx&page=2+x"
	var got []string
	var mu sync.Mutex
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.URL.Query()["id"]...)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))

	attempts := []Probe{{Method: http.MethodGet, PathTemplate: "/api/transaction?id={id}"}}
	_, found := c.LookupTransaction(context.Background(), Session("x"), id, attempts)
	require.True(t, found)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{id}, got)
}
