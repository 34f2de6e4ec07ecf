// Package ledger is a stateless client for the remote Coin ledger API.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every ledger request.
	DefaultTimeout = 15 * time.Second

	cardCodeField   = "cardCode"
	maxResponseSize = 4 << 20
)

// Result is the uniform outcome of a ledger call. OK is false for transport
// failures, non-2xx responses, and malformed bodies.
type Result struct {
	OK           bool
	Data         map[string]any
	Raw          []byte
	ErrorMessage string
	StatusCode   int
}

// Client issues authenticated ledger calls. It never retries.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for baseURL. A non-positive timeout uses DefaultTimeout.
func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "ledger")),
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call sends one request. GET payload entries become query parameters; other
// methods send the payload as a JSON object.
func (c *Client) Call(ctx context.Context, cred Credential, method, path string, payload map[string]any) Result {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, cred, method, path, payload)
	if err != nil {
		return Result{ErrorMessage: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", slog.String("method", method), slog.String("path", path), slog.Any("error", err))
		return Result{ErrorMessage: transportMessage(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, ErrorMessage: transportMessage(err)}
	}
	data, decodeErr := decodeObject(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Info("ledger error response",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(raw), 300)),
		)
		return Result{
			Data:         data,
			Raw:          raw,
			StatusCode:   resp.StatusCode,
			ErrorMessage: errorMessage(data, raw, resp.StatusCode),
		}
	}
	if decodeErr != nil {
		c.logger.Warn("ledger response parse failed", slog.String("path", path), slog.Any("error", decodeErr))
		return Result{
			Raw:          raw,
			StatusCode:   resp.StatusCode,
			ErrorMessage: "malformed response from ledger",
		}
	}
	return Result{OK: true, Data: data, Raw: raw, StatusCode: resp.StatusCode}
}

func (c *Client) newRequest(ctx context.Context, cred Credential, method, path string, payload map[string]any) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger url: %w", err)
	}
	params := maps.Clone(payload)
	if params == nil {
		params = map[string]any{}
	}
	if cred.IsCard() && cred.Token != "" {
		params[cardCodeField] = cred.Token
	}

	var body io.Reader
	if method == http.MethodGet || method == http.MethodHead {
		query := target.Query()
		for key, value := range params {
			if value == nil {
				continue
			}
			query.Set(key, fmt.Sprint(value))
		}
		target.RawQuery = query.Encode()
	} else {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode ledger payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.Kind == CredentialSession && cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	return req, nil
}

// decodeObject parses a JSON body. Objects are returned as is, other JSON
// values are wrapped under "value", and an empty body yields an empty map.
func decodeObject(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"value": v}, nil
}

func errorMessage(data map[string]any, raw []byte, status int) string {
	if msg, ok := String(data, ErrorFields); ok {
		return msg
	}
	if body := strings.TrimSpace(string(raw)); body != "" {
		return truncate(body, 300)
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ledger request timed out"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "ledger request timed out"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
