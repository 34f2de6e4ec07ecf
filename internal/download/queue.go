package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/memohai/coinbot/internal/db"
)

// Queue is a durable FIFO of download jobs. A dequeued job is removed before
// it is processed, so each job is consumed at most once.
type Queue interface {
	// Enqueue appends job and returns its 1-based position in the queue.
	Enqueue(ctx context.Context, job Job) (int, error)
	// TryDequeue removes and returns the oldest job. ok is false when the queue is empty.
	TryDequeue(ctx context.Context) (job Job, ok bool, err error)
	Depth(ctx context.Context) (int, error)
	Close() error
}

// OpenQueue builds a Queue from a DSN: file://path.json, memory:// or postgres://.
func OpenQueue(ctx context.Context, dsn string, log *slog.Logger) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("queue dsn is required")
	}
	if db.IsPostgresDSN(dsn) {
		pool, err := db.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("queue postgres: %w", err)
		}
		return NewPostgresQueue(pool, log, true), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		path := dsnPath(parsed, dsn)
		if path == "" {
			return nil, fmt.Errorf("queue file dsn needs a path: %q", dsn)
		}
		return NewFileQueue(path)
	case "memory", "mem":
		return NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", parsed.Scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return strings.TrimSpace(raw)
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	return strings.TrimSpace(path)
}
