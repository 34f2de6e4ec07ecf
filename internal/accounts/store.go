package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/memohai/coinbot/internal/db"
)

var (
	// ErrNotFound is returned when no record or alias exists for the requested key.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidID is returned for empty canonical ids or alias variants.
	ErrInvalidID = errors.New("account id is required")
)

// Store persists account records and aliases. Implementations serialize
// writes per canonical id so concurrent merges never lose updates.
type Store interface {
	Get(ctx context.Context, id string) (Account, error)
	// Merge applies patch to the record for id, creating it when absent.
	Merge(ctx context.Context, id string, patch Patch) (Account, error)
	// Remove deletes the record and every alias pointing at it.
	Remove(ctx context.Context, id string) error
	// RegisterAlias maps variant onto the existing record id.
	RegisterAlias(ctx context.Context, id, variant string) error
	LookupAlias(ctx context.Context, variant string) (string, error)
	List(ctx context.Context) ([]Account, error)
	Close() error
}

// LegacyMigrator is implemented by stores that may hold records under a
// pre-normalization key. MigrateLegacy moves the record stored under raw to
// id and returns it, or ErrNotFound.
type LegacyMigrator interface {
	MigrateLegacy(ctx context.Context, raw, id string) (Account, error)
}

// Open builds a Store from a DSN: file://dir, memory:// or postgres://.
func Open(ctx context.Context, dsn string, log *slog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("accounts dsn is required")
	}
	if db.IsPostgresDSN(dsn) {
		pool, err := db.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("accounts postgres: %w", err)
		}
		return NewPostgresStore(pool, log, true), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		dir := parsed.Path
		if parsed.Scheme == "" {
			dir = dsn
		} else if parsed.Host != "" {
			dir = parsed.Host + parsed.Path
		}
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("accounts file dsn needs a directory: %q", dsn)
		}
		return NewFileStore(dir, log)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported accounts scheme: %s", parsed.Scheme)
	}
}

// keyedMutex hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
