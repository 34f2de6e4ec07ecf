package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresOperationTimeout = 5 * time.Second

// PostgresStore keeps accounts in PostgreSQL. Merges lock the row with
// SELECT ... FOR UPDATE inside a transaction.
type PostgresStore struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	ownsPool  bool
	now       func() time.Time
	opTimeout time.Duration
}

// NewPostgresStore wraps pool. When ownsPool is set, Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool, log *slog.Logger, ownsPool bool) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		pool:      pool,
		logger:    log.With(slog.String("component", "accounts"), slog.String("backend", "postgres")),
		ownsPool:  ownsPool,
		now:       time.Now,
		opTimeout: postgresOperationTimeout,
	}
}

const selectAccountColumns = `canonical_id, login, user_id, session_id, card, login_time, session_ttl_ms, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		rec       Account
		loginTime *time.Time
		ttlMillis int64
	)
	err := row.Scan(&rec.CanonicalID, &rec.Login, &rec.UserID, &rec.SessionID, &rec.Card, &loginTime, &ttlMillis, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	if loginTime != nil {
		rec.LoginTime = loginTime.UTC()
	}
	rec.SessionTTL = time.Duration(ttlMillis) * time.Millisecond
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, `SELECT `+selectAccountColumns+` FROM accounts WHERE canonical_id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) Merge(ctx context.Context, id string, patch Patch) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := s.now().UTC()
	// Insert-if-absent first so the row exists for FOR UPDATE even on first write.
	tag, err := tx.Exec(ctx,
		`INSERT INTO accounts (canonical_id, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (canonical_id) DO NOTHING`,
		id, now)
	if err != nil {
		return Account{}, fmt.Errorf("ensure account: %w", err)
	}
	rec, err := scanAccount(tx.QueryRow(ctx, `SELECT `+selectAccountColumns+` FROM accounts WHERE canonical_id = $1 FOR UPDATE`, id))
	if err != nil {
		return Account{}, err
	}
	if !patch.Matches(rec) {
		// The deferred rollback drops the row inserted above.
		if tag.RowsAffected() == 1 {
			return Account{}, ErrNotFound
		}
		return rec, nil
	}
	rec = patch.Apply(rec)
	rec.UpdatedAt = now

	var loginTime *time.Time
	if !rec.LoginTime.IsZero() {
		t := rec.LoginTime.UTC()
		loginTime = &t
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET login = $2, user_id = $3, session_id = $4, card = $5,
		    login_time = $6, session_ttl_ms = $7, updated_at = $8
		WHERE canonical_id = $1`,
		id, rec.Login, rec.UserID, rec.SessionID, rec.Card, loginTime, rec.SessionTTL.Milliseconds(), rec.UpdatedAt); err != nil {
		return Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return rec, nil
}

func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	// account_aliases rows go with the account through ON DELETE CASCADE.
	if _, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE canonical_id = $1`, id); err != nil {
		return err
	}
	s.logger.Info("account removed", slog.String("id", id))
	return nil
}

func (s *PostgresStore) RegisterAlias(ctx context.Context, id, variant string) error {
	id = strings.TrimSpace(id)
	variant = strings.TrimSpace(variant)
	if id == "" || variant == "" {
		return ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO account_aliases (variant, canonical_id)
		SELECT $1, canonical_id FROM accounts WHERE canonical_id = $2
		ON CONFLICT (variant) DO UPDATE SET canonical_id = EXCLUDED.canonical_id`,
		variant, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LookupAlias(ctx context.Context, variant string) (string, error) {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return "", ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	var id string
	err := s.pool.QueryRow(ctx, `SELECT canonical_id FROM account_aliases WHERE variant = $1`, variant).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+selectAccountColumns+` FROM accounts ORDER BY canonical_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Account{}
	for rows.Next() {
		rec, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
