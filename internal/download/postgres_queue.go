package download

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresOperationTimeout = 5 * time.Second

// PostgresQueue stores jobs in the download_jobs table. Dequeue deletes the
// oldest row with SKIP LOCKED so concurrent workers never share a job.
type PostgresQueue struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	ownsPool  bool
	opTimeout time.Duration
}

// NewPostgresQueue wraps pool. When ownsPool is set, Close closes the pool.
func NewPostgresQueue(pool *pgxpool.Pool, log *slog.Logger, ownsPool bool) *PostgresQueue {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresQueue{
		pool:      pool,
		logger:    log.With(slog.String("component", "download_queue"), slog.String("backend", "postgres")),
		ownsPool:  ownsPool,
		opTimeout: postgresOperationTimeout,
	}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job Job) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.opTimeout)
	defer cancel()

	var seq int64
	err = q.pool.QueryRow(ctx,
		`INSERT INTO download_jobs (job_id, payload, enqueued_at) VALUES ($1, $2, $3) RETURNING seq`,
		job.ID, payload, job.EnqueuedAt.UTC(),
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	var position int
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM download_jobs WHERE seq <= $1`, seq).Scan(&position); err != nil {
		return 0, err
	}
	return position, nil
}

func (q *PostgresQueue) TryDequeue(ctx context.Context) (Job, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opTimeout)
	defer cancel()

	var payload []byte
	err := q.pool.QueryRow(ctx, `
DELETE FROM download_jobs
WHERE seq = (
    SELECT seq FROM download_jobs ORDER BY seq LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING payload`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		q.logger.Error("drop undecodable job", slog.Any("error", err))
		return Job{}, false, err
	}
	return job, true, nil
}

func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opTimeout)
	defer cancel()
	var depth int
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM download_jobs`).Scan(&depth)
	return depth, err
}

func (q *PostgresQueue) Close() error {
	if q.ownsPool && q.pool != nil {
		q.pool.Close()
	}
	return nil
}
