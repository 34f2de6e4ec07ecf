package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/coinbot/internal/ledger"
)

func testJob(id string) Job {
	return Job{
		ID:         id,
		Channel:    "telegram",
		ChatID:     "chat-1",
		ReplyTo:    "42",
		Identity:   "7@telegram",
		Credential: ledger.Session("tok"),
		RefundTo:   ledger.ToUser("u-7"),
		SourceURL:  "https://example.com/watch?v=" + id,
		Amount:     0.5,
		Kind:       KindVideo,
		EnqueuedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func exerciseFIFO(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		pos, err := q.Enqueue(ctx, testJob(id))
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	for _, want := range []string{"a", "b", "c"} {
		job, ok, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, job.ID)
	}
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryQueueFIFO(t *testing.T) {
	t.Parallel()
	exerciseFIFO(t, NewMemoryQueue())
}

func TestFileQueueFIFO(t *testing.T) {
	t.Parallel()
	q, err := NewFileQueue(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	exerciseFIFO(t, q)
}

func TestQueueRejectsInvalidJob(t *testing.T) {
	t.Parallel()
	job := testJob("x")
	job.Kind = "gif"
	_, err := NewMemoryQueue().Enqueue(context.Background(), job)
	require.Error(t, err)
}

func TestQueueClosed(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue()
	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), testJob("a"))
	require.ErrorIs(t, err, ErrQueueClosed)
	_, _, err = q.TryDequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestFileQueueSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "queue.json")

	q, err := NewFileQueue(path)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testJob("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testJob("b"))
	require.NoError(t, err)
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Close())

	reopened, err := NewFileQueue(path)
	require.NoError(t, err)
	depth, err := reopened.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	job, ok, err := reopened.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testJob("b"), job)
}

func TestFileQueueEmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	q, err := NewFileQueue(path)
	require.NoError(t, err)
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestFileQueueCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileQueue(path)
	require.Error(t, err)
}

func TestOpenQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	q, err := OpenQueue(ctx, "memory://", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = OpenQueue(ctx, "file://"+filepath.Join(dir, "q.json"), nil)
	require.NoError(t, err)
	fq, ok := q.(*FileQueue)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "q.json"), fq.path)

	q, err = OpenQueue(ctx, filepath.Join(dir, "plain.json"), nil)
	require.NoError(t, err)
	assert.IsType(t, &FileQueue{}, q)

	_, err = OpenQueue(ctx, "redis://localhost", nil)
	require.Error(t, err)
	_, err = OpenQueue(ctx, "  ", nil)
	require.Error(t, err)
}
