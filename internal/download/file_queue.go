package download

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileQueue persists the FIFO as one JSON document, rewritten through a
// temporary file and rename on every change.
type FileQueue struct {
	path   string
	mu     sync.Mutex
	items  []Job
	closed bool
}

type fileQueueState struct {
	Items []Job `json:"items"`
}

// NewFileQueue opens the queue stored at path, loading any pending jobs.
func NewFileQueue(path string) (*FileQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("queue path is required")
	}
	q := &FileQueue{path: path}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) Enqueue(_ context.Context, job Job) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	q.items = append(q.items, job)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return 0, err
	}
	return len(q.items), nil
}

func (q *FileQueue) TryDequeue(_ context.Context) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Job{}, false, ErrQueueClosed
	}
	if len(q.items) == 0 {
		return Job{}, false, nil
	}
	job := q.items[0]
	q.items = q.items[1:]
	if err := q.saveLocked(); err != nil {
		q.items = append([]Job{job}, q.items...)
		return Job{}, false, err
	}
	return job, true, nil
}

func (q *FileQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *FileQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func (q *FileQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var snapshot fileQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	q.items = append([]Job(nil), snapshot.Items...)
	return nil
}

func (q *FileQueue) saveLocked() error {
	data, err := json.Marshal(fileQueueState{Items: q.items})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
