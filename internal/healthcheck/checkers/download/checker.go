package downloadchecker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/coinbot/internal/healthcheck"
)

const (
	checkTypeDownloadQueue = "download.queue"
	defaultCheckTimeout    = 3 * time.Second
)

// QueueObserver exposes the download backlog. *download.Worker implements it.
type QueueObserver interface {
	Depth(ctx context.Context) (int, error)
	InFlight() int
}

// Checker reports the download queue depth and running jobs.
type Checker struct {
	logger   *slog.Logger
	observer QueueObserver
	timeout  time.Duration
	// WarnDepth turns the check into a warning once this many jobs wait.
	WarnDepth int
}

// NewChecker creates a download queue health checker.
func NewChecker(log *slog.Logger, observer QueueObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_download")),
		observer:  observer,
		timeout:   defaultCheckTimeout,
		WarnDepth: 50,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if c.observer == nil {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:   checkTypeDownloadQueue,
		Type: checkTypeDownloadQueue,
	}
	inFlight := c.observer.InFlight()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	depth, err := c.observer.Depth(ctx)
	if err != nil {
		c.logger.Warn("queue depth failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Download queue is unreachable."
		item.Detail = err.Error()
		item.Metadata = map[string]any{"in_flight": inFlight}
		return []healthcheck.CheckResult{item}
	}

	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("%d queued, %d running.", depth, inFlight)
	item.Metadata = map[string]any{"depth": depth, "in_flight": inFlight}
	if c.WarnDepth > 0 && depth >= c.WarnDepth {
		item.Status = healthcheck.StatusWarn
	}
	return []healthcheck.CheckResult{item}
}
