// Package schedule runs periodic maintenance: expired-session sweeps over the
// account store and pruning of abandoned download work directories.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/coinbot/internal/accounts"
)

// Config selects the cron specs and thresholds. An empty spec disables its job.
type Config struct {
	SessionSweep string
	WorkDirPrune string
	// SessionTTL is the lifetime applied to records without their own.
	SessionTTL time.Duration
	WorkDir    string
	OrphanTTL  time.Duration
}

// Service owns the maintenance cron.
type Service struct {
	cron   *cron.Cron
	store  accounts.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store accounts.Store, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "schedule"))
	cl := cronLogger{log: log}
	return &Service{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		store:  store,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// Start registers the configured jobs and starts the cron.
func (s *Service) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int, error)
	}{
		{"session_sweep", s.cfg.SessionSweep, s.SweepSessions},
		{"workdir_prune", s.cfg.WorkDirPrune, s.PruneWorkDirs},
	}
	for _, job := range jobs {
		spec := strings.TrimSpace(job.spec)
		if spec == "" {
			s.logger.Info("job disabled", slog.String("job", job.name))
			continue
		}
		_, err := s.cron.AddFunc(spec, func() {
			n, err := job.run(ctx)
			if err != nil {
				s.logger.Error("job failed", slog.String("job", job.name), slog.Any("error", err))
				return
			}
			if n > 0 {
				s.logger.Info("job done", slog.String("job", job.name), slog.Int("affected", n))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, spec, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepSessions clears sessions whose lifetime has elapsed and returns how
// many records were cleared. Cards are left alone.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	items, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	cleared := 0
	for _, acc := range items {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		if !s.sessionStale(acc) {
			continue
		}
		// A login that landed after List changes the session and skips the clear.
		rec, err := s.store.Merge(ctx, acc.CanonicalID, accounts.ClearStaleSession(acc))
		if err != nil {
			if !errors.Is(err, accounts.ErrNotFound) {
				s.logger.Warn("clear session failed", slog.String("id", acc.CanonicalID), slog.Any("error", err))
			}
			continue
		}
		if rec.SessionID == "" {
			cleared++
		}
	}
	return cleared, nil
}

func (s *Service) sessionStale(acc accounts.Account) bool {
	return acc.SessionID != "" && acc.SessionExpired(s.now(), s.cfg.SessionTTL)
}

// PruneWorkDirs removes job directories under WorkDir that have not been
// modified for OrphanTTL. Jobs interrupted by a restart leave these behind.
func (s *Service) PruneWorkDirs(ctx context.Context) (int, error) {
	root := strings.TrimSpace(s.cfg.WorkDir)
	if root == "" || s.cfg.OrphanTTL <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work dir: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.OrphanTTL)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("prune work dir failed", slog.String("dir", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
