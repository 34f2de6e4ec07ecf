package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/memohai/coinbot/internal/channel"
	"github.com/memohai/coinbot/internal/ledger"
)

const (
	DefaultConcurrency    = 4
	DefaultPollInterval   = time.Second
	DefaultStatusInterval = 700 * time.Millisecond
	DefaultMaxVideoBytes  = 35 * 1024 * 1024
	DefaultMaxAudioBytes  = 16 * 1024 * 1024

	refundTimeout = 30 * time.Second
	maxTitleRunes = 80
)

// Payer moves coins between ledger accounts. *ledger.Client implements it.
type Payer interface {
	Transfer(ctx context.Context, cred ledger.Credential, dest ledger.Destination, amount float64) ledger.Result
}

// Config tunes the worker.
type Config struct {
	WorkDir        string
	Concurrency    int
	PollInterval   time.Duration
	StatusInterval time.Duration
	MaxVideoBytes  int64
	MaxAudioBytes  int64
	// Receiver pays refunds back to the job's RefundTo destination.
	Receiver ledger.Credential
	// ReceiverSource, when set, supplies the receiver credential instead of
	// Receiver and is invalidated once if the ledger rejects it.
	ReceiverSource CredentialSource
}

// CredentialSource hands out a renewable ledger credential.
// *ledger.SessionKeeper implements it.
type CredentialSource interface {
	Credential(ctx context.Context) (ledger.Credential, error)
	Invalidate()
}

func (c Config) normalized() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StatusInterval < 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.MaxVideoBytes <= 0 {
		c.MaxVideoBytes = DefaultMaxVideoBytes
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "coinbot-downloads")
	}
	return c
}

// Worker polls the queue and runs at most Concurrency jobs at once.
type Worker struct {
	queue      Queue
	fetcher    Fetcher
	transcoder Transcoder
	messenger  Messenger
	payer      Payer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	sem       *semaphore.Weighted
	startOnce sync.Once
	inFlight  atomic.Int64
	wg        sync.WaitGroup
}

// NewWorker creates a Worker. Start must be called to begin polling.
func NewWorker(log *slog.Logger, cfg Config, queue Queue, fetcher Fetcher, transcoder Transcoder, messenger Messenger, payer Payer) *Worker {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Worker{
		queue:      queue,
		fetcher:    fetcher,
		transcoder: transcoder,
		messenger:  messenger,
		payer:      payer,
		cfg:        cfg,
		logger:     log.With(slog.String("component", "download")),
		now:        time.Now,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// WorkDir returns the parent directory of per-job work directories.
func (w *Worker) WorkDir() string {
	return w.cfg.WorkDir
}

// InFlight returns the number of jobs being processed.
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

// Depth returns the number of queued jobs.
func (w *Worker) Depth(ctx context.Context) (int, error) {
	return w.queue.Depth(ctx)
}

// Submit assigns an id to job and enqueues it. If the job cannot be queued
// its amount is refunded before the error is returned.
func (w *Worker) Submit(ctx context.Context, job Job) (int, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = w.now().UTC()
	}
	position, err := w.queue.Enqueue(ctx, job)
	if err != nil {
		w.logger.Error("enqueue failed", slog.String("job_id", job.ID), slog.Any("error", err))
		if refundErr := w.refund(context.WithoutCancel(ctx), job); refundErr != nil {
			return 0, fmt.Errorf("enqueue: %w (%w: %v)", err, ErrRefundFailed, refundErr)
		}
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	w.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("position", position))
	return position, nil
}

// Start launches the poll loop once. Later calls are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.logger.Info("worker start", slog.Int("concurrency", w.cfg.Concurrency))
		go w.loop(ctx)
	})
}

// Wait blocks until running jobs finish or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stop")
			return
		}
		if !w.sem.TryAcquire(1) {
			w.sleep(ctx)
			continue
		}
		job, ok, err := w.queue.TryDequeue(ctx)
		if err != nil || !ok {
			w.sem.Release(1)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("dequeue failed", slog.Any("error", err))
			}
			w.sleep(ctx)
			continue
		}
		w.inFlight.Add(1)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			defer w.inFlight.Add(-1)
			w.runJob(ctx, job)
		}()
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) runJob(ctx context.Context, job Job) {
	log := w.logger.With(slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	started := w.now()
	status := newStatusReporter(log, w.messenger, job, w.cfg.StatusInterval, w.now)
	dir := filepath.Join(w.cfg.WorkDir, job.ID)
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("remove work dir failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	err := w.process(ctx, job, dir, status)
	if err == nil {
		log.Info("job done", slog.Duration("elapsed", w.now().Sub(started)))
		return
	}
	log.Error("job failed", slog.Any("error", err))
	w.fail(context.WithoutCancel(ctx), job, status, err)
}

func (w *Worker) process(ctx context.Context, job Job, dir string, status *statusReporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = &PipelineError{Stage: StageInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stageError(StagePrepare, err)
	}
	status.Update(ctx, "⏳ Baixando... 0%", false)
	media, err := w.fetcher.Fetch(ctx, job, dir, func(pct float64) {
		status.Update(ctx, fmt.Sprintf("⏳ Baixando... %.1f%%", pct), false)
	})
	if err != nil {
		return stageError(StageFetch, err)
	}

	name := SanitizeTitle(media.Title) + job.Kind.Extension()
	out := media.Path
	if job.Kind == KindAudio {
		out = filepath.Join(dir, "output"+job.Kind.Extension())
		status.Update(ctx, "🎧 Convertendo... 0%", true)
		err := w.transcoder.Transcode(ctx, media.Path, out, func(pct float64) {
			status.Update(ctx, fmt.Sprintf("🎧 Convertendo... %.1f%%", pct), false)
		})
		if err != nil {
			return stageError(StageTranscode, err)
		}
	}

	info, err := os.Stat(out)
	if err != nil {
		return stageError(StageLocate, ErrNoOutput)
	}
	limit := w.cfg.MaxVideoBytes
	if job.Kind == KindAudio {
		limit = w.cfg.MaxAudioBytes
	}
	if info.Size() > limit {
		return stageError(StageSize, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), limit))
	}

	status.Update(ctx, "📤 Enviando...", true)
	msg := channel.Message{
		Attachments: []channel.Attachment{{
			Type: job.Kind.attachmentType(),
			Path: out,
			Name: name,
			Size: info.Size(),
			Mime: job.Kind.Mime(),
		}},
	}
	if job.ReplyTo != "" {
		msg.Reply = &channel.ReplyRef{Target: job.ChatID, MessageID: job.ReplyTo}
	}
	if _, err := w.messenger.Send(ctx, job.Channel, job.ChatID, msg); err != nil {
		return stageError(StageSend, err)
	}
	status.Update(ctx, "✅ Pronto!", true)
	return nil
}

// fail posts the failure status, refunds the job and reports the refund outcome.
func (w *Worker) fail(ctx context.Context, job Job, status *statusReporter, cause error) {
	status.Update(ctx, "❌ Falha no download: "+userReason(cause)+".", true)
	if job.Amount <= 0 {
		return
	}
	text := fmt.Sprintf("💸 Reembolso de %s coins realizado.", ledger.FormatAmount(job.Amount))
	if err := w.refund(ctx, job); err != nil {
		text = "⚠️ Falha no reembolso: " + err.Error()
	}
	msg := channel.Message{Text: text}
	if job.ReplyTo != "" {
		msg.Reply = &channel.ReplyRef{Target: job.ChatID, MessageID: job.ReplyTo}
	}
	if _, err := w.messenger.Send(ctx, job.Channel, job.ChatID, msg); err != nil {
		w.logger.Error("refund report failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (w *Worker) refund(ctx context.Context, job Job) error {
	if job.Amount <= 0 {
		return nil
	}
	if job.RefundTo.IsZero() {
		return errors.New("refund destination unknown")
	}
	if w.payer == nil {
		return ledger.ErrNoCredential
	}
	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	cred, err := w.receiver(ctx)
	if err != nil {
		return err
	}
	res := w.payer.Transfer(ctx, cred, job.RefundTo, job.Amount)
	if src := w.cfg.ReceiverSource; src != nil && res.StatusCode == http.StatusUnauthorized {
		src.Invalidate()
		if cred, err = w.receiver(ctx); err != nil {
			return err
		}
		res = w.payer.Transfer(ctx, cred, job.RefundTo, job.Amount)
	}
	if !res.OK {
		w.logger.Error("refund failed",
			slog.String("job_id", job.ID),
			slog.String("refund_to", job.RefundTo.String()),
			slog.String("error", res.ErrorMessage))
		return errors.New(res.ErrorMessage)
	}
	w.logger.Info("refund done", slog.String("job_id", job.ID), slog.Float64("amount", job.Amount))
	return nil
}

func (w *Worker) receiver(ctx context.Context) (ledger.Credential, error) {
	if w.cfg.ReceiverSource != nil {
		cred, err := w.cfg.ReceiverSource.Credential(ctx)
		if err != nil {
			return ledger.Credential{}, fmt.Errorf("receiver credential: %w", err)
		}
		return cred, nil
	}
	if w.cfg.Receiver.IsZero() {
		return ledger.Credential{}, ledger.ErrNoCredential
	}
	return w.cfg.Receiver, nil
}

// SanitizeTitle turns a media title into a safe file base name.
func SanitizeTitle(title string) string {
	var b strings.Builder
	count := 0
	lastUnderscore := false
	for _, r := range strings.TrimSpace(title) {
		if count >= maxTitleRunes {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == ' ':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if lastUnderscore {
				continue
			}
			b.WriteRune('_')
			lastUnderscore = true
		}
		count++
	}
	name := strings.Trim(b.String(), " ._")
	if name == "" {
		return "media"
	}
	return name
}
