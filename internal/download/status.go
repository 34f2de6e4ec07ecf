package download

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/coinbot/internal/channel"
)

// Messenger delivers messages to chats. The channel Manager implements it.
type Messenger interface {
	Send(ctx context.Context, channelType channel.ChannelType, target string, msg channel.Message) (string, error)
	Update(ctx context.Context, channelType channel.ChannelType, target, messageID string, msg channel.Message) error
	Unsend(ctx context.Context, channelType channel.ChannelType, target, messageID string) error
	SupportsEdit(channelType channel.ChannelType) bool
}

// statusReporter owns the single status message of one job. Updates are
// edited in place when the channel can edit and replaced otherwise.
type statusReporter struct {
	messenger   Messenger
	channelType channel.ChannelType
	target      string
	replyTo     string
	minInterval time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex
	messageID string
	lastText  string
	lastSent  time.Time
}

func newStatusReporter(log *slog.Logger, messenger Messenger, job Job, minInterval time.Duration, now func() time.Time) *statusReporter {
	if now == nil {
		now = time.Now
	}
	return &statusReporter{
		messenger:   messenger,
		channelType: job.Channel,
		target:      job.ChatID,
		replyTo:     job.ReplyTo,
		minInterval: minInterval,
		now:         now,
		logger:      log,
	}
}

// Update posts text unless it repeats the last status or arrives before the
// minimum interval. Forced updates (stage changes, terminal states) always go out.
func (s *statusReporter) Update(ctx context.Context, text string, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !force {
		if text == s.lastText {
			return
		}
		if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.minInterval {
			return
		}
	}
	if err := s.deliverLocked(ctx, text); err != nil {
		s.logger.Warn("status update failed", slog.String("chat_id", s.target), slog.Any("error", err))
		return
	}
	s.lastText = text
	s.lastSent = now
}

func (s *statusReporter) deliverLocked(ctx context.Context, text string) error {
	msg := channel.Message{Text: text}
	if s.messageID != "" && s.messenger.SupportsEdit(s.channelType) {
		err := s.messenger.Update(ctx, s.channelType, s.target, s.messageID, msg)
		if err == nil {
			return nil
		}
		s.logger.Debug("status edit failed, resending", slog.Any("error", err))
	}
	if s.messageID != "" {
		if err := s.messenger.Unsend(ctx, s.channelType, s.target, s.messageID); err != nil {
			s.logger.Debug("status delete failed", slog.Any("error", err))
		}
		s.messageID = ""
	}
	if s.replyTo != "" {
		msg.Reply = &channel.ReplyRef{Target: s.target, MessageID: s.replyTo}
	}
	id, err := s.messenger.Send(ctx, s.channelType, s.target, msg)
	if err != nil {
		return err
	}
	s.messageID = id
	return nil
}
