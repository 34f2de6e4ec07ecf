// Package command turns chat lines such as "!pay 123 5" into ledger calls
// and answers every invocation with exactly one reply.
package command

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/memohai/coinbot/internal/accounts"
	"github.com/memohai/coinbot/internal/channel"
	"github.com/memohai/coinbot/internal/download"
	"github.com/memohai/coinbot/internal/identity"
	"github.com/memohai/coinbot/internal/ledger"
)

const (
	AuthSession = "session"
	AuthCard    = "card"

	DefaultPrefix           = "!"
	DefaultMaxInboundLength = 4000
	DefaultRateLimitPerSec  = 1.0
	DefaultRateLimitBurst   = 5

	maxLimiters = 10000
)

// Downloads accepts paid media jobs. *download.Worker implements it.
type Downloads interface {
	Submit(ctx context.Context, job download.Job) (int, error)
}

// Config holds router settings. A negative RateLimitPerSec disables rate limiting.
type Config struct {
	Prefix           string
	AuthMode         string
	SessionTTL       time.Duration
	RateLimitPerSec  float64
	RateLimitBurst   int
	MaxInboundLength int
	Download         DownloadConfig
}

// DownloadConfig prices media jobs and names the account that receives the charge.
type DownloadConfig struct {
	Enabled      bool
	Price        float64
	ReceiverID   string
	ReceiverCard string
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = DefaultPrefix
	}
	if c.AuthMode != AuthCard {
		c.AuthMode = AuthSession
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = accounts.DefaultSessionTTL
	}
	if c.RateLimitPerSec == 0 {
		c.RateLimitPerSec = DefaultRateLimitPerSec
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}
	if c.MaxInboundLength <= 0 {
		c.MaxInboundLength = DefaultMaxInboundLength
	}
	return c
}

type handlerFunc func(ctx context.Context, inv *invocation) (string, error)

// invocation is one parsed command line with its origin.
type invocation struct {
	verb      string
	args      []string
	channel   channel.ChannelType
	chatID    string
	messageID string
	// sender is the transport address of the author, variants every
	// address the author presents.
	sender   string
	variants []string
}

// Router implements channel.InboundProcessor and channel.OverloadHandler.
type Router struct {
	ledger    *ledger.Client
	store     accounts.Store
	resolver  *identity.Resolver
	downloads Downloads
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	handlers  map[string]handlerFunc

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouter creates a Router. downloads may be nil when media jobs are disabled.
func NewRouter(log *slog.Logger, cfg Config, client *ledger.Client, store accounts.Store, resolver *identity.Resolver, downloads Downloads) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		ledger:    client,
		store:     store,
		resolver:  resolver,
		downloads: downloads,
		cfg:       cfg.normalized(),
		logger:    log.With(slog.String("component", "command")),
		now:       time.Now,
		limiters:  map[string]*rate.Limiter{},
	}
	r.handlers = map[string]handlerFunc{
		"login":    r.handleLogin,
		"register": r.handleRegister,
		"logout":   r.handleLogout,
		"bal":      r.handleBalance,
		"balance":  r.handleBalance,
		"view":     r.handleView,
		"history":  r.handleHistory,
		"pay":      r.handlePay,
		"claim":    r.handleClaim,
		"card":     r.handleCard,
		"bill":     r.handleBill,
		"paybill":  r.handlePaybill,
		"backup":   r.handleBackup,
		"restore":  r.handleRestore,
		"rank":     r.handleRank,
		"global":   r.handleGlobal,
		"check":    r.handleCheck,
		"help":     r.handleHelp,
		"ajuda":    r.handleHelp,
		"download": r.handleDownload(download.KindAudio),
		"video":    r.handleDownload(download.KindVideo),
	}
	return r
}

// HandleInbound filters, parses and executes one message, then sends the reply.
func (r *Router) HandleInbound(ctx context.Context, _ channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) error {
	if msg.FromSelf {
		return nil
	}
	text := msg.Message.PlainText()
	if text == "" {
		return nil
	}
	if n := utf8.RuneCountInString(text); n > r.cfg.MaxInboundLength {
		r.logger.Debug("inbound message too long, ignored",
			slog.String("channel", msg.Channel.String()),
			slog.Int("length", n))
		return nil
	}
	inv, ok := r.parse(msg, text)
	if !ok {
		if msg.Conversation.IsDirect() || msg.MentionsBot {
			r.reply(ctx, sender, msg, introText)
		}
		return nil
	}
	if inv.sender == "" {
		r.logger.Warn("command without sender identity", slog.String("channel", msg.Channel.String()), slog.String("verb", inv.verb))
		r.reply(ctx, sender, msg, textUnexpected)
		return nil
	}
	if !r.allow(msg.Channel.String() + ":" + msg.Sender.SubjectID) {
		r.logger.Info("command rate limited", slog.String("sender", inv.sender), slog.String("verb", inv.verb))
		r.reply(ctx, sender, msg, textSlowDown)
		return nil
	}
	r.reply(ctx, sender, msg, r.execute(ctx, inv))
	return nil
}

// HandleOverload answers a command the channel manager dropped for lack of
// queue space. Plain chatter stays unanswered.
func (r *Router) HandleOverload(ctx context.Context, _ channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) {
	if msg.FromSelf {
		return
	}
	if _, ok := r.parse(msg, msg.Message.PlainText()); !ok {
		return
	}
	r.reply(ctx, sender, msg, textBusy)
}

// parse splits a prefixed line into a lowercase verb and its arguments.
// Mentions that carry a subject id are rewritten to "<@id>" first, so a user
// mentioned by display name resolves by id.
func (r *Router) parse(msg channel.InboundMessage, text string) (*invocation, bool) {
	if !strings.HasPrefix(text, r.cfg.Prefix) {
		return nil, false
	}
	fields := strings.Fields(substituteMentions(text[len(r.cfg.Prefix):], msg.Mentions))
	if len(fields) == 0 {
		return nil, false
	}
	ct := msg.Channel.String()
	return &invocation{
		verb:      strings.ToLower(fields[0]),
		args:      fields[1:],
		channel:   msg.Channel,
		chatID:    replyTarget(msg),
		messageID: msg.Message.ID,
		sender:    identity.Address(ct, msg.Sender.SubjectID),
		variants:  identity.Variants(ct, msg.Sender.SubjectID, msg.Sender.Username()),
	}, true
}

func substituteMentions(text string, mentions []channel.Mention) string {
	var b strings.Builder
	rest := text
	for _, m := range mentions {
		if m.SubjectID == "" || m.Text == "" {
			continue
		}
		i := strings.Index(rest, m.Text)
		if i < 0 {
			continue
		}
		b.WriteString(rest[:i])
		b.WriteString("<@" + m.SubjectID + ">")
		rest = rest[i+len(m.Text):]
	}
	b.WriteString(rest)
	return b.String()
}

// execute runs the handler for inv and always returns reply text. Panics and
// errors are converted here so no invocation goes unanswered.
func (r *Router) execute(ctx context.Context, inv *invocation) (reply string) {
	log := r.logger.With(slog.String("verb", inv.verb), slog.String("sender", inv.sender))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command panic", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
			reply = textUnexpected
		}
	}()

	handler, ok := r.handlers[inv.verb]
	if !ok {
		return textUnknownCommand
	}
	started := r.now()
	out, err := handler(ctx, inv)
	if err != nil {
		text, expected := replyForError(err)
		if expected {
			log.Info("command rejected", slog.Any("error", err))
		} else {
			log.Error("command failed", slog.Any("error", err))
		}
		return text
	}
	log.Debug("command done", slog.Duration("elapsed", r.now().Sub(started)))
	return out
}

func (r *Router) reply(ctx context.Context, sender channel.ReplySender, msg channel.InboundMessage, text string) {
	if sender == nil {
		r.logger.Warn("no reply sender", slog.String("channel", msg.Channel.String()))
		return
	}
	target := replyTarget(msg)
	out := channel.OutboundMessage{Target: target, Message: channel.Message{Text: text}}
	if msg.Message.ID != "" {
		out.Message.Reply = &channel.ReplyRef{Target: target, MessageID: msg.Message.ID}
	}
	if _, err := sender.Send(ctx, out); err != nil {
		r.logger.Error("reply failed",
			slog.String("channel", msg.Channel.String()),
			slog.String("target", target),
			slog.Any("error", err))
	}
}

func replyTarget(msg channel.InboundMessage) string {
	if target := strings.TrimSpace(msg.ReplyTarget); target != "" {
		return target
	}
	return strings.TrimSpace(msg.Conversation.ID)
}

// allow applies the per-sender token bucket.
func (r *Router) allow(key string) bool {
	if r.cfg.RateLimitPerSec <= 0 {
		return true
	}
	now := r.now()
	r.limMu.Lock()
	defer r.limMu.Unlock()
	lim, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxLimiters {
			r.pruneLimitersLocked(now)
		}
		lim = rate.NewLimiter(rate.Limit(r.cfg.RateLimitPerSec), r.cfg.RateLimitBurst)
		r.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// pruneLimitersLocked drops limiters whose bucket has refilled; they carry no state.
func (r *Router) pruneLimitersLocked(now time.Time) {
	for key, lim := range r.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(r.limiters, key)
		}
	}
}
