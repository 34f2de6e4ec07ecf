package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/coinbot/internal/channel"
)

const (
	inboundDedupTTL   = time.Minute
	discordMaxLength  = 2000
	discordChunkLimit = 1900
)

// messageSession is the subset of the discordgo session used for outbound calls.
type messageSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

type DiscordAdapter struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	sessions        map[string]*discordgo.Session // keyed by bot token
	handlerRemovers map[string]func()             // keyed by bot token
	seenMessages    map[string]time.Time          // keyed by token:messageID
}

func NewDiscordAdapter(log *slog.Logger) *DiscordAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAdapter{
		logger:          log.With(slog.String("adapter", "discord")),
		sessions:        make(map[string]*discordgo.Session),
		handlerRemovers: make(map[string]func()),
		seenMessages:    make(map[string]time.Time),
	}
}

func (a *DiscordAdapter) Type() channel.ChannelType {
	return Type
}

func (a *DiscordAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Edit:        true,
			Unsend:      true,
			Reply:       true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: discordChunkLimit,
			MediaOrder:     channel.OutboundOrderTextFirst,
		},
	}
}

var getSessionForTest func(a *DiscordAdapter, token string) (messageSession, error)

func (a *DiscordAdapter) getOrCreateSession(token, configID string) (*discordgo.Session, error) {
	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()
	if ok {
		return session, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[token]; ok {
		return s, nil
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		a.logger.Error("create session failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	a.sessions[token] = session
	return session, nil
}

func (a *DiscordAdapter) outboundSession(cfg channel.ChannelConfig) (messageSession, error) {
	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if getSessionForTest != nil {
		return getSessionForTest(a, discordCfg.BotToken)
	}
	return a.getOrCreateSession(discordCfg.BotToken, cfg.ID)
}

func (a *DiscordAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))

	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	session, err := a.getOrCreateSession(discordCfg.BotToken, cfg.ID)
	if err != nil {
		return nil, err
	}

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if ctx.Err() != nil || m.Message == nil {
			return
		}
		if a.isDuplicateInbound(discordCfg.BotToken, m.ID) {
			return
		}
		botID := ""
		if s.State != nil && s.State.User != nil {
			botID = s.State.User.ID
		}
		msg, ok := buildInboundMessage(m.Message, botID)
		if !ok {
			return
		}
		a.logger.Debug("inbound received",
			slog.String("config_id", cfg.ID),
			slog.String("chat_type", msg.Conversation.Type),
			slog.String("user_id", msg.Sender.SubjectID))
		if err := handler(ctx, cfg, msg); err != nil {
			a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	})

	a.swapHandlerRemover(discordCfg.BotToken, remove)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord open connection: %w", err)
	}

	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		if remove := a.clearSessionState(discordCfg.BotToken); remove != nil {
			remove()
		}
		return session.Close()
	}

	return channel.NewConnection(cfg, stop), nil
}

func buildInboundMessage(m *discordgo.Message, botID string) (channel.InboundMessage, bool) {
	if m == nil || m.Author == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	chatType := "direct"
	if m.GuildID != "" {
		chatType = "guild"
	}
	var mentions []channel.Mention
	mentionsBot := false
	for _, user := range m.Mentions {
		if user == nil {
			continue
		}
		mentions = append(mentions, channel.Mention{Text: "<@" + user.ID + ">", Handle: user.Username, SubjectID: user.ID})
		if botID != "" && user.ID == botID {
			mentionsBot = true
		}
	}
	var reply *channel.ReplyRef
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		reply = &channel.ReplyRef{Target: m.ChannelID, MessageID: m.MessageReference.MessageID}
	}
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:    m.ID,
			Text:  text,
			Reply: reply,
		},
		ReplyTarget: m.ChannelID,
		Sender: channel.Identity{
			SubjectID:   m.Author.ID,
			DisplayName: m.Author.Username,
			Attributes: map[string]string{
				"user_id":  m.Author.ID,
				"username": m.Author.Username,
			},
		},
		Conversation: channel.Conversation{
			ID:   m.ChannelID,
			Type: chatType,
		},
		Mentions:    mentions,
		MentionsBot: mentionsBot,
		FromSelf:    m.Author.Bot && (botID == "" || m.Author.ID == botID),
		ReceivedAt:  time.Now().UTC(),
		Metadata: map[string]any{
			"guild_id": m.GuildID,
		},
	}, true
}

// Send delivers one outbound message and returns the Discord message id.
func (a *DiscordAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) (string, error) {
	channelID := strings.TrimSpace(msg.Target)
	if channelID == "" {
		return "", fmt.Errorf("discord target is required")
	}
	if msg.Message.IsEmpty() {
		return "", fmt.Errorf("message is required")
	}
	session, err := a.outboundSession(cfg)
	if err != nil {
		return "", err
	}

	send := &discordgo.MessageSend{Content: truncateDiscordText(msg.Message.PlainText())}
	if msg.Message.Reply != nil && msg.Message.Reply.MessageID != "" {
		send.Reference = &discordgo.MessageReference{
			ChannelID: channelID,
			MessageID: msg.Message.Reply.MessageID,
		}
	}
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, att := range msg.Message.Attachments {
		if send.Content == "" && strings.TrimSpace(att.Caption) != "" {
			send.Content = truncateDiscordText(att.Caption)
		}
		path := strings.TrimSpace(att.Path)
		if path == "" {
			// Remote references are posted as links.
			if url := strings.TrimSpace(att.URL); url != "" {
				send.Content = strings.TrimSpace(send.Content + "\n" + url)
				continue
			}
			return "", fmt.Errorf("attachment reference is required")
		}
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open attachment: %w", err)
		}
		opened = append(opened, f)
		name := strings.TrimSpace(att.Name)
		if name == "" {
			name = filepath.Base(path)
		}
		send.Files = append(send.Files, &discordgo.File{
			Name:        name,
			ContentType: att.Mime,
			Reader:      f,
		})
	}

	sent, err := session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if sent == nil {
		return "", nil
	}
	return sent.ID, nil
}

// Update edits the content of a previously sent message.
func (a *DiscordAdapter) Update(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string, msg channel.Message) error {
	session, err := a.outboundSession(cfg)
	if err != nil {
		return err
	}
	_, err = session.ChannelMessageEdit(strings.TrimSpace(target), strings.TrimSpace(messageID), truncateDiscordText(msg.PlainText()), discordgo.WithContext(ctx))
	return err
}

// Unsend deletes a previously sent message.
func (a *DiscordAdapter) Unsend(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string) error {
	session, err := a.outboundSession(cfg)
	if err != nil {
		return err
	}
	return session.ChannelMessageDelete(strings.TrimSpace(target), strings.TrimSpace(messageID), discordgo.WithContext(ctx))
}

func truncateDiscordText(text string) string {
	if utf8.RuneCountInString(text) <= discordMaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:discordMaxLength-3]) + "..."
}

func (a *DiscordAdapter) isDuplicateInbound(token, messageID string) bool {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(messageID) == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}

	seenKey := token + ":" + messageID
	if _, ok := a.seenMessages[seenKey]; ok {
		return true
	}
	a.seenMessages[seenKey] = now
	return false
}

func (a *DiscordAdapter) swapHandlerRemover(token string, remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if oldRemove := a.handlerRemovers[token]; oldRemove != nil {
		oldRemove()
	}
	a.handlerRemovers[token] = remove
}

func (a *DiscordAdapter) clearSessionState(token string) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	remove := a.handlerRemovers[token]
	delete(a.handlerRemovers, token)
	delete(a.sessions, token)
	return remove
}
