package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/coinbot/internal/channel"
)

const (
	telegramMaxMessageLength = 4096
	telegramChunkLimit       = 4000
)

// botClient is the subset of the Bot API used for outbound calls.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramAdapter implements channel.Adapter, channel.Sender, channel.MessageEditor and channel.Receiver.
type TelegramAdapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

var getClientForTest func(a *TelegramAdapter, token string) (botClient, error)

func (a *TelegramAdapter) getOrCreateBot(token, configID string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *TelegramAdapter) client(cfg channel.ChannelConfig) (botClient, error) {
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	if getClientForTest != nil {
		return getClientForTest(a, telegramCfg.BotToken)
	}
	return a.getOrCreateBot(telegramCfg.BotToken, cfg.ID)
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Edit:        true,
			Unsend:      true,
			Reply:       true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: telegramChunkLimit,
			MediaOrder:     channel.OutboundOrderTextFirst,
		},
	}
}

// Connect starts long-polling for Telegram updates and forwards messages to the handler.
func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(telegramCfg.BotToken)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				msg, ok := buildInboundMessage(update.Message, bot.Self)
				if !ok {
					continue
				}
				a.logger.Debug("inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_type", msg.Conversation.Type),
					slog.String("chat_id", msg.Conversation.ID),
					slog.String("user_id", msg.Sender.SubjectID))
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		// Drain so the library's polling goroutine can exit; an in-flight
		// getUpdates would otherwise conflict with the next connection.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(cfg, stop), nil
}

func buildInboundMessage(m *tgbotapi.Message, self tgbotapi.User) (channel.InboundMessage, bool) {
	if m == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	entities := m.Entities
	if text == "" {
		text = strings.TrimSpace(m.Caption)
		entities = m.CaptionEntities
	}
	if text == "" {
		return channel.InboundMessage{}, false
	}
	subjectID, displayName, attrs := resolveTelegramSender(m)
	chatID, chatType, chatName := "", "", ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
		chatType = strings.TrimSpace(m.Chat.Type)
		chatName = strings.TrimSpace(m.Chat.Title)
	}
	mentions := extractMentions(text, entities)
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:    strconv.Itoa(m.MessageID),
			Text:  text,
			Reply: buildTelegramReplyRef(m, chatID),
		},
		ReplyTarget: chatID,
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Conversation: channel.Conversation{
			ID:   chatID,
			Type: chatType,
			Name: chatName,
		},
		Mentions:    mentions,
		MentionsBot: isTelegramBotMentioned(mentions, self),
		FromSelf:    m.From != nil && self.ID != 0 && m.From.ID == self.ID,
		ReceivedAt:  time.Unix(int64(m.Date), 0).UTC(),
	}, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		userID := strconv.FormatInt(msg.From.ID, 10)
		username := strings.TrimSpace(msg.From.UserName)
		attrs["user_id"] = userID
		if username != "" {
			attrs["username"] = username
		}
		displayName := username
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return userID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		if msg.SenderChat.UserName != "" {
			attrs["username"] = strings.TrimSpace(msg.SenderChat.UserName)
		}
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

// extractMentions returns @handles and text_mention users in message order.
// Entity offsets are in UTF-16 code units.
func extractMentions(text string, entities []tgbotapi.MessageEntity) []channel.Mention {
	if len(entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(text))
	var mentions []channel.Mention
	for _, entity := range entities {
		end := entity.Offset + entity.Length
		if entity.Offset < 0 || entity.Length <= 0 || end > len(units) {
			continue
		}
		span := string(utf16.Decode(units[entity.Offset:end]))
		switch entity.Type {
		case "mention":
			if entity.Length <= 1 {
				continue
			}
			mentions = append(mentions, channel.Mention{Text: span, Handle: strings.TrimPrefix(span, "@")})
		case "text_mention":
			if entity.User != nil {
				mentions = append(mentions, channel.Mention{Text: span, SubjectID: strconv.FormatInt(entity.User.ID, 10)})
			}
		}
	}
	return mentions
}

func isTelegramBotMentioned(mentions []channel.Mention, self tgbotapi.User) bool {
	botName := strings.TrimPrefix(strings.TrimSpace(self.UserName), "@")
	selfID := strconv.FormatInt(self.ID, 10)
	for _, mention := range mentions {
		if botName != "" && strings.EqualFold(mention.Handle, botName) {
			return true
		}
		if self.ID != 0 && mention.SubjectID == selfID {
			return true
		}
	}
	return false
}

func buildTelegramReplyRef(msg *tgbotapi.Message, chatID string) *channel.ReplyRef {
	if msg == nil || msg.ReplyToMessage == nil {
		return nil
	}
	return &channel.ReplyRef{
		MessageID: strconv.Itoa(msg.ReplyToMessage.MessageID),
		Target:    strings.TrimSpace(chatID),
	}
}

// Send delivers one outbound message and returns the Telegram message id.
func (a *TelegramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) (string, error) {
	chatID, err := parseChatID(msg.Target)
	if err != nil {
		return "", err
	}
	if msg.Message.IsEmpty() {
		return "", fmt.Errorf("message is required")
	}
	bot, err := a.client(cfg)
	if err != nil {
		return "", err
	}
	replyTo := parseReplyToMessageID(msg.Message.Reply)
	if len(msg.Message.Attachments) > 0 {
		var lastID int
		for i, att := range msg.Message.Attachments {
			caption := strings.TrimSpace(att.Caption)
			if i == 0 && caption == "" {
				caption = msg.Message.PlainText()
			}
			sent, err := sendTelegramAttachment(bot, chatID, att, caption, replyTo)
			if err != nil {
				a.logger.Error("send attachment failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				return "", err
			}
			lastID = sent.MessageID
			replyTo = 0
		}
		return strconv.Itoa(lastID), nil
	}
	sent, err := sendTelegramText(bot, chatID, msg.Message.PlainText(), replyTo)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Update edits the text of a previously sent message.
func (a *TelegramAdapter) Update(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string, msg channel.Message) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return fmt.Errorf("telegram message id must be numeric")
	}
	bot, err := a.client(cfg)
	if err != nil {
		return err
	}
	return editTelegramMessageText(bot, chatID, id, msg.PlainText())
}

// Unsend deletes a previously sent message.
func (a *TelegramAdapter) Unsend(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return fmt.Errorf("telegram message id must be numeric")
	}
	bot, err := a.client(cfg)
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.NewDeleteMessage(chatID, id))
	return err
}

func parseChatID(target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return 0, fmt.Errorf("telegram target is required")
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram target must be a chat_id")
	}
	return chatID, nil
}

func parseReplyToMessageID(reply *channel.ReplyRef) int {
	if reply == nil {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(reply.MessageID))
	if err != nil {
		return 0
	}
	return value
}

// sendTelegramText sends with legacy Markdown and retries as plain text when
// Telegram rejects the entities, which happens with user-supplied underscores.
func sendTelegramText(bot botClient, chatID int64, text string, replyTo int) (tgbotapi.Message, error) {
	text = truncateTelegramText(sanitizeTelegramText(text))
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown
	message.ReplyToMessageID = replyTo
	sent, err := bot.Send(message)
	if err != nil && isTelegramEntityParseError(err) {
		message.ParseMode = ""
		sent, err = bot.Send(message)
	}
	return sent, err
}

// editTelegramMessageText treats "message is not modified" as success.
func editTelegramMessageText(bot botClient, chatID int64, messageID int, text string) error {
	text = truncateTelegramText(sanitizeTelegramText(text))
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := bot.Send(edit)
	if err != nil && isTelegramEntityParseError(err) {
		edit.ParseMode = ""
		_, err = bot.Send(edit)
	}
	if err != nil && isTelegramMessageNotModified(err) {
		return nil
	}
	return err
}

func sendTelegramAttachment(bot botClient, chatID int64, att channel.Attachment, caption string, replyTo int) (tgbotapi.Message, error) {
	var file tgbotapi.RequestFileData
	switch {
	case strings.TrimSpace(att.Path) != "":
		file = tgbotapi.FilePath(strings.TrimSpace(att.Path))
	case strings.TrimSpace(att.URL) != "":
		file = tgbotapi.FileURL(strings.TrimSpace(att.URL))
	default:
		return tgbotapi.Message{}, fmt.Errorf("attachment reference is required")
	}
	caption = truncateTelegramCaption(sanitizeTelegramText(caption))
	switch att.Type {
	case channel.AttachmentAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = caption
		audio.ReplyToMessageID = replyTo
		return bot.Send(audio)
	case channel.AttachmentVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.SupportsStreaming = true
		video.ReplyToMessageID = replyTo
		return bot.Send(video)
	case channel.AttachmentFile, "":
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		document.ReplyToMessageID = replyTo
		return bot.Send(document)
	default:
		return tgbotapi.Message{}, fmt.Errorf("unsupported attachment type: %s", att.Type)
	}
}

func telegramAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var value tgbotapi.Error
	if errors.As(err, &value) {
		return value, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramMessageNotModified(err error) bool {
	apiErr, ok := telegramAPIError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
}

func isTelegramEntityParseError(err error) bool {
	apiErr, ok := telegramAPIError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "can't parse entities")
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a rune
// boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	return truncateUTF8(text, telegramMaxMessageLength)
}

func truncateTelegramCaption(text string) string {
	return truncateUTF8(text, 1024)
}

func truncateUTF8(text string, max int) string {
	if len(text) <= max {
		return text
	}
	const suffix = "..."
	limit := max - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
