package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/coinbot/internal/channel"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failOnce error
	nextID   int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.failOnce != nil {
		err := f.failOnce
		f.failOnce = nil
		return tgbotapi.Message{}, err
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestResolveTelegramSender(t *testing.T) {
	t.Parallel()

	externalID, displayName, attrs := resolveTelegramSender(nil)
	if externalID != "" || displayName != "" || len(attrs) != 0 {
		t.Fatalf("expected empty sender")
	}
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "alice"},
	}
	externalID, displayName, attrs = resolveTelegramSender(msg)
	if externalID != "123" || displayName != "alice" {
		t.Fatalf("unexpected sender: %s %s", externalID, displayName)
	}
	if attrs["user_id"] != "123" || attrs["username"] != "alice" {
		t.Fatalf("unexpected attrs: %#v", attrs)
	}
}

func TestResolveTelegramSender_SenderChat(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		SenderChat: &tgbotapi.Chat{ID: 456, UserName: "group", Title: "My Group"},
	}
	externalID, displayName, attrs := resolveTelegramSender(msg)
	if externalID != "456" || displayName != "My Group" {
		t.Fatalf("unexpected sender: %s %s", externalID, displayName)
	}
	if attrs["sender_chat_id"] != "456" || attrs["username"] != "group" {
		t.Fatalf("unexpected attrs: %#v", attrs)
	}
}

func TestExtractMentionsUsesUTF16Offsets(t *testing.T) {
	t.Parallel()

	// The emoji occupies two UTF-16 units, shifting the entity offset.
	text := "😀 !pay @bob 5"
	entities := []tgbotapi.MessageEntity{
		{Type: "mention", Offset: 8, Length: 4},
		{Type: "text_mention", Offset: 0, Length: 2, User: &tgbotapi.User{ID: 77}},
		{Type: "bold", Offset: 0, Length: 2},
	}
	got := extractMentions(text, entities)
	want := []channel.Mention{
		{Text: "@bob", Handle: "bob"},
		{Text: "😀", SubjectID: "77"},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected mentions: %#v", got)
	}
}

func TestBuildInboundMessage(t *testing.T) {
	t.Parallel()

	self := tgbotapi.User{ID: 999, UserName: "CoinBot", IsBot: true}

	t.Run("caption fallback and bot mention", func(t *testing.T) {
		t.Parallel()
		m := &tgbotapi.Message{
			MessageID:       10,
			From:            &tgbotapi.User{ID: 5, UserName: "alice"},
			Chat:            &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "g"},
			Caption:         "@coinbot hi",
			CaptionEntities: []tgbotapi.MessageEntity{{Type: "mention", Offset: 0, Length: 8}},
		}
		msg, ok := buildInboundMessage(m, self)
		if !ok {
			t.Fatal("expected message")
		}
		if msg.Message.Text != "@coinbot hi" || !msg.MentionsBot || msg.FromSelf {
			t.Fatalf("unexpected inbound: %+v", msg)
		}
		if msg.Conversation.IsDirect() || msg.ReplyTarget != "-100" {
			t.Fatalf("unexpected conversation: %+v", msg.Conversation)
		}
	})

	t.Run("self message", func(t *testing.T) {
		t.Parallel()
		m := &tgbotapi.Message{
			From: &tgbotapi.User{ID: 999},
			Chat: &tgbotapi.Chat{ID: 5, Type: "private"},
			Text: "!bal",
		}
		msg, ok := buildInboundMessage(m, self)
		if !ok || !msg.FromSelf || !msg.Conversation.IsDirect() {
			t.Fatalf("unexpected inbound: %+v", msg)
		}
	})

	t.Run("empty text skipped", func(t *testing.T) {
		t.Parallel()
		if _, ok := buildInboundMessage(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}, self); ok {
			t.Fatal("expected skip")
		}
		if _, ok := buildInboundMessage(nil, self); ok {
			t.Fatal("expected skip for nil")
		}
	})
}

func TestParseReplyToMessageID(t *testing.T) {
	t.Parallel()

	if got := parseReplyToMessageID(nil); got != 0 {
		t.Fatalf("nil reply should return 0: %d", got)
	}
	if got := parseReplyToMessageID(&channel.ReplyRef{MessageID: "  123  "}); got != 123 {
		t.Fatalf("expected 123: %d", got)
	}
	if got := parseReplyToMessageID(&channel.ReplyRef{MessageID: "abc"}); got != 0 {
		t.Fatalf("invalid number should return 0: %d", got)
	}
}

func TestSendTelegramTextFallsBackToPlain(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failOnce: &tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities: unclosed"}}
	sent, err := sendTelegramText(bot, 42, "user_name *oops", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.MessageID != 1 {
		t.Fatalf("unexpected message id: %d", sent.MessageID)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected retry, got %d sends", len(bot.sent))
	}
	first := bot.sent[0].(tgbotapi.MessageConfig)
	second := bot.sent[1].(tgbotapi.MessageConfig)
	if first.ParseMode != tgbotapi.ModeMarkdown || second.ParseMode != "" {
		t.Fatalf("unexpected parse modes: %q %q", first.ParseMode, second.ParseMode)
	}
	if second.ReplyToMessageID != 7 {
		t.Fatalf("reply lost on retry: %d", second.ReplyToMessageID)
	}
}

func TestEditIgnoresNotModified(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{failOnce: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	if err := editTelegramMessageText(bot, 1, 2, "same"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAdapterSendUpdateUnsend(t *testing.T) {
	bot := &fakeBot{}
	getClientForTest = func(*TelegramAdapter, string) (botClient, error) { return bot, nil }
	t.Cleanup(func() { getClientForTest = nil })

	adapter := NewTelegramAdapter(nil)
	cfg := channel.ChannelConfig{ID: "telegram", Credentials: map[string]any{"botToken": "t"}}
	ctx := context.Background()

	id, err := adapter.Send(ctx, cfg, channel.OutboundMessage{
		Target: "42",
		Message: channel.Message{
			Text:        "✅ done",
			Attachments: []channel.Attachment{{Type: channel.AttachmentAudio, Path: "/tmp/a.mp3"}},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "1" {
		t.Fatalf("unexpected id %q", id)
	}
	audio, ok := bot.sent[0].(tgbotapi.AudioConfig)
	if !ok || audio.Caption != "✅ done" {
		t.Fatalf("unexpected chattable: %#v", bot.sent[0])
	}

	if err := adapter.Update(ctx, cfg, "42", id, channel.Message{Text: "50%"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := adapter.Unsend(ctx, cfg, "42", id); err != nil {
		t.Fatalf("unsend: %v", err)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("expected delete request, got %d", len(bot.requests))
	}
	if err := adapter.Update(ctx, cfg, "42", "abc", channel.Message{Text: "x"}); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if _, err := adapter.Send(ctx, cfg, channel.OutboundMessage{Target: "@chan", Message: channel.Message{Text: "x"}}); err == nil || !strings.Contains(err.Error(), "chat_id") {
		t.Fatalf("expected chat_id error, got %v", err)
	}
}

func TestTruncateTelegramText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", telegramMaxMessageLength)
	got := truncateTelegramText(long)
	if len(got) > telegramMaxMessageLength || !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("bad truncation: len=%d", len(got))
	}
	if truncateTelegramText("short") != "short" {
		t.Fatal("short text must be unchanged")
	}
}

func TestTelegramDescriptor(t *testing.T) {
	t.Parallel()

	adapter := NewTelegramAdapter(nil)
	desc := adapter.Descriptor()
	if adapter.Type() != Type || desc.Type != Type {
		t.Fatalf("unexpected type: %s", adapter.Type())
	}
	if !desc.Capabilities.Edit || !desc.Capabilities.Attachments {
		t.Fatalf("unexpected capabilities: %+v", desc.Capabilities)
	}
}
