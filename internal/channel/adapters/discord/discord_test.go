package discord

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/coinbot/internal/channel"
)

type fakeSession struct {
	sent    []*discordgo.MessageSend
	bodies  []string
	edits   []string
	deletes []string
}

func (s *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.sent = append(s.sent, data)
	for _, f := range data.Files {
		body, _ := io.ReadAll(f.Reader)
		s.bodies = append(s.bodies, string(body))
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (s *fakeSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.edits = append(s.edits, messageID+":"+content)
	return &discordgo.Message{ID: messageID}, nil
}

func (s *fakeSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	s.deletes = append(s.deletes, messageID)
	return nil
}

func TestBuildInboundMessage(t *testing.T) {
	t.Parallel()

	m := &discordgo.Message{
		ID:        "1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "!pay <@222> 3",
		Author:    &discordgo.User{ID: "111", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: "222"}, {ID: "999"}},
	}
	msg, ok := buildInboundMessage(m, "999")
	if !ok {
		t.Fatal("expected message")
	}
	if msg.Sender.SubjectID != "111" || msg.Sender.Username() != "alice" {
		t.Fatalf("unexpected sender: %+v", msg.Sender)
	}
	if len(msg.Mentions) != 2 || msg.Mentions[0].SubjectID != "222" || !msg.MentionsBot {
		t.Fatalf("unexpected mentions: %#v %v", msg.Mentions, msg.MentionsBot)
	}
	if msg.Conversation.IsDirect() || msg.FromSelf {
		t.Fatalf("unexpected flags: %+v", msg)
	}

	dm := &discordgo.Message{ID: "2", ChannelID: "dm", Content: "oi", Author: &discordgo.User{ID: "999", Bot: true}}
	msg, ok = buildInboundMessage(dm, "999")
	if !ok || !msg.FromSelf || !msg.Conversation.IsDirect() {
		t.Fatalf("unexpected dm: %+v", msg)
	}

	if _, ok := buildInboundMessage(&discordgo.Message{Author: &discordgo.User{ID: "1"}}, "999"); ok {
		t.Fatal("empty content should be skipped")
	}
}

func TestSendUploadsLocalFile(t *testing.T) {
	session := &fakeSession{}
	getSessionForTest = func(*DiscordAdapter, string) (messageSession, error) { return session, nil }
	t.Cleanup(func() { getSessionForTest = nil })

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	adapter := NewDiscordAdapter(nil)
	cfg := channel.ChannelConfig{ID: "discord", Credentials: map[string]any{"botToken": "t"}}

	id, err := adapter.Send(context.Background(), cfg, channel.OutboundMessage{
		Target: "c1",
		Message: channel.Message{
			Attachments: []channel.Attachment{{Type: channel.AttachmentVideo, Path: path, Caption: "✅ pronto"}},
			Reply:       &channel.ReplyRef{MessageID: "src"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "m1" {
		t.Fatalf("unexpected id %q", id)
	}
	got := session.sent[0]
	if got.Content != "✅ pronto" || got.Reference == nil || got.Reference.MessageID != "src" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Files) != 1 || got.Files[0].Name != "clip.mp4" || session.bodies[0] != "video-bytes" {
		t.Fatalf("unexpected files: %+v", got.Files)
	}

	if err := adapter.Update(context.Background(), cfg, "c1", "m1", channel.Message{Text: "42%"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := adapter.Unsend(context.Background(), cfg, "c1", "m1"); err != nil {
		t.Fatalf("unsend: %v", err)
	}
	if len(session.edits) != 1 || session.edits[0] != "m1:42%" || len(session.deletes) != 1 {
		t.Fatalf("unexpected edits/deletes: %v %v", session.edits, session.deletes)
	}
}

func TestSendMissingFileFails(t *testing.T) {
	session := &fakeSession{}
	getSessionForTest = func(*DiscordAdapter, string) (messageSession, error) { return session, nil }
	t.Cleanup(func() { getSessionForTest = nil })

	adapter := NewDiscordAdapter(nil)
	cfg := channel.ChannelConfig{Credentials: map[string]any{"botToken": "t"}}
	_, err := adapter.Send(context.Background(), cfg, channel.OutboundMessage{
		Target:  "c1",
		Message: channel.Message{Attachments: []channel.Attachment{{Path: "/nonexistent/file.mp3"}}},
	})
	if err == nil || !strings.Contains(err.Error(), "open attachment") {
		t.Fatalf("expected open error, got %v", err)
	}
	if len(session.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestTruncateDiscordText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ã", discordMaxLength+10)
	got := truncateDiscordText(long)
	if n := len([]rune(got)); n != discordMaxLength {
		t.Fatalf("unexpected rune length %d", n)
	}
	if truncateDiscordText("ok") != "ok" {
		t.Fatal("short text must be unchanged")
	}
}

func TestIsDuplicateInbound(t *testing.T) {
	t.Parallel()

	adapter := NewDiscordAdapter(nil)
	if adapter.isDuplicateInbound("tok", "1") {
		t.Fatal("first sighting is not a duplicate")
	}
	if !adapter.isDuplicateInbound("tok", "1") {
		t.Fatal("second sighting is a duplicate")
	}
	if adapter.isDuplicateInbound("other", "1") {
		t.Fatal("different token is not a duplicate")
	}
}

func TestParseConfigRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := parseConfig(map[string]any{}); err == nil {
		t.Fatal("expected error")
	}
	cfg, err := parseConfig(map[string]any{"bot_token": " abc "})
	if err != nil || cfg.BotToken != "abc" {
		t.Fatalf("unexpected: %+v %v", cfg, err)
	}
}
