// Package channel provides a unified abstraction for chat transports.
// It defines types, interfaces, and a registry for channel adapters such as Telegram and Discord.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram", "discord").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Username returns the platform handle, if the adapter reported one.
func (i Identity) Username() string {
	return i.Attribute("username")
}

// Conversation holds metadata about the chat or group context.
type Conversation struct {
	ID   string
	Type string
	Name string
}

// IsDirect reports whether the conversation is a one-to-one chat with the bot.
func (c Conversation) IsDirect() bool {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "private", "p2p", "dm", "direct":
		return true
	}
	return false
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel      ChannelType
	Message      Message
	ReplyTarget  string
	Sender       Identity
	Conversation Conversation
	// Mentions lists the users mentioned in the text, in message order.
	Mentions    []Mention
	MentionsBot bool
	FromSelf    bool
	ReceivedAt  time.Time
	Metadata    map[string]any
}

// Mention is one user reference inside a message. Handle is set for
// @username mentions and SubjectID when the transport names the user
// directly. Text is the span as it appears in the message.
type Mention struct {
	Text      string
	Handle    string
	SubjectID string
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a file sent with a message. Outbound attachments are read from Path.
type Attachment struct {
	Type    AttachmentType `json:"type"`
	Path    string         `json:"path,omitempty"`
	URL     string         `json:"url,omitempty"`
	Name    string         `json:"name,omitempty"`
	Size    int64          `json:"size,omitempty"`
	Mime    string         `json:"mime,omitempty"`
	Caption string         `json:"caption,omitempty"`
}

// Reference returns the local path, or the URL when no path is set.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.Path) != "" {
		return strings.TrimSpace(a.Path)
	}
	return strings.TrimSpace(a.URL)
}

// ReplyRef points to a message being replied to.
type ReplyRef struct {
	Target    string `json:"target,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Message is the unified message structure used across all channels.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Reply       *ReplyRef      `json:"reply,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// PlainText returns the trimmed text.
func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}

// ChannelConfig holds the configuration for one transport connection.
type ChannelConfig struct {
	ID          string         `json:"id"`
	ChannelType ChannelType    `json:"channel_type"`
	Credentials map[string]any `json:"credentials"`
	Disabled    bool           `json:"disabled"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ChannelCapabilities describes what an adapter can deliver.
type ChannelCapabilities struct {
	Text        bool `json:"text"`
	Attachments bool `json:"attachments"`
	Edit        bool `json:"edit"`
	Unsend      bool `json:"unsend"`
	Reply       bool `json:"reply"`
}
