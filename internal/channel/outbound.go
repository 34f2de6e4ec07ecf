package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// OutboundOrder controls the delivery order of text and file messages.
type OutboundOrder string

const (
	OutboundOrderMediaFirst OutboundOrder = "media_first"
	OutboundOrderTextFirst  OutboundOrder = "text_first"
)

// OutboundPolicy configures how outbound messages are chunked, ordered, and retried.
type OutboundPolicy struct {
	TextChunkLimit int           `json:"text_chunk_limit,omitempty"`
	MediaOrder     OutboundOrder `json:"media_order,omitempty"`
	RetryMax       int           `json:"retry_max,omitempty"`
	RetryBackoffMs int           `json:"retry_backoff_ms,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with sensible defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = 2000
	}
	if policy.MediaOrder == "" {
		policy.MediaOrder = OutboundOrderTextFirst
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = 3
	}
	if policy.RetryBackoffMs <= 0 {
		policy.RetryBackoffMs = 500
	}
	return policy
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	var chunks []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	for _, line := range strings.Split(trimmed, "\n") {
		lineLen := runeLen(line)
		if bufLen > 0 && bufLen+1+lineLen <= limit {
			buf.WriteByte('\n')
			buf.WriteString(line)
			bufLen += 1 + lineLen
			continue
		}
		flush()
		if lineLen > limit {
			chunks = append(chunks, splitLongLine(line, limit)...)
			continue
		}
		buf.WriteString(line)
		bufLen = lineLen
	}
	flush()
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	var chunks []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		if segment := strings.TrimSpace(string(runes[start:end])); segment != "" {
			chunks = append(chunks, segment)
		}
	}
	return chunks
}

func (m *Manager) resolveOutboundPolicy(channelType ChannelType) OutboundPolicy {
	policy, _ := m.registry.GetOutboundPolicy(channelType)
	return NormalizeOutboundPolicy(policy)
}

// buildOutboundMessages splits an outbound message into text chunks and one
// message per attachment, ordered by the policy.
func buildOutboundMessages(msg OutboundMessage, policy OutboundPolicy) ([]OutboundMessage, error) {
	if msg.Message.IsEmpty() {
		return nil, fmt.Errorf("message is required")
	}
	var textMessages []OutboundMessage
	for idx, chunk := range ChunkText(msg.Message.Text, policy.TextChunkLimit) {
		item := msg.Message
		item.Text = chunk
		item.Attachments = nil
		if idx > 0 {
			item.Reply = nil
		}
		textMessages = append(textMessages, OutboundMessage{Target: msg.Target, Message: item})
	}
	var fileMessages []OutboundMessage
	for _, att := range msg.Message.Attachments {
		fileMessages = append(fileMessages, OutboundMessage{
			Target: msg.Target,
			Message: Message{
				Attachments: []Attachment{att},
				Reply:       msg.Message.Reply,
				Metadata:    msg.Message.Metadata,
			},
		})
	}
	if policy.MediaOrder == OutboundOrderMediaFirst {
		return append(fileMessages, textMessages...), nil
	}
	return append(textMessages, fileMessages...), nil
}

func validateMessageCapabilities(registry *Registry, channelType ChannelType, msg Message) error {
	caps, ok := registry.GetCapabilities(channelType)
	if !ok {
		return nil
	}
	if strings.TrimSpace(msg.Text) != "" && !caps.Text {
		return fmt.Errorf("channel does not support plain text")
	}
	if len(msg.Attachments) > 0 && !caps.Attachments {
		return fmt.Errorf("channel does not support attachments")
	}
	if msg.Reply != nil && !caps.Reply {
		return fmt.Errorf("channel does not support reply")
	}
	return nil
}

func validateAttachments(attachments []Attachment) error {
	for _, att := range attachments {
		if att.Reference() == "" {
			return fmt.Errorf("attachment reference is required")
		}
		if strings.TrimSpace(att.Path) == "" {
			continue
		}
		if _, err := os.Stat(att.Path); err != nil {
			return fmt.Errorf("attachment %s: %w", att.Path, err)
		}
	}
	return nil
}

// sendWithConfig delivers one prepared message, retrying with linear backoff.
func (m *Manager) sendWithConfig(ctx context.Context, sender Sender, cfg ChannelConfig, msg OutboundMessage, policy OutboundPolicy) (string, error) {
	if sender == nil {
		return "", fmt.Errorf("unsupported channel type: %s", cfg.ChannelType)
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	if err := validateMessageCapabilities(m.registry, cfg.ChannelType, msg.Message); err != nil {
		return "", err
	}
	if err := validateAttachments(msg.Message.Attachments); err != nil {
		return "", err
	}
	var lastErr error
	for i := 0; i < policy.RetryMax; i++ {
		id, err := sender.Send(ctx, cfg, OutboundMessage{Target: target, Message: msg.Message})
		if err == nil {
			return id, nil
		}
		lastErr = err
		m.logger.Warn("send outbound retry",
			slog.String("channel", cfg.ChannelType.String()),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if err := sleepContext(ctx, time.Duration(i+1)*time.Duration(policy.RetryBackoffMs)*time.Millisecond); err != nil {
			return "", errors.Join(lastErr, err)
		}
	}
	return "", fmt.Errorf("send outbound failed after retries: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Manager) newReplySender(cfg ChannelConfig) ReplySender {
	return &managerReplySender{manager: m, config: cfg}
}

type managerReplySender struct {
	manager *Manager
	config  ChannelConfig
}

func (s *managerReplySender) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	return s.manager.sendPrepared(ctx, s.config, msg)
}
