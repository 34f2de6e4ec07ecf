// Package download runs paid media jobs: a durable FIFO of requests, a
// bounded worker that fetches and transcodes media with external tools, and
// the refund path taken when any stage fails.
package download

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/coinbot/internal/channel"
	"github.com/memohai/coinbot/internal/ledger"
)

// Kind selects the media pipeline.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Job is one charged media request. The amount has already been paid to the
// receiver when the job is enqueued.
type Job struct {
	ID         string              `json:"id"`
	Channel    channel.ChannelType `json:"channel"`
	ChatID     string              `json:"chat_id"`
	ReplyTo    string              `json:"reply_to,omitempty"`
	Identity   string              `json:"identity"`
	Credential ledger.Credential   `json:"credential"`
	RefundTo   ledger.Destination  `json:"refund_to"`
	SourceURL  string              `json:"source_url"`
	Amount     float64             `json:"amount"`
	Kind       Kind                `json:"kind"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

// Validate checks the fields every backend relies on.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.ChatID) == "" || j.Channel == "" {
		return errors.New("job chat is required")
	}
	if strings.TrimSpace(j.SourceURL) == "" {
		return errors.New("job source url is required")
	}
	switch j.Kind {
	case KindAudio, KindVideo:
	default:
		return fmt.Errorf("unknown job kind: %q", j.Kind)
	}
	if j.Amount < 0 {
		return errors.New("job amount must not be negative")
	}
	return nil
}

// Extension returns the file extension delivered for the job kind.
func (k Kind) Extension() string {
	if k == KindAudio {
		return ".mp3"
	}
	return ".mp4"
}

// Mime returns the content type delivered for the job kind.
func (k Kind) Mime() string {
	if k == KindAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func (k Kind) attachmentType() channel.AttachmentType {
	if k == KindAudio {
		return channel.AttachmentAudio
	}
	return channel.AttachmentVideo
}
