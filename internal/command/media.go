package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/memohai/coinbot/internal/download"
	"github.com/memohai/coinbot/internal/ledger"
)

const (
	textQueueFailed       = "⚠️ Não foi possível colocar o pedido na fila. O valor foi devolvido."
	textQueueRefundFailed = "⚠️ Não foi possível colocar o pedido na fila e o reembolso falhou. Procure um administrador."
)

// handleDownload charges the configured price and queues a media job of kind.
// The charge happens first so every queued job is already paid for; the
// worker refunds it when the job fails.
func (r *Router) handleDownload(kind download.Kind) handlerFunc {
	return func(ctx context.Context, inv *invocation) (string, error) {
		if !r.cfg.Download.Enabled || r.downloads == nil {
			return "", userInput(textDownloadsOff)
		}
		if len(inv.args) < 1 {
			return "", userInput(fmt.Sprintf(textDownloadUsage, inv.verb))
		}
		source, ok := mediaURL(inv.args[0])
		if !ok {
			return "", userInput(textInvalidURL)
		}
		acc, cred, err := r.requireAccount(ctx, inv)
		if err != nil {
			return "", err
		}
		receiver := r.receiver()
		if receiver.IsZero() {
			r.logger.Error("download receiver not configured")
			return "", userInput(textDownloadsOff)
		}
		refundTo := ledger.ToUser(acc.UserID)
		if cred.IsCard() {
			refundTo = ledger.ToCard(acc.Card)
		}

		price := r.cfg.Download.Price
		if price > 0 {
			if res := r.ledger.Transfer(ctx, cred, receiver, price); !res.OK {
				return "", remoteError("Erro ao cobrar o download", res)
			}
		}

		position, err := r.downloads.Submit(ctx, download.Job{
			Channel:    inv.channel,
			ChatID:     inv.chatID,
			ReplyTo:    inv.messageID,
			Identity:   inv.sender,
			Credential: cred,
			RefundTo:   refundTo,
			SourceURL:  source,
			Amount:     price,
			Kind:       kind,
		})
		if err != nil {
			r.logger.Error("download submit failed", slog.String("sender", inv.sender), slog.Any("error", err))
			if errors.Is(err, download.ErrRefundFailed) {
				return textQueueRefundFailed, nil
			}
			return textQueueFailed, nil
		}

		reply := "📥 Pedido na fila (posição " + strconv.Itoa(position) + ")."
		if price > 0 {
			reply += "\n💸 Cobrado: *" + ledger.FormatAmount(price) + "* coins."
		}
		return reply, nil
	}
}

// receiver is the ledger destination charged for downloads.
func (r *Router) receiver() ledger.Destination {
	d := r.cfg.Download
	if r.cardMode() && d.ReceiverCard != "" {
		return ledger.ToCard(d.ReceiverCard)
	}
	if d.ReceiverID != "" {
		return ledger.ToUser(d.ReceiverID)
	}
	return ledger.ToCard(d.ReceiverCard)
}

func mediaURL(raw string) (string, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), "<>")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String(), true
	}
	return "", false
}
