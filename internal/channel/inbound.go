package channel

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// InboundProcessor handles one inbound message and replies through sender.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error
}

// OverloadHandler is implemented by processors that answer messages the
// manager had to drop because the worker queue was full.
type OverloadHandler interface {
	HandleOverload(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender)
}

type inboundTask struct {
	cfg ChannelConfig
	msg InboundMessage
}

func (m *Manager) startInboundWorkers(ctx context.Context) {
	m.inboundOnce.Do(func() {
		m.inboundCtx, m.inboundCancel = context.WithCancel(ctx)
		for i := 0; i < m.inboundWorkers; i++ {
			m.inboundWG.Add(1)
			go m.runInboundWorker(m.inboundCtx)
		}
		m.inboundRunning.Store(true)
	})
}

func (m *Manager) runInboundWorker(ctx context.Context) {
	defer m.inboundWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.inboundQueue:
			if err := m.dispatchInbound(ctx, task.cfg, task.msg); err != nil {
				m.logger.Error("inbound processing failed",
					slog.String("channel", task.cfg.ChannelType.String()),
					slog.String("conversation", task.msg.Conversation.ID),
					slog.Any("error", err))
			}
		}
	}
}

// handleInbound is the InboundHandler given to receivers. Messages are queued
// for the worker pool once it runs and handled inline before that.
func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if !m.inboundRunning.Load() {
		return m.dispatchInbound(ctx, cfg, msg)
	}
	select {
	case m.inboundQueue <- inboundTask{cfg: cfg, msg: msg}:
		return nil
	default:
		m.logger.Warn("inbound queue full, dropping message",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("conversation", msg.Conversation.ID))
		if overload, ok := m.processor.(OverloadHandler); ok {
			overload.HandleOverload(ctx, cfg, msg, m.newReplySender(cfg))
		}
		return fmt.Errorf("inbound queue full")
	}
}

func (m *Manager) dispatchInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) (err error) {
	if m.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound processor panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("inbound processor panic: %v", r)
		}
	}()
	return m.processor.HandleInbound(ctx, cfg, msg, m.newReplySender(cfg))
}
