package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

func (m *Manager) refresh(ctx context.Context) {
	// Serialize refresh calls so concurrent callers wait instead of silently skipping.
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.store == nil {
		return
	}
	var configs []ChannelConfig
	for _, channelType := range m.registry.Types() {
		items, err := m.store.ListConfigsByType(ctx, channelType)
		if err != nil {
			m.logger.Error("list configs failed", slog.String("channel", channelType.String()), slog.Any("error", err))
			continue
		}
		configs = append(configs, items...)
	}
	m.reconcile(ctx, configs)
}

func (m *Manager) reconcile(ctx context.Context, configs []ChannelConfig) {
	active := map[string]ChannelConfig{}
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Disabled {
			continue
		}
		active[cfg.ID] = cfg
		if err := m.ensureConnection(ctx, cfg); err != nil {
			m.markConnectionStatus(cfg, false, err)
			m.logger.Error("adapter start failed",
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err))
		}
	}

	var stale []*connectionEntry
	m.mu.Lock()
	for id, entry := range m.connections {
		if _, ok := active[id]; ok {
			continue
		}
		stale = append(stale, entry)
		delete(m.connections, id)
	}
	for id := range m.connectionMeta {
		if _, ok := active[id]; !ok {
			delete(m.connectionMeta, id)
		}
	}
	m.mu.Unlock()
	for _, entry := range stale {
		m.stopEntry(ctx, entry)
	}
}

func (m *Manager) ensureConnection(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		m.markConnectionStatus(cfg, false, fmt.Errorf("receiver not available"))
		return nil
	}

	m.mu.Lock()
	entry := m.connections[cfg.ID]
	if entry != nil && !entry.config.UpdatedAt.Before(cfg.UpdatedAt) {
		running := entry.connection != nil && entry.connection.Running()
		m.setConnectionStatusLocked(entry.config, running, nil)
		m.mu.Unlock()
		return nil
	}
	if entry != nil {
		delete(m.connections, cfg.ID)
	}
	m.mu.Unlock()

	if entry != nil {
		m.logger.Info("adapter restart", slog.String("channel", cfg.ChannelType.String()), slog.String("config_id", cfg.ID))
		m.stopEntry(ctx, entry)
	}

	m.logger.Info("adapter start", slog.String("channel", cfg.ChannelType.String()), slog.String("config_id", cfg.ID))
	// Long-lived connections must outlive the caller's context.
	conn, err := receiver.Connect(context.WithoutCancel(ctx), cfg, m.handleInbound)
	if err != nil {
		m.markConnectionStatus(cfg, false, err)
		return err
	}

	m.mu.Lock()
	if existing, ok := m.connections[cfg.ID]; ok && existing != nil {
		running := existing.connection != nil && existing.connection.Running()
		m.setConnectionStatusLocked(existing.config, running, nil)
		m.mu.Unlock()
		_ = conn.Stop(context.WithoutCancel(ctx))
		return nil
	}
	m.connections[cfg.ID] = &connectionEntry{config: cfg, connection: conn}
	m.setConnectionStatusLocked(cfg, true, nil)
	m.mu.Unlock()
	return nil
}

func (m *Manager) stopEntry(ctx context.Context, entry *connectionEntry) {
	if entry == nil || entry.connection == nil {
		return
	}
	m.logger.Info("adapter stop", slog.String("channel", entry.config.ChannelType.String()), slog.String("config_id", entry.config.ID))
	if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn("adapter stop failed",
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", entry.config.ID),
			slog.Any("error", err))
	}
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		entries = append(entries, entry)
		delete(m.connections, id)
		delete(m.connectionMeta, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		m.stopEntry(ctx, entry)
	}
}

func (m *Manager) markConnectionStatus(cfg ChannelConfig, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setConnectionStatusLocked(cfg, running, checkErr)
}

func (m *Manager) setConnectionStatusLocked(cfg ChannelConfig, running bool, checkErr error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return
	}
	previous, hasPrevious := m.connectionMeta[cfg.ID]
	status := ConnectionStatus{
		ConfigID:    cfg.ID,
		ChannelType: cfg.ChannelType,
		Running:     running,
		UpdatedAt:   time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.connectionMeta[cfg.ID] = status
	if checkErr != nil && (!hasPrevious || previous.LastError != status.LastError || previous.Running != status.Running) {
		m.logger.Warn("connection health check failed",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
			slog.Any("error", checkErr))
	}
	if running && hasPrevious && previous.LastError != "" {
		m.logger.Info("connection health recovered",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID))
	}
}
