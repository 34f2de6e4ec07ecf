package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConfigStore lists and resolves transport configs.
type ConfigStore interface {
	ListConfigsByType(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error)
	ResolveConfig(ctx context.Context, channelType ChannelType) (ChannelConfig, error)
}

// ConnectionStatus describes runtime status for one configured channel connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manager coordinates channel adapters, connection lifecycle, and message dispatch.
// Connection lifecycle lives in connection.go, inbound dispatch in inbound.go,
// and the outbound pipeline in outbound.go.
type Manager struct {
	registry        *Registry
	store           ConfigStore
	processor       InboundProcessor
	refreshInterval time.Duration
	logger          *slog.Logger

	inboundQueue   chan inboundTask
	inboundWorkers int
	inboundOnce    sync.Once
	inboundRunning atomic.Bool
	inboundWG      sync.WaitGroup
	inboundCtx     context.Context
	inboundCancel  context.CancelFunc
	mu             sync.Mutex
	refreshMu      sync.Mutex
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
}

// NewManager creates a Manager with the given logger, registry, config store, and inbound processor.
func NewManager(log *slog.Logger, registry *Registry, store ConfigStore, processor InboundProcessor) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry:        registry,
		store:           store,
		processor:       processor,
		refreshInterval: 5 * time.Minute,
		connections:     map[string]*connectionEntry{},
		connectionMeta:  map[string]ConnectionStatus{},
		logger:          log.With(slog.String("component", "channel")),
		inboundQueue:    make(chan inboundTask, 256),
		inboundWorkers:  4,
	}
}

// SetProcessor installs the inbound processor. It must be called before Start.
func (m *Manager) SetProcessor(processor InboundProcessor) {
	m.processor = processor
}

// SetInboundWorkers sets the inbound worker pool size and queue depth. It
// must be called before Start; non-positive values keep the defaults.
func (m *Manager) SetInboundWorkers(workers, queueSize int) {
	if workers > 0 {
		m.inboundWorkers = workers
	}
	if queueSize > 0 {
		m.inboundQueue = make(chan inboundTask, queueSize)
	}
}

// Start begins the periodic config refresh loop and inbound worker pool.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("manager start")
	m.startInboundWorkers(ctx)
	go func() {
		m.refresh(ctx)
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("manager stop")
				m.stopAll(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				m.refresh(ctx)
			}
		}
	}()
}

// Send delivers a message to a conversation on the given channel and returns
// the platform id of the last message delivered.
func (m *Manager) Send(ctx context.Context, channelType ChannelType, target string, msg Message) (string, error) {
	cfg, err := m.resolveConfig(ctx, channelType)
	if err != nil {
		return "", err
	}
	m.logger.Debug("send outbound", slog.String("channel", channelType.String()), slog.String("target", target))
	return m.sendPrepared(ctx, cfg, OutboundMessage{Target: target, Message: msg})
}

func (m *Manager) sendPrepared(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) (string, error) {
	sender, ok := m.registry.GetSender(cfg.ChannelType)
	if !ok {
		return "", fmt.Errorf("unsupported channel type: %s", cfg.ChannelType)
	}
	policy := m.resolveOutboundPolicy(cfg.ChannelType)
	outbound, err := buildOutboundMessages(msg, policy)
	if err != nil {
		return "", err
	}
	var lastID string
	for _, item := range outbound {
		id, err := m.sendWithConfig(ctx, sender, cfg, item, policy)
		if err != nil {
			m.logger.Error("send outbound failed", slog.String("channel", cfg.ChannelType.String()), slog.Any("error", err))
			return lastID, err
		}
		if id != "" {
			lastID = id
		}
	}
	return lastID, nil
}

// SupportsEdit reports whether the channel can edit and delete sent messages.
func (m *Manager) SupportsEdit(channelType ChannelType) bool {
	if _, ok := m.registry.GetMessageEditor(channelType); !ok {
		return false
	}
	caps, _ := m.registry.GetCapabilities(channelType)
	return caps.Edit
}

// Update replaces the text of a previously sent message.
func (m *Manager) Update(ctx context.Context, channelType ChannelType, target, messageID string, msg Message) error {
	editor, ok := m.registry.GetMessageEditor(channelType)
	if !ok {
		return fmt.Errorf("channel %s does not support edit", channelType)
	}
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("message id is required")
	}
	cfg, err := m.resolveConfig(ctx, channelType)
	if err != nil {
		return err
	}
	return editor.Update(ctx, cfg, target, messageID, msg)
}

// Unsend deletes a previously sent message.
func (m *Manager) Unsend(ctx context.Context, channelType ChannelType, target, messageID string) error {
	editor, ok := m.registry.GetMessageEditor(channelType)
	if !ok {
		return fmt.Errorf("channel %s does not support unsend", channelType)
	}
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("message id is required")
	}
	cfg, err := m.resolveConfig(ctx, channelType)
	if err != nil {
		return err
	}
	return editor.Unsend(ctx, cfg, target, messageID)
}

func (m *Manager) resolveConfig(ctx context.Context, channelType ChannelType) (ChannelConfig, error) {
	if m.store == nil {
		return ChannelConfig{}, fmt.Errorf("channel manager not configured")
	}
	if !m.registry.Has(channelType) {
		return ChannelConfig{}, fmt.Errorf("unsupported channel type: %s", channelType)
	}
	return m.store.ResolveConfig(ctx, channelType)
}

// Shutdown cancels the inbound worker pool and stops all active connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	m.stopAll(ctx)
	done := make(chan struct{})
	go func() {
		m.inboundWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionStatuses returns observed connection statuses sorted by channel type.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for _, status := range m.connectionMeta {
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChannelType == items[j].ChannelType {
			return items[i].ConfigID < items[j].ConfigID
		}
		return items[i].ChannelType < items[j].ChannelType
	})
	return items
}
