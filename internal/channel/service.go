package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrChannelConfigNotFound indicates there is no config for the channel type.
var ErrChannelConfigNotFound = errors.New("channel config not found")

// Store holds the transport configs known to this process. Configs come from
// the loaded configuration file rather than a database, one per channel type.
type Store struct {
	mu      sync.RWMutex
	configs map[ChannelType]ChannelConfig
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{configs: map[ChannelType]ChannelConfig{}}
}

// Put installs or replaces the config for its channel type. A config without
// credentials is stored disabled.
func (s *Store) Put(cfg ChannelConfig) error {
	ct := normalizeChannelType(cfg.ChannelType.String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	cfg.ChannelType = ct
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = ct.String()
	}
	if ReadString(cfg.Credentials, "botToken", "bot_token") == "" {
		cfg.Disabled = true
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.configs[ct] = cfg
	s.mu.Unlock()
	return nil
}

// ListConfigsByType returns the enabled configs for the channel type.
func (s *Store) ListConfigsByType(_ context.Context, channelType ChannelType) ([]ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[normalizeChannelType(channelType.String())]
	if !ok || cfg.Disabled {
		return nil, nil
	}
	return []ChannelConfig{cfg}, nil
}

// ResolveConfig returns the config used for outbound delivery on the channel type.
func (s *Store) ResolveConfig(_ context.Context, channelType ChannelType) (ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[normalizeChannelType(channelType.String())]
	if !ok || cfg.Disabled {
		return ChannelConfig{}, ErrChannelConfigNotFound
	}
	return cfg, nil
}

// EnabledTypes returns the channel types with usable credentials.
func (s *Store) EnabledTypes() []ChannelType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []ChannelType
	for ct, cfg := range s.configs {
		if !cfg.Disabled {
			items = append(items, ct)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// ReadString returns the first non-empty value among keys, as a trimmed string.
func ReadString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		var value string
		switch v := raw[key].(type) {
		case nil:
			continue
		case string:
			value = strings.TrimSpace(v)
		default:
			value = strings.TrimSpace(fmt.Sprint(v))
		}
		if value != "" {
			return value
		}
	}
	return ""
}
