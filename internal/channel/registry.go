package channel

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// registration caches the optional interfaces an adapter implements so
// dispatch does not repeat the type assertions per message.
type registration struct {
	desc     Descriptor
	sender   Sender
	editor   MessageEditor
	receiver Receiver
}

// Registry maps each transport type to its adapter.
type Registry struct {
	mu      sync.RWMutex
	entries map[ChannelType]registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[ChannelType]registration{}}
}

// Register adds an adapter. Each transport type may be registered once.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	reg := registration{desc: adapter.Descriptor()}
	reg.sender, _ = adapter.(Sender)
	reg.editor, _ = adapter.(MessageEditor)
	reg.receiver, _ = adapter.(Receiver)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.entries[ct] = reg
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(channelType ChannelType) (registration, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[ct]
	return reg, ok
}

// Has reports whether channelType has an adapter.
func (r *Registry) Has(channelType ChannelType) bool {
	_, ok := r.lookup(channelType)
	return ok
}

// Types returns the registered transport types in sorted order.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	items := make([]ChannelType, 0, len(r.entries))
	for ct := range r.entries {
		items = append(items, ct)
	}
	r.mu.RUnlock()
	slices.Sort(items)
	return items
}

// GetCapabilities returns the capability matrix for channelType.
func (r *Registry) GetCapabilities(channelType ChannelType) (ChannelCapabilities, bool) {
	reg, ok := r.lookup(channelType)
	return reg.desc.Capabilities, ok
}

// GetOutboundPolicy returns the chunking and retry policy for channelType.
func (r *Registry) GetOutboundPolicy(channelType ChannelType) (OutboundPolicy, bool) {
	reg, ok := r.lookup(channelType)
	return reg.desc.OutboundPolicy, ok
}

func (r *Registry) GetSender(channelType ChannelType) (Sender, bool) {
	reg, _ := r.lookup(channelType)
	return reg.sender, reg.sender != nil
}

func (r *Registry) GetMessageEditor(channelType ChannelType) (MessageEditor, bool) {
	reg, _ := r.lookup(channelType)
	return reg.editor, reg.editor != nil
}

func (r *Registry) GetReceiver(channelType ChannelType) (Receiver, bool) {
	reg, _ := r.lookup(channelType)
	return reg.receiver, reg.receiver != nil
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}
