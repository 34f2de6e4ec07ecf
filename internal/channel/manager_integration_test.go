package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeConfigStore struct {
	effectiveConfig ChannelConfig
	configsByType   map[ChannelType][]ChannelConfig
}

func (f *fakeConfigStore) ResolveConfig(ctx context.Context, channelType ChannelType) (ChannelConfig, error) {
	if f.effectiveConfig.ID == "" {
		return ChannelConfig{}, ErrChannelConfigNotFound
	}
	return f.effectiveConfig, nil
}

func (f *fakeConfigStore) ListConfigsByType(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error) {
	if f.configsByType == nil {
		return nil, nil
	}
	return f.configsByType[channelType], nil
}

type fakeInboundProcessorIntegration struct {
	mu     sync.Mutex
	resp   *OutboundMessage
	err    error
	panics bool
	gotCfg ChannelConfig
	gotMsg InboundMessage
	gotID  string
	calls  int
}

func (f *fakeInboundProcessorIntegration) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error {
	f.mu.Lock()
	f.gotCfg = cfg
	f.gotMsg = msg
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return f.err
	}
	if f.resp == nil {
		return nil
	}
	if sender == nil {
		return fmt.Errorf("sender missing")
	}
	id, err := sender.Send(ctx, *f.resp)
	f.mu.Lock()
	f.gotID = id
	f.mu.Unlock()
	return err
}

type fakeAdapter struct {
	channelType ChannelType
	connectErr  error
	sendErrs    []error
	noEdit      bool
	mu          sync.Mutex
	started     []ChannelConfig
	connectCtxs []context.Context
	sent        []OutboundMessage
	edits       []string
	unsent      []string
	stops       int
}

func (f *fakeAdapter) Type() ChannelType {
	return f.channelType
}

func (f *fakeAdapter) Descriptor() Descriptor {
	return Descriptor{
		Type:        f.channelType,
		DisplayName: "Fake",
		Capabilities: ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Edit:        !f.noEdit,
			Unsend:      !f.noEdit,
			Reply:       true,
		},
		OutboundPolicy: OutboundPolicy{TextChunkLimit: 10, RetryBackoffMs: 1},
	}
}

func (f *fakeAdapter) Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.mu.Lock()
	f.started = append(f.started, cfg)
	f.connectCtxs = append(f.connectCtxs, ctx)
	f.mu.Unlock()
	stop := func(context.Context) error {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
		return nil
	}
	return NewConnection(cfg, stop), nil
}

func (f *fakeAdapter) Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return "", err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("m%d", len(f.sent)), nil
}

func (f *fakeAdapter) Update(ctx context.Context, cfg ChannelConfig, target, messageID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, messageID+"="+msg.Text)
	return nil
}

func (f *fakeAdapter) Unsend(ctx context.Context, cfg ChannelConfig, target, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsent = append(f.unsent, messageID)
	return nil
}

func newTestManager(t *testing.T, store ConfigStore, processor InboundProcessor, adapter *fakeAdapter) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	registry := NewRegistry()
	registry.MustRegister(adapter)
	return NewManager(log, registry, store, processor)
}

func testConfig(id string) ChannelConfig {
	return ChannelConfig{
		ID:          id,
		ChannelType: ChannelType("test"),
		Credentials: map[string]any{"botToken": "token"},
		UpdatedAt:   time.Now(),
	}
}

func TestManagerHandleInboundIntegratesAdapter(t *testing.T) {
	t.Parallel()

	processor := &fakeInboundProcessorIntegration{
		resp: &OutboundMessage{Target: "123", Message: Message{Text: "ok"}},
	}
	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, &fakeConfigStore{}, processor, adapter)

	err := manager.handleInbound(context.Background(), testConfig("cfg-1"), InboundMessage{
		Channel:      ChannelType("test"),
		Message:      Message{Text: "hi"},
		ReplyTarget:  "123",
		Conversation: Conversation{ID: "chat-1", Type: "private"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if processor.gotMsg.Conversation.ID != "chat-1" || processor.gotMsg.Message.PlainText() != "hi" {
		t.Fatalf("unexpected inbound message: %+v", processor.gotMsg)
	}
	if processor.gotID != "m1" {
		t.Fatalf("expected reply id m1, got %q", processor.gotID)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(adapter.sent))
	}
	if adapter.sent[0].Target != "123" || adapter.sent[0].Message.PlainText() != "ok" {
		t.Fatalf("unexpected outbound message: %+v", adapter.sent[0])
	}
}

func TestManagerHandleInboundRecoversPanic(t *testing.T) {
	t.Parallel()

	processor := &fakeInboundProcessorIntegration{panics: true}
	manager := newTestManager(t, &fakeConfigStore{}, processor, &fakeAdapter{channelType: ChannelType("test")})

	err := manager.handleInbound(context.Background(), testConfig("cfg-1"), InboundMessage{Message: Message{Text: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestManagerWorkerPoolProcessesQueuedMessages(t *testing.T) {
	t.Parallel()

	processor := &fakeInboundProcessorIntegration{}
	manager := newTestManager(t, &fakeConfigStore{}, processor, &fakeAdapter{channelType: ChannelType("test")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.startInboundWorkers(ctx)

	for i := 0; i < 5; i++ {
		if err := manager.handleInbound(ctx, testConfig("cfg-1"), InboundMessage{Message: Message{Text: "hi"}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		processor.mu.Lock()
		calls := processor.calls
		processor.mu.Unlock()
		if calls == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 5 processed messages, got %d", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestManagerSendChunksAndReturnsLastID(t *testing.T) {
	t.Parallel()

	store := &fakeConfigStore{effectiveConfig: testConfig("cfg-1")}
	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, store, &fakeInboundProcessorIntegration{}, adapter)

	id, err := manager.Send(context.Background(), ChannelType("test"), "chat", Message{Text: "line one\nline two"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != "m2" {
		t.Fatalf("expected last id m2, got %q", id)
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 2 || adapter.sent[0].Message.Text != "line one" || adapter.sent[1].Message.Text != "line two" {
		t.Fatalf("unexpected chunks: %+v", adapter.sent)
	}
}

func TestManagerSendRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	store := &fakeConfigStore{effectiveConfig: testConfig("cfg-1")}
	adapter := &fakeAdapter{channelType: ChannelType("test"), sendErrs: []error{errors.New("flaky")}}
	manager := newTestManager(t, store, &fakeInboundProcessorIntegration{}, adapter)

	if _, err := manager.Send(context.Background(), ChannelType("test"), "chat", Message{Text: "hi"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(adapter.sent))
	}
}

func TestManagerSendWithoutConfigFails(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &fakeConfigStore{}, &fakeInboundProcessorIntegration{}, &fakeAdapter{channelType: ChannelType("test")})
	if _, err := manager.Send(context.Background(), ChannelType("test"), "chat", Message{Text: "hi"}); !errors.Is(err, ErrChannelConfigNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := manager.Send(context.Background(), ChannelType("other"), "chat", Message{Text: "hi"}); err == nil {
		t.Fatal("expected unsupported channel error")
	}
}

func TestManagerEditAndUnsend(t *testing.T) {
	t.Parallel()

	store := &fakeConfigStore{effectiveConfig: testConfig("cfg-1")}
	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, store, &fakeInboundProcessorIntegration{}, adapter)
	ctx := context.Background()

	if !manager.SupportsEdit(ChannelType("test")) {
		t.Fatal("expected edit support")
	}
	if err := manager.Update(ctx, ChannelType("test"), "chat", "m1", Message{Text: "50%"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := manager.Unsend(ctx, ChannelType("test"), "chat", "m1"); err != nil {
		t.Fatalf("unsend: %v", err)
	}
	if err := manager.Update(ctx, ChannelType("test"), "chat", " ", Message{Text: "x"}); err == nil {
		t.Fatal("expected error for empty message id")
	}

	noEdit := newTestManager(t, store, &fakeInboundProcessorIntegration{}, &fakeAdapter{channelType: ChannelType("test"), noEdit: true})
	if noEdit.SupportsEdit(ChannelType("test")) {
		t.Fatal("capability flag must gate edit support")
	}
}

func TestManagerReconcileStartsAndStops(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, &fakeConfigStore{}, &fakeInboundProcessorIntegration{}, adapter)

	cfg := testConfig("cfg-1")
	manager.reconcile(context.Background(), []ChannelConfig{cfg})
	statuses := manager.ConnectionStatuses()
	if len(statuses) != 1 || !statuses[0].Running {
		t.Fatalf("expected 1 running status after start, got %+v", statuses)
	}
	manager.reconcile(context.Background(), []ChannelConfig{cfg})
	manager.reconcile(context.Background(), nil)
	if statuses := manager.ConnectionStatuses(); len(statuses) != 0 {
		t.Fatalf("expected 0 status after remove, got %d", len(statuses))
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.started) != 1 {
		t.Fatalf("expected 1 start, got %d", len(adapter.started))
	}
	if adapter.stops != 1 {
		t.Fatalf("expected 1 stop, got %d", adapter.stops)
	}
}

func TestManagerConnectionStatusesTracksConnectFailure(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{channelType: ChannelType("test"), connectErr: errors.New("dial failed")}
	manager := newTestManager(t, &fakeConfigStore{}, &fakeInboundProcessorIntegration{}, adapter)
	manager.reconcile(context.Background(), []ChannelConfig{testConfig("cfg-fail-1")})

	statuses := manager.ConnectionStatuses()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Running || statuses[0].LastError == "" {
		t.Fatalf("expected failed status, got %+v", statuses[0])
	}
}

func TestManagerReconcileDetachesRequestContext(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, &fakeConfigStore{}, &fakeInboundProcessorIntegration{}, adapter)

	reqCtx, cancel := context.WithCancel(context.Background())
	manager.reconcile(reqCtx, []ChannelConfig{testConfig("cfg-1")})
	cancel()

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.connectCtxs) != 1 {
		t.Fatalf("expected 1 connect context, got %d", len(adapter.connectCtxs))
	}
	if err := adapter.connectCtxs[0].Err(); err != nil {
		t.Fatalf("expected detached context to remain active, got %v", err)
	}
}

type overloadRecorder struct {
	fakeInboundProcessorIntegration
	block    chan struct{}
	overload []InboundMessage
}

func (o *overloadRecorder) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error {
	<-o.block
	return nil
}

func (o *overloadRecorder) HandleOverload(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) {
	o.mu.Lock()
	o.overload = append(o.overload, msg)
	o.mu.Unlock()
	_, _ = sender.Send(ctx, OutboundMessage{Target: msg.ReplyTarget, Message: Message{Text: "busy"}})
}

func TestManagerQueueFullAnswersThroughOverloadHandler(t *testing.T) {
	t.Parallel()

	processor := &overloadRecorder{block: make(chan struct{})}
	adapter := &fakeAdapter{channelType: ChannelType("test")}
	manager := newTestManager(t, &fakeConfigStore{}, processor, adapter)
	manager.SetInboundWorkers(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.startInboundWorkers(ctx)
	defer close(processor.block)

	msg := InboundMessage{Channel: "test", Message: Message{Text: "!bal"}, ReplyTarget: "chat-9"}
	var dropped error
	for i := 0; i < 10 && dropped == nil; i++ {
		dropped = manager.handleInbound(ctx, testConfig("cfg-1"), msg)
	}
	if dropped == nil {
		t.Fatal("expected the queue to fill up")
	}

	processor.mu.Lock()
	overloads := len(processor.overload)
	processor.mu.Unlock()
	if overloads != 1 {
		t.Fatalf("expected 1 overload callback, got %d", overloads)
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 1 || adapter.sent[0].Target != "chat-9" || adapter.sent[0].Message.Text != "busy" {
		t.Fatalf("unexpected overload reply: %+v", adapter.sent)
	}
}
