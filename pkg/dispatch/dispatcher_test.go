package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/consent"
	"github.com/tinyland-inc/deskclaw/pkg/correlation"
	"github.com/tinyland-inc/deskclaw/pkg/dedup"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
)

type nullProvider struct{}

func (nullProvider) SendConsentPrompt(_ context.Context, _ bus.ConversationRef, _ string, _ bus.Identity) error {
	return nil
}

func (nullProvider) Exchange(_ context.Context, _ string) (*handlers.Credential, error) {
	return &handlers.Credential{AccessToken: "tok"}, nil
}

type nullSender struct{}

func (nullSender) Send(_ context.Context, _ bus.ConversationRef, _ string) error { return nil }

type inPlaceHost struct{}

func (inPlaceHost) ResumeConversation(ctx context.Context, ref bus.ConversationRef, action switchboard.Action) error {
	return action(ctx, ref)
}

func (inPlaceHost) CreatePrivateConversation(_ context.Context, user bus.Identity) (bus.ConversationRef, error) {
	return bus.ConversationRef{Channel: "slack", ChatID: "dm-" + user.ID, Private: true}, nil
}

type countingLookup struct {
	mu    sync.Mutex
	calls int
}

func (c *countingLookup) bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *countingLookup) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingLookup) TeamName(_ context.Context, _ bus.ConversationRef) (string, error) {
	c.bump()
	return "acme", nil
}

func (c *countingLookup) ChannelName(_ context.Context, _ bus.ConversationRef) (string, error) {
	c.bump()
	return "#helpdesk", nil
}

func (c *countingLookup) MemberName(_ context.Context, _ bus.ConversationRef, _ string) (string, error) {
	c.bump()
	return "Sam", nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *correlation.MemoryStore
	registry   *handlers.Registry
	lookup     *countingLookup
	runs       int
	lastTurn   *handlers.Turn
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		store:    correlation.NewMemoryStore(),
		registry: handlers.NewRegistry(),
		lookup:   &countingLookup{},
	}

	err := f.registry.Register(handlers.Handler{
		Name:    "echo",
		Kind:    handlers.Plain,
		On:      handlers.Command,
		Pattern: handlers.MustRegex(`^/echo\s+(.+)$`),
		Run: func(_ context.Context, turn *handlers.Turn, msg handlers.Message, _ *handlers.Credential) (handlers.Outcome, error) {
			f.runs++
			f.lastTurn = turn
			return handlers.Outcome{Reply: msg.Matches[1]}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = f.registry.Register(handlers.Handler{
		Name:    "gated",
		Kind:    handlers.AuthGated,
		On:      handlers.Command,
		Pattern: handlers.Exact("/gated"),
		Run: func(_ context.Context, _ *handlers.Turn, _ handlers.Message, _ *handlers.Credential) (handlers.Outcome, error) {
			return handlers.Outcome{}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.registry.Freeze()

	board := switchboard.New(time.Hour)
	board.RegisterHost("slack", inPlaceHost{})

	saga, err := consent.NewSaga(f.store, dedup.NewMemoryStore(), board, nullProvider{}, f.registry, nullSender{})
	if err != nil {
		t.Fatal(err)
	}

	f.dispatcher, err = NewDispatcher(f.store, saga, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	f.dispatcher.RegisterLookup("slack", f.lookup)
	return f
}

func messageEvent(text, requestID string) bus.InboundEvent {
	return bus.InboundEvent{
		Kind:         bus.EventMessage,
		Conversation: bus.ConversationRef{Channel: "slack", ChatID: "C1"},
		From:         bus.Identity{ID: "U1"},
		Text:         text,
		EventID:      "evt-1",
		RequestID:    requestID,
	}
}

func TestDispatch_PlainHandlerRunsImmediately(t *testing.T) {
	f := newDispatcherFixture(t)
	evt := messageEvent("/echo hello", "")

	h, msg, ok := f.registry.Resolve(handlers.Command, evt.Text)
	if !ok {
		t.Fatal("resolve failed")
	}
	outcome, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, evt.Payload)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Reply != "hello" {
		t.Errorf("reply: got %q", outcome.Reply)
	}
	if f.runs != 1 {
		t.Errorf("handler ran %d times", f.runs)
	}
	if f.lastTurn.RequestID == "" {
		t.Error("fresh dispatch must mint a request id")
	}
	if f.lastTurn.Trigger == nil || f.lastTurn.Trigger.TeamName != "acme" {
		t.Error("turn must carry the resolved trigger snapshot")
	}
}

func TestDispatch_RequestIDPrecedence(t *testing.T) {
	f := newDispatcherFixture(t)
	h, msg, _ := f.registry.Resolve(handlers.Command, "/echo x")

	evt := messageEvent("/echo x", "envelope-id")
	payload := map[string]string{"request_id": "payload-id"}
	if _, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, payload); err != nil {
		t.Fatal(err)
	}
	if f.lastTurn.RequestID != "payload-id" {
		t.Errorf("payload id must win: got %q", f.lastTurn.RequestID)
	}

	if _, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, nil); err != nil {
		t.Fatal(err)
	}
	if f.lastTurn.RequestID != "envelope-id" {
		t.Errorf("envelope id is next: got %q", f.lastTurn.RequestID)
	}
}

func TestDispatch_ReusesCorrelationAndTrigger(t *testing.T) {
	f := newDispatcherFixture(t)
	h, msg, _ := f.registry.Resolve(handlers.Command, "/echo x")

	evt := messageEvent("/echo x", "req-1")
	if _, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, nil); err != nil {
		t.Fatal(err)
	}
	after := f.lookup.count()
	if after == 0 {
		t.Fatal("first dispatch must resolve the trigger")
	}

	// Same request id from a different conversation: origin refreshes,
	// trigger stays untouched.
	evt.Conversation = bus.ConversationRef{Channel: "slack", ChatID: "D1", Private: true}
	if _, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, nil); err != nil {
		t.Fatal(err)
	}
	if f.lookup.count() != after {
		t.Errorf("second dispatch re-resolved the trigger: %d calls, want %d", f.lookup.count(), after)
	}

	req, ok := f.store.Get("req-1")
	if !ok {
		t.Fatal("correlation record missing")
	}
	if req.Origin.ChatID != "D1" {
		t.Errorf("origin not refreshed: %+v", req.Origin)
	}
	if f.lastTurn.Origin.ChatID != "D1" {
		t.Errorf("turn origin: got %q", f.lastTurn.Origin.ChatID)
	}
}

func TestDispatch_AuthGatedSuspends(t *testing.T) {
	f := newDispatcherFixture(t)
	h, msg, _ := f.registry.Resolve(handlers.Command, "/gated")

	evt := messageEvent("/gated", "req-2")
	outcome, err := f.dispatcher.Dispatch(context.Background(), h, msg, evt, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Reply != "" {
		t.Errorf("suspended dispatch must not reply, got %q", outcome.Reply)
	}

	req, ok := f.store.Get("req-2")
	if !ok {
		t.Fatal("correlation record missing")
	}
	if req.Phase != consent.PhaseAwaitingConsent {
		t.Errorf("phase: got %q", req.Phase)
	}
	if req.PendingHandler != "gated" {
		t.Errorf("pending handler: got %q", req.PendingHandler)
	}
}

func TestContinue_MissingCorrelationIsDropped(t *testing.T) {
	f := newDispatcherFixture(t)

	evt := bus.InboundEvent{
		Kind:         bus.EventConsentCompletion,
		Conversation: bus.ConversationRef{Channel: "slack", ChatID: "D1", Private: true},
		EventID:      "consent:ghost:x",
		RequestID:    "ghost",
		Payload:      map[string]string{"code": "x"},
	}
	outcome, err := f.dispatcher.Continue(context.Background(), evt)
	if err != nil {
		t.Errorf("stale completion must be dropped, not fail the loop: %v", err)
	}
	if outcome.Reply != "" {
		t.Errorf("unexpected reply: %q", outcome.Reply)
	}
}

func TestNewDispatcher_Validation(t *testing.T) {
	f := newDispatcherFixture(t)

	if _, err := NewDispatcher(nil, f.dispatcher.saga, time.Hour); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewDispatcher(f.store, nil, time.Hour); err == nil {
		t.Error("expected error for nil saga")
	}
	if _, err := NewDispatcher(f.store, f.dispatcher.saga, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}
