// Package dispatch resolves inbound events to handlers, builds or reuses
// correlation state, and routes each turn to either a plain handler or the
// consent saga.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/consent"
	"github.com/tinyland-inc/deskclaw/pkg/correlation"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Dispatcher routes resolved handlers through correlation state. Resolution
// happens before Dispatch; calling it without a handler is a programming
// error, not a runtime condition.
type Dispatcher struct {
	store correlation.Store
	saga  *consent.Saga
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	lookups map[string]correlation.Lookup
}

func NewDispatcher(store correlation.Store, saga *consent.Saga, ttl time.Duration) (*Dispatcher, error) {
	if store == nil || saga == nil {
		return nil, errors.New("dispatch: store and saga are required")
	}
	if ttl <= 0 {
		return nil, errors.New("dispatch: correlation ttl must be positive")
	}
	return &Dispatcher{
		store:   store,
		saga:    saga,
		ttl:     ttl,
		now:     time.Now,
		lookups: make(map[string]correlation.Lookup),
	}, nil
}

// RegisterLookup attaches a channel's secondary-context lookup. Channels
// without one get trigger snapshots built from the event alone.
func (d *Dispatcher) RegisterLookup(channel string, lk correlation.Lookup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups[channel] = lk
}

func (d *Dispatcher) lookup(channel string) correlation.Lookup {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookups[channel]
}

// Dispatch runs one turn against a resolved handler.
//
// The request id comes from the payload if present, else the event
// envelope, else a fresh id. The first dispatch for an id resolves the
// trigger snapshot (the expensive part); later dispatches refresh only the
// origin conversation ref and reuse the snapshot untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, h *handlers.Handler, msg handlers.Message, evt bus.InboundEvent, payload map[string]string) (handlers.Outcome, error) {
	requestID := payload["request_id"]
	if requestID == "" {
		requestID = evt.RequestID
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	req, ok := d.store.Refresh(requestID, evt.Conversation)
	if !ok {
		now := d.now()
		req = &correlation.ActiveRequest{
			RequestID:      requestID,
			Origin:         evt.Conversation,
			Initiator:      evt.From,
			CreatedAt:      now,
			ExpiresAt:      now.Add(d.ttl),
			Trigger:        correlation.ResolveTrigger(ctx, d.lookup(evt.Conversation.Channel), evt),
			Phase:          consent.PhaseIdle,
			PendingPayload: map[string]string{},
		}
		for k, v := range payload {
			req.PendingPayload[k] = v
		}
		d.store.Put(req)
	}

	switch h.Kind {
	case handlers.Plain:
		turn := &handlers.Turn{
			Event:     evt,
			Origin:    req.Origin,
			RequestID: requestID,
			Trigger:   req.Trigger,
			Payload:   evt.Payload,
		}
		return h.Run(ctx, turn, msg, nil)
	case handlers.AuthGated:
		// Suspends; the reply, if any, happens turns later.
		return handlers.Outcome{}, d.saga.Begin(ctx, req, h, msg)
	default:
		return handlers.Outcome{}, errors.New("dispatch: unknown handler kind")
	}
}

// Continue forwards a consent completion or decline to the saga.
func (d *Dispatcher) Continue(ctx context.Context, evt bus.InboundEvent) (handlers.Outcome, error) {
	outcome, err := d.saga.Continue(ctx, evt)
	if errors.Is(err, consent.ErrCorrelationMissing) {
		// Fatal to the turn only; the event may be stale or replayed.
		logger.WarnCF("dispatch", "dropping completion with no correlation state", map[string]any{
			"event_id": evt.EventID,
		})
		return handlers.Outcome{}, nil
	}
	return outcome, err
}
