package dispatch

import (
	"context"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/consent"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Service is the gateway turn loop: it consumes inbound events from the
// bus, resolves them, and dispatches. Each event is one turn; turns from
// different conversations run concurrently.
type Service struct {
	bus        *bus.MessageBus
	registry   *handlers.Registry
	dispatcher *Dispatcher
}

func NewService(mb *bus.MessageBus, registry *handlers.Registry, dispatcher *Dispatcher) *Service {
	return &Service{bus: mb, registry: registry, dispatcher: dispatcher}
}

// Run blocks until ctx is cancelled or the bus closes.
func (s *Service) Run(ctx context.Context) {
	logger.InfoC("dispatch", "turn loop started")
	for {
		evt, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("dispatch", "turn loop stopped")
			return
		}
		go s.handleTurn(ctx, evt)
	}
}

func (s *Service) handleTurn(ctx context.Context, evt bus.InboundEvent) {
	switch evt.Kind {
	case bus.EventMessage:
		s.handleResolved(ctx, handlers.Command, evt.Text, evt)
	case bus.EventAction:
		s.handleResolved(ctx, handlers.Action, evt.ActionVerb, evt)
	case bus.EventConsentCompletion, bus.EventConsentDeclined:
		if _, err := s.dispatcher.Continue(ctx, evt); err != nil {
			logger.ErrorCF("dispatch", "consent continuation failed", map[string]any{
				"event_id": evt.EventID,
				"error":    err.Error(),
			})
		}
	default:
		logger.WarnCF("dispatch", "unknown event kind", map[string]any{
			"kind": string(evt.Kind),
		})
	}
}

func (s *Service) handleResolved(ctx context.Context, kind handlers.MatchKind, text string, evt bus.InboundEvent) {
	h, msg, ok := s.registry.Resolve(kind, text)
	if !ok {
		// Unrecognized input is not an error; the turn ends quietly.
		return
	}

	outcome, err := s.dispatcher.Dispatch(ctx, h, msg, evt, evt.Payload)
	if err != nil {
		logger.ErrorCF("dispatch", "handler failed", map[string]any{
			"handler": h.Name,
			"error":   err.Error(),
		})
		return
	}
	if outcome.Reply == "" {
		return
	}
	err = s.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: evt.Conversation.Channel,
		ChatID:  evt.Conversation.ChatID,
		Content: outcome.Reply,
	})
	if err != nil {
		logger.ErrorCF("dispatch", "reply publish failed", map[string]any{
			"handler": h.Name,
			"error":   err.Error(),
		})
	}
}

// BusSender adapts the message bus to the consent.Sender contract.
type BusSender struct {
	bus *bus.MessageBus
}

func NewBusSender(mb *bus.MessageBus) *BusSender {
	return &BusSender{bus: mb}
}

func (s *BusSender) Send(ctx context.Context, ref bus.ConversationRef, text string) error {
	return s.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: ref.Channel,
		ChatID:  ref.ChatID,
		Content: text,
	})
}

var _ consent.Sender = (*BusSender)(nil)
