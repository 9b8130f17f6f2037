// Package consent implements the deferred-authorization saga: redirect the
// user to a private conversation, ask for consent, suspend, and later
// resume the original handler in the original conversation with the
// obtained credential.
//
// The saga suspends at the end of Begin; everything needed to resume lives
// on the ActiveRequest in the correlation store, never in local state. The
// completion event is deduplicated with an atomic create-if-absent so that
// at most one saga instance proceeds per distinct external event id, no
// matter how many signed-in client instances echo the same approval.
package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/correlation"
	"github.com/tinyland-inc/deskclaw/pkg/dedup"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
)

// Saga phases, stored on the ActiveRequest between turns.
const (
	PhaseIdle            = "idle"
	PhaseAwaitingConsent = "awaiting_consent"
	PhaseDeduping        = "deduping"
	PhaseResumed         = "resumed"
	PhaseCancelled       = "cancelled"
	PhaseFailed          = "failed"
)

// ErrCorrelationMissing means a completion event referenced a request id
// with no live ActiveRequest. Fatal to the turn, not to the process.
var ErrCorrelationMissing = errors.New("consent: no active request for correlation id")

// Sender posts a text message into a specific conversation.
type Sender interface {
	Send(ctx context.Context, ref bus.ConversationRef, text string) error
}

// CredentialProvider issues the consent UI and turns an approval into a
// delegated credential.
type CredentialProvider interface {
	SendConsentPrompt(ctx context.Context, ref bus.ConversationRef, correlationID string, user bus.Identity) error
	Exchange(ctx context.Context, code string) (*handlers.Credential, error)
}

// Messages are the user-visible saga notices. Override to localize.
type Messages struct {
	Declined string
	Failed   string
}

func DefaultMessages() Messages {
	return Messages{
		Declined: "Okay, I won't connect your account. Run the command again if you change your mind.",
		Failed:   "Sorry, something went wrong while connecting your account. Please try again.",
	}
}

// Saga coordinates the consent dialog across turns.
type Saga struct {
	store    correlation.Store
	dedup    dedup.Store
	board    *switchboard.Switchboard
	provider CredentialProvider
	registry *handlers.Registry
	sender   Sender
	messages Messages
}

func NewSaga(
	store correlation.Store,
	dedupStore dedup.Store,
	board *switchboard.Switchboard,
	provider CredentialProvider,
	registry *handlers.Registry,
	sender Sender,
) (*Saga, error) {
	if store == nil || dedupStore == nil || board == nil || provider == nil || registry == nil || sender == nil {
		return nil, errors.New("consent: all collaborators are required")
	}
	return &Saga{
		store:    store,
		dedup:    dedupStore,
		board:    board,
		provider: provider,
		registry: registry,
		sender:   sender,
		messages: DefaultMessages(),
	}, nil
}

// SetMessages replaces the user-visible notices.
func (s *Saga) SetMessages(m Messages) { s.messages = m }

// Begin runs the first time an auth-gated handler is dispatched for a fresh
// request: it records the pending handler, switches to the user's private
// conversation, sends the consent prompt there, and suspends. The original
// conversation gets no reply this turn.
func (s *Saga) Begin(ctx context.Context, req *correlation.ActiveRequest, h *handlers.Handler, msg handlers.Message) error {
	req.PendingHandler = h.Name
	req.PendingText = msg.Text
	req.Phase = PhaseAwaitingConsent
	s.store.Put(req)

	err := s.board.ResumeOrCreatePersonal(ctx, req.Origin, req.Initiator, func(ctx context.Context, ref bus.ConversationRef) error {
		return s.provider.SendConsentPrompt(ctx, ref, req.RequestID, req.Initiator)
	})
	if err != nil {
		logger.ErrorCF("consent", "consent prompt delivery failed", map[string]any{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		s.fail(ctx, req, req.Origin)
		return nil
	}

	logger.InfoCF("consent", "awaiting consent", map[string]any{
		"request_id": req.RequestID,
		"handler":    h.Name,
	})
	return nil
}

// Continue handles a completion or decline event for a suspended saga.
// Duplicate completions end the turn silently; only the first one past the
// dedup gate resumes the pending handler.
func (s *Saga) Continue(ctx context.Context, evt bus.InboundEvent) (handlers.Outcome, error) {
	requestID := evt.RequestID
	if requestID == "" {
		requestID = evt.Payload["request_id"]
	}
	req, ok := s.store.Get(requestID)
	if !ok {
		logger.WarnCF("consent", "completion for unknown request", map[string]any{
			"request_id": requestID,
			"event_id":   evt.EventID,
		})
		return handlers.Outcome{}, ErrCorrelationMissing
	}
	if req.Phase != PhaseAwaitingConsent && req.Phase != PhaseDeduping {
		// A completion only makes sense for a suspended saga; anything else
		// (a plain request in flight, a stray replay) is dropped untouched.
		logger.WarnCF("consent", "completion for request not awaiting consent", map[string]any{
			"request_id": req.RequestID,
			"phase":      req.Phase,
		})
		return handlers.Outcome{}, ErrCorrelationMissing
	}

	if evt.Kind == bus.EventConsentDeclined {
		s.cancel(ctx, req, evt.Conversation)
		return handlers.Outcome{}, nil
	}
	if evt.Kind != bus.EventConsentCompletion {
		return handlers.Outcome{}, fmt.Errorf("consent: unexpected event kind %q", evt.Kind)
	}

	// Only completions are deduplicated. The prompt went to every client
	// instance on purpose; acting on the approval may happen once.
	key := dedup.Key{
		Channel:        evt.Conversation.Channel,
		ConversationID: evt.Conversation.ChatID,
		EventID:        evt.EventID,
	}
	registered := s.store.Update(requestID, func(r *correlation.ActiveRequest) {
		r.Phase = PhaseDeduping
		r.DedupKeys = append(r.DedupKeys, key)
	})
	if !registered {
		// The saga reached a terminal state between the read above and now;
		// nothing left to resume.
		return handlers.Outcome{}, nil
	}

	result, err := s.dedup.CreateIfAbsent(ctx, key, uuid.New().String())
	if err != nil {
		// A faulted store means the at-most-once guarantee is gone for this
		// saga instance; propagating beats risking double processing.
		return handlers.Outcome{}, fmt.Errorf("consent: dedup create: %w", err)
	}
	if result == dedup.Conflict {
		logger.DebugCF("consent", "duplicate completion suppressed", map[string]any{
			"request_id": req.RequestID,
			"event_id":   evt.EventID,
		})
		return handlers.Outcome{}, nil
	}

	// A late duplicate can win the create if the first delivery's terminal
	// cleanup already released the key. Cleanup drops the correlation record
	// before the keys, so re-reading the record tells the two apart: gone
	// means the approval was already acted on.
	req, ok = s.store.Get(requestID)
	if !ok {
		if err := s.dedup.Delete(ctx, []dedup.Key{key}); err != nil {
			logger.WarnCF("consent", "dedup cleanup failed", map[string]any{
				"request_id": requestID,
				"error":      err.Error(),
			})
		}
		logger.DebugCF("consent", "duplicate completion suppressed", map[string]any{
			"request_id": requestID,
			"event_id":   evt.EventID,
		})
		return handlers.Outcome{}, nil
	}

	code := evt.Payload["code"]
	if code == "" {
		logger.WarnCF("consent", "completion without authorization code", map[string]any{
			"request_id": req.RequestID,
		})
		s.fail(ctx, req, evt.Conversation)
		return handlers.Outcome{}, nil
	}

	cred, err := s.provider.Exchange(ctx, code)
	if err != nil {
		logger.ErrorCF("consent", "code exchange failed", map[string]any{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		s.fail(ctx, req, evt.Conversation)
		return handlers.Outcome{}, nil
	}

	return s.resume(ctx, req, evt.Conversation, cred)
}

// resume switches back to the origin conversation and runs the original
// pending handler there with the credential.
func (s *Saga) resume(ctx context.Context, req *correlation.ActiveRequest, current bus.ConversationRef, cred *handlers.Credential) (handlers.Outcome, error) {
	h, ok := s.registry.Lookup(req.PendingHandler)
	if !ok {
		logger.ErrorCF("consent", "pending handler no longer registered", map[string]any{
			"request_id": req.RequestID,
			"handler":    req.PendingHandler,
		})
		s.fail(ctx, req, current)
		return handlers.Outcome{}, nil
	}

	// Rebuild the matched message from the snapshot taken at Begin.
	text := req.PendingText
	_, msg, matched := s.registry.Resolve(h.On, text)
	if !matched {
		msg = handlers.Message{Text: text}
	}

	var outcome handlers.Outcome
	err := s.board.ResumeConversation(ctx, req.Origin, func(ctx context.Context, ref bus.ConversationRef) error {
		turn := &handlers.Turn{
			Origin:    ref,
			RequestID: req.RequestID,
			Trigger:   req.Trigger,
			Payload:   req.PendingPayload,
		}
		var runErr error
		outcome, runErr = h.Run(ctx, turn, msg, cred)
		if runErr != nil {
			return runErr
		}
		if outcome.Reply != "" {
			return s.sender.Send(ctx, ref, outcome.Reply)
		}
		return nil
	})
	if err != nil {
		logger.ErrorCF("consent", "resume failed", map[string]any{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		s.fail(ctx, req, current)
		return handlers.Outcome{}, nil
	}

	s.finish(ctx, req.RequestID, PhaseResumed, current)
	logger.InfoCF("consent", "handler resumed with credential", map[string]any{
		"request_id": req.RequestID,
		"handler":    req.PendingHandler,
	})
	return outcome, nil
}

// cancel handles an explicit decline: notify, unwind, never run the handler.
func (s *Saga) cancel(ctx context.Context, req *correlation.ActiveRequest, current bus.ConversationRef) {
	if err := s.sender.Send(ctx, current, s.messages.Declined); err != nil {
		logger.WarnCF("consent", "decline notice delivery failed", map[string]any{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
	}
	s.finish(ctx, req.RequestID, PhaseCancelled, current)
	logger.InfoCF("consent", "consent declined", map[string]any{
		"request_id": req.RequestID,
	})
}

func (s *Saga) fail(ctx context.Context, req *correlation.ActiveRequest, current bus.ConversationRef) {
	if err := s.sender.Send(ctx, current, s.messages.Failed); err != nil {
		logger.WarnCF("consent", "failure notice delivery failed", map[string]any{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
	}
	s.finish(ctx, req.RequestID, PhaseFailed, current)
}

// finish performs terminal cleanup: record the terminal phase, release the
// correlation record, then drop the dedup keys this saga issued for the
// current conversation only. Keys belonging to sagas in other conversations
// stay untouched. The record goes before the keys so a late duplicate that
// wins a released key back finds no live saga behind it.
func (s *Saga) finish(ctx context.Context, requestID, phase string, current bus.ConversationRef) {
	var scoped []dedup.Key
	s.store.Update(requestID, func(r *correlation.ActiveRequest) {
		r.Phase = phase
		for _, k := range r.DedupKeys {
			if k.ConversationID == current.ChatID {
				scoped = append(scoped, k)
			}
		}
	})
	s.store.Delete(requestID)
	if len(scoped) > 0 {
		if err := s.dedup.Delete(ctx, scoped); err != nil {
			logger.WarnCF("consent", "dedup cleanup failed", map[string]any{
				"request_id": requestID,
				"error":      err.Error(),
			})
		}
	}
}
