package correlation

import (
	"context"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// TriggerContext is the cached snapshot of where and by whom an interaction
// originated. Fields left empty by a failed lookup stay empty; a missing
// channel name must never sink a dispatch.
type TriggerContext struct {
	TeamName    string
	ChannelName string
	ThreadID    string
	Initiator   bus.Identity
	Responder   bus.Identity
}

// Lookup resolves the secondary context around an event. Channels implement
// it against their platform APIs; each method may fail independently.
type Lookup interface {
	TeamName(ctx context.Context, ref bus.ConversationRef) (string, error)
	ChannelName(ctx context.Context, ref bus.ConversationRef) (string, error)
	MemberName(ctx context.Context, ref bus.ConversationRef, userID string) (string, error)
}

// ResolveTrigger builds a TriggerContext from the event, tolerating partial
// failure. Failed lookups are logged and leave their field empty.
func ResolveTrigger(ctx context.Context, lk Lookup, evt bus.InboundEvent) *TriggerContext {
	trigger := &TriggerContext{
		ThreadID:  evt.Conversation.ThreadID,
		Initiator: evt.From,
	}
	if lk == nil {
		return trigger
	}

	if name, err := lk.TeamName(ctx, evt.Conversation); err != nil {
		logger.WarnCF("correlation", "team lookup failed", map[string]any{
			"chat_id": evt.Conversation.ChatID,
			"error":   err.Error(),
		})
	} else {
		trigger.TeamName = name
	}

	if name, err := lk.ChannelName(ctx, evt.Conversation); err != nil {
		logger.WarnCF("correlation", "channel lookup failed", map[string]any{
			"chat_id": evt.Conversation.ChatID,
			"error":   err.Error(),
		})
	} else {
		trigger.ChannelName = name
	}

	if name, err := lk.MemberName(ctx, evt.Conversation, evt.From.ID); err != nil {
		logger.WarnCF("correlation", "member lookup failed", map[string]any{
			"user_id": evt.From.ID,
			"error":   err.Error(),
		})
	} else {
		trigger.Initiator.Name = name
		trigger.Responder = trigger.Initiator
	}

	return trigger
}
