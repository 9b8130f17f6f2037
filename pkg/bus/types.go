package bus

// EventKind classifies an inbound event for dispatch.
type EventKind string

const (
	// EventMessage is a plain chat message.
	EventMessage EventKind = "message"
	// EventAction is a structured UI-card action (button press, form submit).
	EventAction EventKind = "action"
	// EventConsentCompletion signals that a user finished a consent prompt.
	// The same logical approval may be delivered more than once when the
	// user is signed in on several client instances.
	EventConsentCompletion EventKind = "consent_completion"
	// EventConsentDeclined signals that the user explicitly declined consent.
	EventConsentDeclined EventKind = "consent_declined"
)

// ConversationRef identifies a conversation on a channel. It is captured
// when a turn starts and can be handed back to the channel later to resume
// that conversation, even from a turn running somewhere else.
type ConversationRef struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Private  bool   `json:"private,omitempty"` // 1:1 conversation with the bot
}

// Identity is a stable per-channel user identity.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// InboundEvent is one inbound turn's trigger as published by a channel.
type InboundEvent struct {
	Kind         EventKind         `json:"kind"`
	Conversation ConversationRef   `json:"conversation"`
	From         Identity          `json:"from"`
	Text         string            `json:"text,omitempty"`
	ActionVerb   string            `json:"action_verb,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	// EventID is the platform-unique id of this delivery. Two deliveries of
	// the same logical approval carry the same EventID.
	EventID string `json:"event_id"`
	// RequestID correlates this event with an in-flight multi-turn
	// interaction. Empty for fresh interactions.
	RequestID string `json:"request_id,omitempty"`
}

// OutboundMessage is a reply routed back to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
