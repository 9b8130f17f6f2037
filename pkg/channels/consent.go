package channels

import (
	"strings"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
)

// Consent replies arrive in a user's private conversation, either as typed
// text or as a card-button press. Both shapes of the same logical approval
// must map to the same external event id so the saga's dedup gate treats
// them as one event, no matter which client instance delivered it.

// ConsentEventID derives the delivery-independent event id for an approval
// or decline.
func ConsentEventID(requestID, code string) string {
	if code == "" {
		return "consent:" + requestID
	}
	return "consent:" + requestID + ":" + code
}

// ParseConsentReply recognizes the text shapes of a consent reply:
//
//	approve <request-id> <code>
//	decline <request-id>
//
// It returns false for anything else.
func ParseConsentReply(text string) (kind bus.EventKind, requestID, code string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", "", "", false
	}
	switch strings.ToLower(fields[0]) {
	case "approve":
		if len(fields) != 3 {
			return "", "", "", false
		}
		return bus.EventConsentCompletion, fields[1], fields[2], true
	case "decline":
		if len(fields) != 2 {
			return "", "", "", false
		}
		return bus.EventConsentDeclined, fields[1], "", true
	}
	return "", "", "", false
}

// ConsentEvent builds the inbound event for a parsed consent reply.
func ConsentEvent(kind bus.EventKind, ref bus.ConversationRef, from bus.Identity, requestID, code string) bus.InboundEvent {
	evt := bus.InboundEvent{
		Kind:         kind,
		Conversation: ref,
		From:         from,
		EventID:      ConsentEventID(requestID, code),
		RequestID:    requestID,
	}
	if kind == bus.EventConsentCompletion {
		evt.Payload = map[string]string{"code": code}
	}
	return evt
}
