package channels

import (
	"testing"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
)

func TestParseConsentReply(t *testing.T) {
	tests := []struct {
		text      string
		kind      bus.EventKind
		requestID string
		code      string
		ok        bool
	}{
		{"approve req-1 abc123", bus.EventConsentCompletion, "req-1", "abc123", true},
		{"  APPROVE req-1 abc123  ", bus.EventConsentCompletion, "req-1", "abc123", true},
		{"decline req-1", bus.EventConsentDeclined, "req-1", "", true},
		{"Decline req-1", bus.EventConsentDeclined, "req-1", "", true},
		{"approve req-1", "", "", "", false},
		{"decline req-1 extra", "", "", "", false},
		{"hello there", "", "", "", false},
		{"", "", "", "", false},
	}
	for _, tt := range tests {
		kind, requestID, code, ok := ParseConsentReply(tt.text)
		if ok != tt.ok {
			t.Errorf("ParseConsentReply(%q): ok=%v, want %v", tt.text, ok, tt.ok)
			continue
		}
		if kind != tt.kind || requestID != tt.requestID || code != tt.code {
			t.Errorf("ParseConsentReply(%q): got (%q, %q, %q)", tt.text, kind, requestID, code)
		}
	}
}

func TestConsentEventID_DeliveryIndependent(t *testing.T) {
	// The same logical approval from two client instances must map to one id.
	a := ConsentEventID("req-1", "code-x")
	b := ConsentEventID("req-1", "code-x")
	if a != b {
		t.Errorf("ids differ: %q vs %q", a, b)
	}
	if a == ConsentEventID("req-1", "code-y") {
		t.Error("different codes must yield different ids")
	}
	if a == ConsentEventID("req-2", "code-x") {
		t.Error("different requests must yield different ids")
	}
	if ConsentEventID("req-1", "") != "consent:req-1" {
		t.Errorf("decline id: got %q", ConsentEventID("req-1", ""))
	}
}

func TestConsentEvent(t *testing.T) {
	ref := bus.ConversationRef{Channel: "telegram", ChatID: "42", Private: true}
	from := bus.Identity{ID: "7", Name: "Sam"}

	evt := ConsentEvent(bus.EventConsentCompletion, ref, from, "req-1", "code-x")
	if evt.Kind != bus.EventConsentCompletion {
		t.Errorf("kind: got %q", evt.Kind)
	}
	if evt.RequestID != "req-1" {
		t.Errorf("request id: got %q", evt.RequestID)
	}
	if evt.EventID != "consent:req-1:code-x" {
		t.Errorf("event id: got %q", evt.EventID)
	}
	if evt.Payload["code"] != "code-x" {
		t.Errorf("payload: %+v", evt.Payload)
	}

	decline := ConsentEvent(bus.EventConsentDeclined, ref, from, "req-1", "")
	if decline.Payload != nil {
		t.Errorf("decline must carry no payload, got %+v", decline.Payload)
	}
}
