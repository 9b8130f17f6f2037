// Package handlers defines the handler registration records and the
// pattern-based resolver that maps inbound text and card actions to them.
package handlers

import (
	"context"
	"regexp"
	"time"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/correlation"
)

// Kind selects how a handler is dispatched. Variant selection happens by
// this tag, never by runtime type testing.
type Kind int

const (
	// Plain handlers run immediately on dispatch.
	Plain Kind = iota
	// AuthGated handlers need a delegated credential and go through the
	// consent saga before running.
	AuthGated
)

// MatchKind selects which inbound surface a pattern applies to.
type MatchKind int

const (
	// Command patterns match message text.
	Command MatchKind = iota
	// Action patterns match structured card-action verbs.
	Action
)

// Message is the matched form of an inbound event's text.
type Message struct {
	Text string
	// Matches holds regex capture groups; index 0 is the full match.
	// Empty for exact-string patterns.
	Matches []string
}

// Credential is a delegated access credential obtained via consent.
type Credential struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Outcome is what a handler produced for the user. An empty Reply means the
// turn ends with no visible response.
type Outcome struct {
	Reply string
}

// Turn carries the per-turn context a handler runs against. It is built
// once by the dispatcher and passed explicitly; nothing is merged or
// proxied at runtime.
type Turn struct {
	Event     bus.InboundEvent
	Origin    bus.ConversationRef
	RequestID string
	Trigger   *correlation.TriggerContext
	// Payload carries structured card-action fields; on a resumed turn it
	// is the snapshot taken when the saga began.
	Payload map[string]string
}

// RunFunc is a handler body. cred is nil for Plain handlers and always
// non-nil by the time an AuthGated handler runs.
type RunFunc func(ctx context.Context, turn *Turn, msg Message, cred *Credential) (Outcome, error)

// Handler is one registration record.
type Handler struct {
	Name    string
	Kind    Kind
	On      MatchKind
	Pattern Pattern
	Run     RunFunc
}

// Pattern matches inbound text either exactly or by regular expression.
type Pattern struct {
	exact string
	re    *regexp.Regexp
}

// Exact builds a pattern requiring full string equality.
func Exact(text string) Pattern {
	return Pattern{exact: text}
}

// Regex builds a pattern from a regular expression.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{re: re}, nil
}

// MustRegex is Regex for patterns known at compile time.
func MustRegex(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

func (p Pattern) match(text string) ([]string, bool) {
	if p.re != nil {
		m := p.re.FindStringSubmatch(text)
		return m, m != nil
	}
	return nil, text == p.exact
}

// IsZero reports whether the pattern was never set.
func (p Pattern) IsZero() bool {
	return p.exact == "" && p.re == nil
}
