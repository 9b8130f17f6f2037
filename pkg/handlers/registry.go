package handlers

import (
	"errors"
	"fmt"
)

// ErrFrozen is returned when registering on a frozen registry.
var ErrFrozen = errors.New("handlers: registry is frozen")

// Registry holds handler registrations in order. Handlers are registered
// once at startup, the registry is frozen, and resolution is read-only and
// safe for concurrent turns thereafter.
type Registry struct {
	commands []Handler
	actions  []Handler
	names    map[string]bool
	byName   map[string]*Handler
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register appends a handler. Ordering is significant: Resolve scans in
// registration order and the first match wins.
func (r *Registry) Register(h Handler) error {
	if r.frozen {
		return ErrFrozen
	}
	if h.Name == "" {
		return errors.New("handlers: name is required")
	}
	if h.Run == nil {
		return fmt.Errorf("handlers: %s has no run function", h.Name)
	}
	if h.Pattern.IsZero() {
		return fmt.Errorf("handlers: %s has no pattern", h.Name)
	}
	if r.names[h.Name] {
		return fmt.Errorf("handlers: duplicate handler %s", h.Name)
	}

	switch h.On {
	case Command:
		r.commands = append(r.commands, h)
	case Action:
		r.actions = append(r.actions, h)
	default:
		return fmt.Errorf("handlers: %s has unknown match kind %d", h.Name, h.On)
	}
	r.names[h.Name] = true
	return nil
}

// Freeze makes the registry immutable and builds the name index.
func (r *Registry) Freeze() {
	r.frozen = true
	r.byName = make(map[string]*Handler, len(r.commands)+len(r.actions))
	for i := range r.commands {
		r.byName[r.commands[i].Name] = &r.commands[i]
	}
	for i := range r.actions {
		r.byName[r.actions[i].Name] = &r.actions[i]
	}
}

// Resolve maps inbound text (or an action verb) to the first registered
// handler whose pattern matches. No match is not an error: the caller
// silently ends the turn.
func (r *Registry) Resolve(kind MatchKind, text string) (*Handler, Message, bool) {
	list := r.commands
	if kind == Action {
		list = r.actions
	}
	for i := range list {
		if matches, ok := list[i].Pattern.match(text); ok {
			return &list[i], Message{Text: text, Matches: matches}, true
		}
	}
	return nil, Message{}, false
}

// Lookup finds a handler by registration name. The saga uses it to resume
// the original pending handler after consent completes. Only valid after
// Freeze.
func (r *Registry) Lookup(name string) (*Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}
