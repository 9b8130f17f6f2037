// Package dedup provides the conditional-write key/value store the consent
// saga uses to suppress duplicate completion events.
//
// The only concurrency-safety mechanism is the atomic create-if-absent:
// for any key, exactly one caller observes Created and every other caller
// observes Conflict, under arbitrary interleaving.
package dedup

import "context"

// Key identifies one delivery of one external event in one conversation.
type Key struct {
	Channel        string
	ConversationID string
	EventID        string
}

func (k Key) String() string {
	return k.Channel + "/" + k.ConversationID + "/" + k.EventID
}

// CreateResult is the outcome of a conditional create. "Key already exists"
// is expected control flow, not an error, so it is a structured result
// rather than a sentinel to fish out of an error message.
type CreateResult int

const (
	// Created means the key did not exist and was written by this call.
	Created CreateResult = iota
	// Conflict means the key already existed; the caller lost the race.
	Conflict
)

// Store is the conditional-write store contract.
//
// CreateIfAbsent returns Created or Conflict; a non-nil error means the
// store itself faulted and neither outcome can be assumed. Delete removes
// keys best-effort and ignores ones that are already gone.
type Store interface {
	CreateIfAbsent(ctx context.Context, key Key, value string) (CreateResult, error)
	Delete(ctx context.Context, keys []Key) error
}
