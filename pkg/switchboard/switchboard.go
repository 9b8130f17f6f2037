// Package switchboard routes turns between conversations. It owns the
// contract the core needs from a messaging host (resume a past
// conversation, create a private one) and the cache of per-user private
// conversation refs.
package switchboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Action runs scoped to the conversation it was resumed into.
type Action func(ctx context.Context, ref bus.ConversationRef) error

// Host is what the core requires from a messaging channel. Both operations
// may fail (host down, user blocked the bot); failures propagate to the
// caller and must not crash the enclosing turn.
type Host interface {
	// ResumeConversation re-enters a previously captured conversation and
	// runs action against it, regardless of which conversation the current
	// turn is physically in.
	ResumeConversation(ctx context.Context, ref bus.ConversationRef, action Action) error
	// CreatePrivateConversation opens a 1:1 conversation with the user.
	CreatePrivateConversation(ctx context.Context, user bus.Identity) (bus.ConversationRef, error)
}

type cacheEntry struct {
	ref     bus.ConversationRef
	expires time.Time
}

// Switchboard multiplexes Hosts by channel name and caches private
// conversation refs keyed by stable user identity with a TTL, so a stale
// ref is re-created instead of living forever.
type Switchboard struct {
	mu    sync.Mutex
	hosts map[string]Host
	cache map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

func New(cacheTTL time.Duration) *Switchboard {
	return &Switchboard{
		hosts: make(map[string]Host),
		cache: make(map[string]cacheEntry),
		ttl:   cacheTTL,
		now:   time.Now,
	}
}

// SetClock overrides the cache clock, for tests.
func (s *Switchboard) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RegisterHost attaches the host for a channel.
func (s *Switchboard) RegisterHost(channel string, h Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[channel] = h
}

func (s *Switchboard) host(channel string) (Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[channel]
	if !ok {
		return nil, fmt.Errorf("switchboard: no host for channel %q", channel)
	}
	return h, nil
}

// ResumeConversation re-enters ref's conversation via its channel host.
func (s *Switchboard) ResumeConversation(ctx context.Context, ref bus.ConversationRef, action Action) error {
	h, err := s.host(ref.Channel)
	if err != nil {
		return err
	}
	if err := h.ResumeConversation(ctx, ref, action); err != nil {
		return fmt.Errorf("switchboard: resuming %s/%s: %w", ref.Channel, ref.ChatID, err)
	}
	return nil
}

// ResumeOrCreatePersonal runs action in a private 1:1 conversation with
// user. If current is already private the action runs in place with no
// switch. Otherwise a cached ref is resumed, or a fresh private
// conversation is created, cached, and resumed.
func (s *Switchboard) ResumeOrCreatePersonal(ctx context.Context, current bus.ConversationRef, user bus.Identity, action Action) error {
	if current.Private {
		return action(ctx, current)
	}

	key := current.Channel + "/" + user.ID
	if ref, ok := s.cachedRef(key); ok {
		return s.ResumeConversation(ctx, ref, action)
	}

	h, err := s.host(current.Channel)
	if err != nil {
		return err
	}
	ref, err := h.CreatePrivateConversation(ctx, user)
	if err != nil {
		return fmt.Errorf("switchboard: creating private conversation for %s: %w", user.ID, err)
	}
	s.cacheRef(key, ref)
	logger.DebugCF("switchboard", "private conversation created", map[string]any{
		"channel": ref.Channel,
		"user_id": user.ID,
	})
	return h.ResumeConversation(ctx, ref, action)
}

func (s *Switchboard) cachedRef(key string) (bus.ConversationRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return bus.ConversationRef{}, false
	}
	if s.now().After(entry.expires) {
		delete(s.cache, key)
		return bus.ConversationRef{}, false
	}
	return entry.ref, true
}

func (s *Switchboard) cacheRef(key string, ref bus.ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// opportunistic eviction keeps the cache bounded without a sweeper
	for k, e := range s.cache {
		if now.After(e.expires) {
			delete(s.cache, k)
		}
	}
	s.cache[key] = cacheEntry{ref: ref, expires: now.Add(s.ttl)}
}

// CacheLen reports the number of cached refs, for tests.
func (s *Switchboard) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
