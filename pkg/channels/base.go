// Package channels hosts the messaging-platform adapters. Each adapter
// turns platform traffic into bus events and implements the switchboard
// host contract for its platform.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Channel is a running messaging adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, mb *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       mb,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}

	return false
}

// Publish forwards an event to the bus if the sender is allowed.
func (c *BaseChannel) Publish(ctx context.Context, evt bus.InboundEvent) {
	if !c.IsAllowed(evt.From.ID) {
		return
	}
	if err := c.bus.PublishInbound(ctx, evt); err != nil {
		logger.WarnCF(c.name, "inbound publish failed", map[string]any{
			"error": err.Error(),
		})
	}
}
