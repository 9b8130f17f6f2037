package channels

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/config"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Manager owns the enabled channels: it starts and stops them together and
// routes outbound messages from the bus to the channel named on them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(cfg *config.Config, mb *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      mb,
	}

	if cfg.Channels.Slack.Enabled {
		ch, err := NewSlackChannel(cfg.Channels.Slack, mb)
		if err != nil {
			return nil, fmt.Errorf("channels: slack: %w", err)
		}
		m.channels[ch.Name()] = ch
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, mb)
		if err != nil {
			return nil, fmt.Errorf("channels: telegram: %w", err)
		}
		m.channels[ch.Name()] = ch
	}
	if cfg.Channels.Console.Enabled {
		m.channels["console"] = NewConsoleChannel(mb)
	}

	return m, nil
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) GetEnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every channel and the outbound routing loop.
func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("channels: starting %s: %w", name, err)
		}
		logger.InfoC("channels", name+" channel started")
	}
	go m.routeOutbound(ctx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "stop failed", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) routeOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := m.channels[msg.Channel]
		if !found {
			logger.WarnCF("channels", "outbound for unknown channel", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "send failed", map[string]any{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}
