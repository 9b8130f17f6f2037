package channels

import (
	"context"
	"errors"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/config"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
)

// SlackChannel bridges Slack socket mode into the bus. It doubles as the
// switchboard host and the correlation lookup for the "slack" channel.
type SlackChannel struct {
	*BaseChannel
	api    *slack.Client
	sock   *socketmode.Client
	cancel context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, mb *bus.MessageBus) (*SlackChannel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack bot_token and app_token are required")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", mb, cfg.AllowFrom),
		api:         api,
		sock:        socketmode.New(api),
	}, nil
}

func (c *SlackChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.SetRunning(true)

	go c.eventLoop(runCtx)
	go func() {
		if err := c.sock.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "socket mode stopped", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(msg.Content, false))
	return err
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				c.sock.Ack(*evt.Request)
				c.handleEventsAPI(ctx, apiEvent)
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				c.sock.Ack(*evt.Request)
				c.handleInteractive(ctx, callback)
			}
		}
	}
}

func (c *SlackChannel) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || ev.BotID != "" || ev.SubType != "" {
		return
	}

	ref := bus.ConversationRef{
		Channel:  "slack",
		ChatID:   ev.Channel,
		ThreadID: ev.ThreadTimeStamp,
		Private:  ev.ChannelType == "im",
	}
	from := bus.Identity{ID: ev.User}

	// Typed consent replies only count inside the private conversation the
	// prompt was sent to.
	if ref.Private {
		if kind, requestID, code, ok := ParseConsentReply(ev.Text); ok {
			c.Publish(ctx, ConsentEvent(kind, ref, from, requestID, code))
			return
		}
	}

	c.Publish(ctx, bus.InboundEvent{
		Kind:         bus.EventMessage,
		Conversation: ref,
		From:         from,
		Text:         ev.Text,
		EventID:      ev.TimeStamp,
	})
}

func (c *SlackChannel) handleInteractive(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	ref := bus.ConversationRef{
		Channel: "slack",
		ChatID:  callback.Channel.ID,
		Private: callback.Channel.IsIM,
	}
	from := bus.Identity{ID: callback.User.ID, Name: callback.User.Name}

	// Button shape of a consent reply: the value carries "<request-id>" for
	// declines and "<request-id>:<code>" for approvals. Same logical
	// approval as the typed shape, so the event id matches it.
	switch action.ActionID {
	case "consent_approve":
		requestID, code, found := strings.Cut(action.Value, ":")
		if !found {
			return
		}
		c.Publish(ctx, ConsentEvent(bus.EventConsentCompletion, ref, from, requestID, code))
		return
	case "consent_decline":
		c.Publish(ctx, ConsentEvent(bus.EventConsentDeclined, ref, from, action.Value, ""))
		return
	}

	payload := map[string]string{}
	for blockID, actions := range callback.BlockActionState.Values {
		for actionID, state := range actions {
			key := actionID
			if key == "" {
				key = blockID
			}
			payload[key] = state.Value
		}
	}

	c.Publish(ctx, bus.InboundEvent{
		Kind:         bus.EventAction,
		Conversation: ref,
		From:         from,
		ActionVerb:   action.ActionID,
		Payload:      payload,
		EventID:      callback.TriggerID,
	})
}

// --- switchboard host contract ---

func (c *SlackChannel) ResumeConversation(ctx context.Context, ref bus.ConversationRef, action switchboard.Action) error {
	// Slack lets the bot post into any conversation it has a ref for, so
	// resuming is just running the action scoped to that ref.
	return action(ctx, ref)
}

func (c *SlackChannel) CreatePrivateConversation(ctx context.Context, user bus.Identity) (bus.ConversationRef, error) {
	channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{user.ID},
		ReturnIM: true,
	})
	if err != nil {
		return bus.ConversationRef{}, err
	}
	return bus.ConversationRef{Channel: "slack", ChatID: channel.ID, Private: true}, nil
}

// --- correlation lookup contract ---

func (c *SlackChannel) TeamName(ctx context.Context, _ bus.ConversationRef) (string, error) {
	info, err := c.api.GetTeamInfoContext(ctx)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func (c *SlackChannel) ChannelName(ctx context.Context, ref bus.ConversationRef) (string, error) {
	info, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: ref.ChatID,
	})
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func (c *SlackChannel) MemberName(ctx context.Context, _ bus.ConversationRef, userID string) (string, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.RealName != "" {
		return user.RealName, nil
	}
	return user.Name, nil
}

var (
	_ Channel          = (*SlackChannel)(nil)
	_ switchboard.Host = (*SlackChannel)(nil)
)
