package channels

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/config"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
)

// TelegramChannel bridges Telegram long polling into the bus.
type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus) (*TelegramChannel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, err
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", mb, cfg.AllowFrom),
		bot:         bot,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	updates, err := c.bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return err
	}
	c.cancel = cancel
	c.SetRunning(true)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(runCtx, update)
			}
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return errors.New("telegram: invalid chat id " + msg.ChatID)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	return err
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil || message.From == nil {
		return
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}

	ref := bus.ConversationRef{
		Channel: "telegram",
		ChatID:  strconv.FormatInt(message.Chat.ID, 10),
		Private: message.Chat.Type == telego.ChatTypePrivate,
	}
	from := bus.Identity{
		ID:   strconv.FormatInt(message.From.ID, 10),
		Name: message.From.FirstName,
	}

	if ref.Private {
		if kind, requestID, code, ok := ParseConsentReply(text); ok {
			c.Publish(ctx, ConsentEvent(kind, ref, from, requestID, code))
			return
		}
	}

	c.Publish(ctx, bus.InboundEvent{
		Kind:         bus.EventMessage,
		Conversation: ref,
		From:         from,
		Text:         text,
		EventID:      strconv.Itoa(update.UpdateID),
	})
}

// --- switchboard host contract ---

func (c *TelegramChannel) ResumeConversation(ctx context.Context, ref bus.ConversationRef, action switchboard.Action) error {
	return action(ctx, ref)
}

// CreatePrivateConversation maps the user onto their DM chat. Telegram DM
// chat ids equal the user id; the bot can only message users who have
// started it at least once, which consent-capable users have.
func (c *TelegramChannel) CreatePrivateConversation(_ context.Context, user bus.Identity) (bus.ConversationRef, error) {
	if user.ID == "" {
		return bus.ConversationRef{}, errors.New("telegram: user id is required")
	}
	return bus.ConversationRef{Channel: "telegram", ChatID: user.ID, Private: true}, nil
}

// --- correlation lookup contract ---

func (c *TelegramChannel) TeamName(context.Context, bus.ConversationRef) (string, error) {
	// Telegram has no team concept.
	return "", nil
}

func (c *TelegramChannel) ChannelName(ctx context.Context, ref bus.ConversationRef) (string, error) {
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return "", err
	}
	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}

func (c *TelegramChannel) MemberName(ctx context.Context, ref bus.ConversationRef, userID string) (string, error) {
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return "", err
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", err
	}
	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: uid,
	})
	if err != nil {
		return "", err
	}
	user := member.MemberUser()
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name, nil
}

var (
	_ Channel          = (*TelegramChannel)(nil)
	_ switchboard.Host = (*TelegramChannel)(nil)
)
