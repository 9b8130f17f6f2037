package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
)

const (
	consoleChatID = "direct"
	consoleUserID = "console-user"
)

// ConsoleChannel is a local development channel: a readline loop standing
// in for a messaging platform. The console is one private conversation, so
// consent replies ("approve <id> <code>", "decline <id>") work inline.
type ConsoleChannel struct {
	*BaseChannel
	rl     *readline.Instance
	cancel context.CancelFunc
	seq    atomic.Uint64
}

func NewConsoleChannel(mb *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", mb, nil),
	}
}

func (c *ConsoleChannel) Start(ctx context.Context) error {
	rl, err := readline.New("deskclaw> ")
	if err != nil {
		return err
	}
	c.rl = rl

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.SetRunning(true)

	go c.readLoop(runCtx)
	return nil
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		c.rl.Close()
	}
	c.SetRunning(false)
	return nil
}

func (c *ConsoleChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	fmt.Println(msg.Content)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	ref := bus.ConversationRef{Channel: "console", ChatID: consoleChatID, Private: true}
	from := bus.Identity{ID: consoleUserID, Name: "you"}

	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF || ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.WarnCF("console", "read failed", map[string]any{"error": err.Error()})
			return
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if kind, requestID, code, ok := ParseConsentReply(text); ok {
			c.Publish(ctx, ConsentEvent(kind, ref, from, requestID, code))
			continue
		}

		c.Publish(ctx, bus.InboundEvent{
			Kind:         bus.EventMessage,
			Conversation: ref,
			From:         from,
			Text:         text,
			EventID:      "console-" + strconv.FormatUint(c.seq.Add(1), 10),
		})
	}
}

// --- switchboard host contract ---

func (c *ConsoleChannel) ResumeConversation(ctx context.Context, ref bus.ConversationRef, action switchboard.Action) error {
	return action(ctx, ref)
}

func (c *ConsoleChannel) CreatePrivateConversation(context.Context, bus.Identity) (bus.ConversationRef, error) {
	return bus.ConversationRef{Channel: "console", ChatID: consoleChatID, Private: true}, nil
}

var (
	_ Channel          = (*ConsoleChannel)(nil)
	_ switchboard.Host = (*ConsoleChannel)(nil)
)
