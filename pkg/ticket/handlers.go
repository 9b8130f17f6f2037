package ticket

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinyland-inc/deskclaw/pkg/handlers"
)

const helpText = `I can file and look up tickets for you:
  /ticket <title>   file a new ticket (asks for your consent once)
  /status <id>      show a ticket's status
  /mine             list your open tickets (asks for your consent once)
  /help             this message`

// RegisterHandlers wires the ticket handlers into the registry. Ordering
// matters: resolution scans in this exact order.
func RegisterHandlers(reg *handlers.Registry, client *Client, serviceToken string) error {
	hs := []handlers.Handler{
		{
			Name:    "help",
			Kind:    handlers.Plain,
			On:      handlers.Command,
			Pattern: handlers.Exact("/help"),
			Run: func(ctx context.Context, turn *handlers.Turn, msg handlers.Message, _ *handlers.Credential) (handlers.Outcome, error) {
				return handlers.Outcome{Reply: helpText}, nil
			},
		},
		{
			Name:    "ticket-status",
			Kind:    handlers.Plain,
			On:      handlers.Command,
			Pattern: handlers.MustRegex(`^/status\s+(\S+)$`),
			Run: func(ctx context.Context, turn *handlers.Turn, msg handlers.Message, _ *handlers.Credential) (handlers.Outcome, error) {
				t, err := client.GetTicket(ctx, serviceToken, msg.Matches[1])
				if err != nil {
					return handlers.Outcome{}, err
				}
				return handlers.Outcome{
					Reply: fmt.Sprintf("Ticket %s (%s): %s", t.ID, t.Status, t.Title),
				}, nil
			},
		},
		{
			Name:    "ticket-create",
			Kind:    handlers.AuthGated,
			On:      handlers.Command,
			Pattern: handlers.MustRegex(`^/ticket\s+(.+)$`),
			Run: func(ctx context.Context, turn *handlers.Turn, msg handlers.Message, cred *handlers.Credential) (handlers.Outcome, error) {
				title := strings.TrimSpace(msg.Matches[1])
				t, err := client.CreateTicket(ctx, cred.AccessToken, CreateTicketRequest{
					Title:     title,
					Requester: requester(turn),
				})
				if err != nil {
					return handlers.Outcome{}, err
				}
				return handlers.Outcome{
					Reply: fmt.Sprintf("Filed ticket %s: %s", t.ID, t.Title),
				}, nil
			},
		},
		{
			Name:    "ticket-mine",
			Kind:    handlers.AuthGated,
			On:      handlers.Command,
			Pattern: handlers.Exact("/mine"),
			Run: func(ctx context.Context, turn *handlers.Turn, msg handlers.Message, cred *handlers.Credential) (handlers.Outcome, error) {
				tickets, err := client.ListTickets(ctx, cred.AccessToken, requester(turn))
				if err != nil {
					return handlers.Outcome{}, err
				}
				if len(tickets) == 0 {
					return handlers.Outcome{Reply: "You have no open tickets."}, nil
				}
				var b strings.Builder
				b.WriteString("Your open tickets:\n")
				for _, t := range tickets {
					fmt.Fprintf(&b, "  %s (%s): %s\n", t.ID, t.Status, t.Title)
				}
				return handlers.Outcome{Reply: strings.TrimRight(b.String(), "\n")}, nil
			},
		},
		{
			Name:    "ticket-submit",
			Kind:    handlers.AuthGated,
			On:      handlers.Action,
			Pattern: handlers.Exact("ticket_submit"),
			Run: func(ctx context.Context, turn *handlers.Turn, msg handlers.Message, cred *handlers.Credential) (handlers.Outcome, error) {
				title := turn.Payload["title"]
				if title == "" {
					return handlers.Outcome{Reply: "The ticket needs a title."}, nil
				}
				t, err := client.CreateTicket(ctx, cred.AccessToken, CreateTicketRequest{
					Title:       title,
					Description: turn.Payload["description"],
					Requester:   requester(turn),
				})
				if err != nil {
					return handlers.Outcome{}, err
				}
				return handlers.Outcome{
					Reply: fmt.Sprintf("Filed ticket %s: %s", t.ID, t.Title),
				}, nil
			},
		},
	}

	for _, h := range hs {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// requester derives the backend requester id from the trigger snapshot, so
// a resumed turn attributes the ticket to the original initiator even
// though it passed through a private conversation.
func requester(turn *handlers.Turn) string {
	if turn.Trigger != nil && turn.Trigger.Initiator.ID != "" {
		return turn.Trigger.Initiator.ID
	}
	return turn.Event.From.ID
}
