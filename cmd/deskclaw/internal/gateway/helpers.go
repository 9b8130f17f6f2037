package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tinyland-inc/deskclaw/cmd/deskclaw/internal"
	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/channels"
	"github.com/tinyland-inc/deskclaw/pkg/consent"
	"github.com/tinyland-inc/deskclaw/pkg/correlation"
	"github.com/tinyland-inc/deskclaw/pkg/dedup"
	"github.com/tinyland-inc/deskclaw/pkg/dispatch"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
	"github.com/tinyland-inc/deskclaw/pkg/logger"
	"github.com/tinyland-inc/deskclaw/pkg/switchboard"
	"github.com/tinyland-inc/deskclaw/pkg/ticket"
)

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	msgBus := bus.NewMessageBus()
	sender := dispatch.NewBusSender(msgBus)

	// Every collaborator constructor below fails fast; a gateway with a
	// missing collaborator must not accept a single event.
	store := correlation.NewMemoryStore()
	janitor, err := correlation.NewJanitor(store, cfg.Correlation.SweepSchedule)
	if err != nil {
		return err
	}

	var dedupStore dedup.Store
	if cfg.Dedup.Backend == "memory" {
		dedupStore = dedup.NewMemoryStore()
	} else {
		dedupStore, err = dedup.NewFileStore(cfg.Dedup.Dir)
		if err != nil {
			return err
		}
	}

	board := switchboard.New(time.Duration(cfg.Switchboard.CacheTTLHours) * time.Hour)

	provider, err := consent.NewOAuthProvider(cfg.OAuth, sender)
	if err != nil {
		return err
	}

	ticketClient, err := ticket.NewClient(ticket.ClientConfig{
		BaseURL: cfg.Ticket.BaseURL,
		Timeout: time.Duration(cfg.Ticket.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	registry := handlers.NewRegistry()
	if err := ticket.RegisterHandlers(registry, ticketClient, cfg.Ticket.ServiceToken); err != nil {
		return err
	}
	registry.Freeze()

	saga, err := consent.NewSaga(store, dedupStore, board, provider, registry, sender)
	if err != nil {
		return err
	}

	ttl := time.Duration(cfg.Correlation.TTLMinutes) * time.Minute
	dispatcher, err := dispatch.NewDispatcher(store, saga, ttl)
	if err != nil {
		return err
	}

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	// Channels that can host context switches or resolve secondary context
	// advertise it by implementing the respective contract.
	for _, name := range channelManager.GetEnabledChannels() {
		ch, _ := channelManager.GetChannel(name)
		if host, ok := ch.(switchboard.Host); ok {
			board.RegisterHost(name, host)
		}
		if lookup, ok := ch.(correlation.Lookup); ok {
			dispatcher.RegisterLookup(name, lookup)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := dispatch.NewService(msgBus, registry, dispatcher)
	go service.Run(ctx)
	go janitor.Run(ctx)

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}

	enabled := channelManager.GetEnabledChannels()
	if len(enabled) > 0 {
		fmt.Printf("Channels enabled: %v\n", enabled)
	} else {
		fmt.Println("Warning: No channels enabled")
	}
	fmt.Println("Gateway started. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channelManager.StopAll(context.Background())
	msgBus.Close()
	fmt.Println("Gateway stopped")

	return nil
}
