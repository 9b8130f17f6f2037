// DeskClaw - conversational helpdesk assistant
//
// Copyright (c) 2026 DeskClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/deskclaw/cmd/deskclaw/internal"
	"github.com/tinyland-inc/deskclaw/cmd/deskclaw/internal/gateway"
	"github.com/tinyland-inc/deskclaw/cmd/deskclaw/internal/version"
)

func NewDeskclawCommand() *cobra.Command {
	short := fmt.Sprintf("deskclaw - Helpdesk Assistant v%s", internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "deskclaw",
		Short:   short,
		Example: "deskclaw gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewDeskclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
