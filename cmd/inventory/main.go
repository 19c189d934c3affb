package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/inventory-client/cmd/inventory/items"
	"github.com/openkcm/inventory-client/cmd/inventory/login"
	"github.com/openkcm/inventory-client/cmd/inventory/logout"
	"github.com/openkcm/inventory-client/cmd/inventory/status"
	"github.com/openkcm/inventory-client/internal/cmdutils"
	"github.com/openkcm/inventory-client/internal/serviceerr"
)

// BuildInfo will be set by the build system
var BuildInfo = "{}"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Inventory Client Version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			return err
		}

		slog.InfoContext(cmd.Context(), value)

		return nil
	},
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inventory Client",
		Long:  "Inventory client keeping an OAuth2 session against the inventory backend.",
	}

	cmd.PersistentFlags().BoolVar(&cmdutils.EnableTelemetry, "telemetry", false, "export traces, metrics and logs over OTLP")

	cmd.AddCommand(
		versionCmd,
		login.Cmd(BuildInfo),
		login.GoogleCmd(BuildInfo),
		logout.Cmd(BuildInfo),
		status.Cmd(BuildInfo),
		items.Cmd(BuildInfo),
	)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Debug(ctx, "Command failed", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		if errors.Is(err, serviceerr.ErrAuthTerminal) {
			_, _ = fmt.Fprintln(os.Stderr, "Please log in again: inventory login --username <name>")
		}

		return err
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
