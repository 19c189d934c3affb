package logout

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openkcm/inventory-client/internal/business"
	"github.com/openkcm/inventory-client/internal/cmdutils"
	"github.com/openkcm/inventory-client/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"logout",
		"Forget the stored credentials",
		"Clears both tokens from the session store. The backend is not contacted.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			return business.WithApp(ctx, cfg, func(app *business.App) error {
				if err := app.Logout(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	)

	return cmd
}
