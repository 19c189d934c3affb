package status

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openkcm/inventory-client/internal/business"
	"github.com/openkcm/inventory-client/internal/cmdutils"
	"github.com/openkcm/inventory-client/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	var (
		output string
		verify bool
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"status",
		"Show the stored session",
		"Shows whether credentials are stored and, for JWT access tokens, their unverified claims.\n"+
			"With --verify the stored credentials are first checked against the backend.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			format, err := business.ParseFormat(output)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				if verify {
					if err := app.Verify(ctx); err != nil {
						return err
					}
				}

				status, err := app.Status(ctx)
				if err != nil {
					return err
				}
				return business.Render(cmd.OutOrStdout(), format, status)
			})
		},
	)

	cmd.Flags().StringVarP(&output, "output", "o", string(business.FormatTable), "output format: table, json or yaml")
	cmd.Flags().BoolVar(&verify, "verify", false, "check the stored credentials with one request to the backend")

	return cmd
}
