package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkcm/inventory-client/internal/business"
	"github.com/openkcm/inventory-client/internal/cmdutils"
	"github.com/openkcm/inventory-client/internal/config"
)

var ErrMissingSecret = errors.New("no secret given")

func Cmd(buildInfo string) *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"login",
		"Log in with username and password",
		"Exchanges username and password for a credential pair and stores it in the session store.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			secret, err := readSecret(cmd.InOrStdin(), password, passwordStdin)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				if err := app.Login(ctx, username, secret); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
				return nil
			})
		},
	)

	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	return cmd
}

func GoogleCmd(buildInfo string) *cobra.Command {
	var (
		token      string
		tokenStdin bool
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"login-google",
		"Log in with a Google access token",
		"Reads the Google profile for the access token and trades both for a credential pair.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			secret, err := readSecret(cmd.InOrStdin(), token, tokenStdin)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				if err := app.LoginGoogle(ctx, secret); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged in with Google")
				return nil
			})
		},
	)

	cmd.Flags().StringVar(&token, "token", "", "Google OAuth access token")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "read the Google access token from stdin")
	cmd.MarkFlagsMutuallyExclusive("token", "token-stdin")

	return cmd
}

// readSecret takes the flag value, or the first line of stdin when asked to.
func readSecret(stdin io.Reader, value string, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return "", ErrMissingSecret
	}

	return value, nil
}
