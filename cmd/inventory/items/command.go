package items

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openkcm/inventory-client/internal/business"
	"github.com/openkcm/inventory-client/internal/cmdutils"
	"github.com/openkcm/inventory-client/internal/config"
	"github.com/openkcm/inventory-client/internal/items"
)

var ErrInvalidID = errors.New("item id must be a positive integer")

func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage inventory items",
	}

	cmd.AddCommand(
		listCmd(buildInfo),
		getCmd(buildInfo),
		createCmd(buildInfo),
		updateCmd(buildInfo),
		deleteCmd(buildInfo),
	)

	return cmd
}

func listCmd(buildInfo string) *cobra.Command {
	var output string

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"list",
		"List all items",
		"",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			format, err := business.ParseFormat(output)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				list, err := app.ListItems(ctx)
				if err != nil {
					return err
				}
				return business.Render(cmd.OutOrStdout(), format, business.ItemTable(list))
			})
		},
	)
	addOutputFlag(cmd, &output)

	return cmd
}

func getCmd(buildInfo string) *cobra.Command {
	var output string

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"get <id>",
		"Show one item",
		"",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			format, err := business.ParseFormat(output)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				item, err := app.GetItem(ctx, id)
				if err != nil {
					return err
				}
				return render(cmd, format, item)
			})
		},
	)
	cmd.Args = cobra.ExactArgs(1)
	addOutputFlag(cmd, &output)

	return cmd
}

func createCmd(buildInfo string) *cobra.Command {
	var (
		in     items.Input
		output string
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"create",
		"Create an item",
		"Creates an item. The backend validates name and price and reports field errors.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, _ []string) error {
			format, err := business.ParseFormat(output)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				item, err := app.CreateItem(ctx, in)
				if err != nil {
					return err
				}
				return render(cmd, format, item)
			})
		},
	)
	addInputFlags(cmd, &in)
	addOutputFlag(cmd, &output)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func updateCmd(buildInfo string) *cobra.Command {
	var (
		in     items.Input
		output string
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"update <id>",
		"Replace an item",
		"Replaces name, description and price of an item.",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			format, err := business.ParseFormat(output)
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				item, err := app.UpdateItem(ctx, id, in)
				if err != nil {
					return err
				}
				return render(cmd, format, item)
			})
		},
	)
	cmd.Args = cobra.ExactArgs(1)
	addInputFlags(cmd, &in)
	addOutputFlag(cmd, &output)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func deleteCmd(buildInfo string) *cobra.Command {
	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"delete <id>",
		"Delete an item",
		"",
		buildInfo,
		cmdutils.RunCommand,
		func(ctx context.Context, cfg *config.Config, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return business.WithApp(ctx, cfg, func(app *business.App) error {
				if err := app.DeleteItem(ctx, id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted item %d\n", id)
				return nil
			})
		},
	)
	cmd.Args = cobra.ExactArgs(1)

	return cmd
}

func addInputFlags(cmd *cobra.Command, in *items.Input) {
	cmd.Flags().StringVar(&in.Name, "name", "", "item name")
	cmd.Flags().StringVar(&in.Description, "description", "", "item description")
	cmd.Flags().StringVar(&in.Price, "price", "", "item price as a decimal string")
}

func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", string(business.FormatTable), "output format: table, json or yaml")
}

// render shows a single item; the table form reuses the list layout.
func render(cmd *cobra.Command, format business.Format, item items.Item) error {
	if format == business.FormatTable {
		return business.Render(cmd.OutOrStdout(), format, business.ItemTable{item})
	}
	return business.Render(cmd.OutOrStdout(), format, item)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}
