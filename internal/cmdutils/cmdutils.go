package cmdutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/inventory-client/internal/config"
)

// BusinessFunc runs a command with the loaded configuration and its positional arguments.
type BusinessFunc func(ctx context.Context, cfg *config.Config, args []string) error

// WrapperFunc prepares the ambient stack around a BusinessFunc.
type WrapperFunc func(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string) error

// EnableTelemetry is bound to the --telemetry flag of the root command.
var EnableTelemetry bool

func CobraCommand(
	use, short, long, buildInfo string,
	wrapperFunc WrapperFunc,
	businessFunc BusinessFunc,
) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Long:         long,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			err = wrapperFunc(cmd.Context(), businessFunc, cfg, args)
			if err != nil {
				return fmt.Errorf("running %s: %w", cmd.Name(), err)
			}

			return nil
		},
	}
}

// RunCommand initialises logging, and telemetry when enabled, before running fn.
func RunCommand(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string) error {
	return run(ctx, EnableTelemetry, fn, cfg, args)
}

func run(ctx context.Context, withTelemetry bool, fn BusinessFunc, cfg *config.Config, args []string) error {
	// LoggerConfig
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting the command", slog.Any("config", cfg))

	// OpenTelemetry
	if withTelemetry {
		err = otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
		if err != nil {
			return oops.In("main").Wrapf(err, "Failed to load the telemetry")
		}
	}

	// Business Logic
	err = fn(ctx, cfg, args)
	if err != nil {
		return oops.In("main").Wrapf(err, "Command failed")
	}

	return nil
}

func loadConfig(buildInfo string) (*config.Config, error) {
	defaultValues := map[string]any{}
	cfg := &config.Config{}

	err := commoncfg.LoadConfig(
		cfg,
		defaultValues,
		"/etc/inventory",
		"$HOME/.inventory",
		".",
	)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	// Update Version
	err = commoncfg.UpdateConfigVersion(
		&cfg.BaseConfig,
		buildInfo,
	)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}
