package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/reglet-dev/capbridge"
	"github.com/reglet-dev/capbridge/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "Inspect and exercise the capability bridge",
		Long: `bridgectl - Route data-processing calls to native WebAssembly modules.

Modules are discovered under the configured module directory. Capabilities
whose module is missing or broken are served by built-in fallbacks, and
every response says which backend produced it.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().String("module-dir", "", "Override the module directory")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringP("output", "o", "json", "Output format: json, yaml")

	root.AddCommand(
		newCallCmd(),
		newHealthCmd(),
		newCapabilitiesCmd(),
		newModulesCmd(),
		newStressCmd(),
		newSchemaCmd(),
	)
	return root
}

// loadConfig applies flag overrides on top of config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("module-dir") {
		cfg.ModuleDir, _ = cmd.Flags().GetString("module-dir")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	lvl, _ := cfg.Level()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// withBridge builds a bridge for the duration of fn.
func withBridge(cmd *cobra.Command, fn func(*capbridge.Bridge) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := capbridge.New(ctx, cfg, capbridge.WithLogger(newLogger(cmd.ErrOrStderr(), cfg)))
	if err != nil {
		return err
	}
	defer func() { _ = b.Close(ctx) }()

	return fn(b)
}

func printResult(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.MarshalWithOptions(v, yaml.UseJSONMarshaler())
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	default:
		return fmt.Errorf("unknown output format %q: use json or yaml", format)
	}
}
