package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/capbridge"
	"github.com/reglet-dev/capbridge/router"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run every module's canary and report load state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBridge(cmd, func(b *capbridge.Bridge) error {
				return printResult(cmd, b.HealthCheck(cmd.Context()))
			})
		},
	}
}

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Describe the native capabilities and their load state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBridge(cmd, func(b *capbridge.Bridge) error {
				return printResult(cmd, b.Capabilities())
			})
		},
	}
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List module files found in the module directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBridge(cmd, func(b *capbridge.Bridge) error {
				entries, err := b.Modules(cmd.Context())
				if err != nil {
					return err
				}
				type row struct {
					Name        string `json:"name"`
					Version     string `json:"version,omitempty"`
					Description string `json:"description,omitempty"`
					Path        string `json:"path"`
					Digest      string `json:"digest,omitempty"`
				}
				rows := make([]row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, row{
						Name:        e.Name,
						Version:     e.Version,
						Description: e.Description,
						Path:        e.Path,
						Digest:      e.Digest.String(),
					})
				}
				return printResult(cmd, rows)
			})
		},
	}
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run repeated process calls and report throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			iterations, _ := cmd.Flags().GetInt("iterations")
			modeFlag, _ := cmd.Flags().GetString("mode")
			mode, err := router.ParseMode(modeFlag)
			if err != nil {
				return err
			}

			return withBridge(cmd, func(b *capbridge.Bridge) error {
				report, err := b.Stress(cmd.Context(), iterations, mode)
				if err != nil {
					return err
				}
				return printResult(cmd, report)
			})
		},
	}

	cmd.Flags().IntP("iterations", "n", 10, fmt.Sprintf("Iterations (max %d)", router.MaxStressIterations))
	cmd.Flags().StringP("mode", "m", router.DefaultMode.String(), "Mode: secure, fast, reactive, balanced")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [kind]",
		Short: "Print a JSON schema, or list the known kinds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas, err := capbridge.Schemas()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				for _, kind := range schemas.List() {
					fmt.Fprintln(cmd.OutOrStdout(), kind)
				}
				return nil
			}

			s, ok := schemas.GetSchema(args[0])
			if !ok {
				return fmt.Errorf("unknown schema kind %q", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
}
