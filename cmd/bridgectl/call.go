package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/capbridge"
	"github.com/reglet-dev/capbridge/router"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [payload]",
		Short: "Process a payload",
		Long: `Process a payload in the given mode.

The payload can be provided via:
  - Argument: bridgectl call 'hello world'
  - File flag: bridgectl call -f data.txt
  - Stdin: echo 'hello world' | bridgectl call -f -`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCall,
	}

	cmd.Flags().StringP("file", "f", "", "Read the payload from a file (- for stdin)")
	cmd.Flags().StringP("mode", "m", router.DefaultMode.String(), "Mode: secure, fast, reactive, balanced")
	cmd.Flags().String("operation", "process", "Operation name")
	cmd.Flags().Int("workers", 0, "Parallel worker count (default from config)")
	cmd.Flags().String("event-type", "", "Reactive event type")
	cmd.Flags().String("request-id", "", "Request ID (default generated)")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := router.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	operation, _ := cmd.Flags().GetString("operation")
	workers, _ := cmd.Flags().GetInt("workers")
	eventType, _ := cmd.Flags().GetString("event-type")
	requestID, _ := cmd.Flags().GetString("request-id")

	var opts []router.CallOption
	if workers > 0 {
		opts = append(opts, router.WithWorkers(workers))
	}
	if eventType != "" {
		opts = append(opts, router.WithEventType(eventType))
	}
	if requestID != "" {
		opts = append(opts, router.WithRequestID(requestID))
	}

	return withBridge(cmd, func(b *capbridge.Bridge) error {
		return printResult(cmd, b.Call(cmd.Context(), operation, payload, mode, opts...))
	})
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")

	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("give the payload as an argument or with --file, not both")
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, fmt.Errorf("payload required: pass it as an argument or use --file")
	}
}
