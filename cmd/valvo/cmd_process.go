package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/telemetry"
)

// processCmd handles a single compliance event
var processCmd = &cobra.Command{
	Use:   "process [event-file]",
	Short: "Process one compliance change event",
	Long: `Process a single compliance change event through the enforcement
pipeline: normalize, check exceptions, classify, record, and route.

Reads the event JSON from the given file, or from stdin when no file is
given. Prints the enforcement decision as JSON.`,
	Example: `  valvo process event.json
  cat event.json | valvo process`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	raw, err := readPayload(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger("valvo")
	ctx := context.Background()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	result, err := p.Process(ctx, raw)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	return printResult(result)
}

// readPayload reads JSON from the file argument or stdin
func readPayload(args []string) ([]byte, error) {
	if len(args) == 1 {
		raw, err := os.ReadFile(args[0]) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to read event file: %w", err)
		}
		return raw, nil
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return raw, nil
}

func printResult(result interface{}) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
