package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/telemetry"
)

// remediateCmd handles a single remediation invocation payload
var remediateCmd = &cobra.Command{
	Use:   "remediate [request-file]",
	Short: "Execute one remediation request",
	Long: `Execute a single remediation request as dispatched by the router:
resolve the target environment, apply the safety policy, assume the
remediation role in the target account, and run the corrective action.

Guarded network remediations are vetoed in production and escalated to a
notification instead.

Reads the {action, compliance_data} JSON from the given file, or from
stdin when no file is given.`,
	Example: `  valvo remediate request.json
  cat request.json | valvo remediate`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemediate,
}

func init() {
	rootCmd.AddCommand(remediateCmd)
}

func runRemediate(cmd *cobra.Command, args []string) error {
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

	engine, closeTrail, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeTrail() }()

	result, err := engine.HandleInvocation(ctx, raw)
	if err != nil {
		return fmt.Errorf("remediation failed: %w", err)
	}

	return printResult(result)
}
