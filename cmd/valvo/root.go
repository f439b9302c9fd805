package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "valvo",
		Short: "Configuration Compliance Enforcement Engine",
		Long: `Valvo - Configuration Compliance Enforcement Engine

Valvo turns cloud configuration compliance findings into enforcement
decisions: violations are checked against approved exceptions, classified
by severity, recorded for audit, and routed to automatic remediation,
notification, or manual review.

Guarded remediations are vetoed in production accounts and escalated to
humans instead of being applied.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Valvo {{.Version}} - Configuration Compliance Enforcement Engine
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "valvo.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
