package cli

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// errThresholdsFailed makes the process exit non-zero after a summary was
// already printed.
var errThresholdsFailed = errors.New("one or more thresholds failed")

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "payramp",
	Short:   "Ramp load against a circuit-breaking payment API",
	Version: version,
	Long: `payramp drives a k6-style ramping load against a payment API and
reports latency, failures and check results against thresholds.

It also ships the payment API itself (a primary gateway behind a circuit
breaker with a secondary fallback) and a simulated primary gateway, so the
whole setup can run locally:

  payramp gateway --failure-ratio 0.5
  payramp serve
  payramp perf`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func setupLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	level, err := log.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, errThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	RootCmd.SilenceErrors = true
	RootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warning, error)")
	RootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	RootCmd.AddCommand(perfCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(gatewayCmd)
	RootCmd.AddCommand(versionCmd)
}
