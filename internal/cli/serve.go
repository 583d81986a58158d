package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wesleyorama2/payramp/internal/payment"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payment API",
	Long: `Run the payment API. GET|POST /pay charges the primary gateway through
a circuit breaker and falls back to the secondary gateway; GET /health
reports the breaker state.

Settings are read from PAYRAMP_* environment variables and may be
overridden with flags:

  PAYRAMP_ADDR              --addr
  PAYRAMP_PRIMARY_URL       --primary-url
  PAYRAMP_PRIMARY_TIMEOUT   --primary-timeout
  PAYRAMP_FAILURE_PENALTY   --failure-penalty
  PAYRAMP_DISABLE_BREAKER   --no-breaker
  PAYRAMP_BREAKER_INTERVAL  --breaker-interval
  PAYRAMP_BREAKER_TIMEOUT   --breaker-timeout
  PAYRAMP_BREAKER_TRIPS     --breaker-trips`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := payment.LoadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.WithField("component", "payment-api")
	logger.WithFields(log.Fields{
		"primary": cfg.PrimaryURL,
		"breaker": !cfg.DisableBreaker,
	}).Info("payment api configured")

	processor := payment.NewProcessorFromConfig(cfg, logger)
	handler := payment.NewHandler(processor, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return payment.ListenAndServe(ctx, cfg.Addr, handler, cfg.ShutdownTimeout, logger)
}

// applyServeFlags copies the flags the user set over the environment
// configuration.
func applyServeFlags(flags *pflag.FlagSet, cfg *payment.Config) {
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("primary-url") {
		cfg.PrimaryURL, _ = flags.GetString("primary-url")
	}
	if flags.Changed("primary-timeout") {
		cfg.PrimaryTimeout, _ = flags.GetDuration("primary-timeout")
	}
	if flags.Changed("failure-penalty") {
		cfg.FailurePenalty, _ = flags.GetDuration("failure-penalty")
	}
	if flags.Changed("no-breaker") {
		cfg.DisableBreaker, _ = flags.GetBool("no-breaker")
	}
	if flags.Changed("breaker-interval") {
		cfg.BreakerInterval, _ = flags.GetDuration("breaker-interval")
	}
	if flags.Changed("breaker-timeout") {
		cfg.BreakerTimeout, _ = flags.GetDuration("breaker-timeout")
	}
	if flags.Changed("breaker-trips") {
		cfg.BreakerTrips, _ = flags.GetUint32("breaker-trips")
	}
}

func init() {
	// Defaults mirror the envconfig defaults; only flags set explicitly
	// override the environment.
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("primary-url", "http://localhost:6666/payment", "Primary gateway URL")
	serveCmd.Flags().Duration("primary-timeout", 2*time.Second, "Primary gateway request timeout")
	serveCmd.Flags().Duration("failure-penalty", 500*time.Millisecond, "Delay added after a primary gateway failure")
	serveCmd.Flags().Bool("no-breaker", false, "Call the primary gateway directly, without the circuit breaker")
	serveCmd.Flags().Duration("breaker-interval", 5*time.Second, "Period after which closed-state counts reset")
	serveCmd.Flags().Duration("breaker-timeout", 5*time.Second, "How long the breaker stays open")
	serveCmd.Flags().Uint32("breaker-trips", 3, "Consecutive failures that open the breaker")
}
