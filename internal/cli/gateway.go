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

	"github.com/wesleyorama2/payramp/internal/payment"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run a simulated primary payment gateway",
	Long: `Run a stand-in for the remote primary gateway on /payment. A share of
the requests is answered with 503 so the circuit breaker of the payment
API can be watched opening and closing:

  payramp gateway --failure-ratio 0.3 --latency 20ms`,
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	ratio, _ := cmd.Flags().GetFloat64("failure-ratio")
	latency, _ := cmd.Flags().GetDuration("latency")

	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("failure-ratio must be between 0 and 1, got %v", ratio)
	}
	if latency < 0 {
		return fmt.Errorf("latency cannot be negative")
	}

	logger := log.WithField("component", "gateway")
	sim := payment.NewSimulator(ratio, latency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := payment.ListenAndServe(ctx, addr, sim, 5*time.Second, logger)
	logger.WithFields(log.Fields{
		"served": sim.Served(),
		"failed": sim.Failed(),
	}).Info("gateway stopped")
	return err
}

func init() {
	gatewayCmd.Flags().String("addr", ":6666", "Listen address")
	gatewayCmd.Flags().Float64("failure-ratio", 0, "Share of payments answered with 503 (0.0 to 1.0)")
	gatewayCmd.Flags().Duration("latency", 0, "Latency added to every response")
}
