// Package payment implements the payment API that the load-test scenario targets.
//
// A payment is attempted on a primary gateway guarded by a circuit breaker and
// falls back to a secondary gateway when the primary fails or the breaker is open.
package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrPrimaryFailed is returned by the primary gateway when a charge could not be made.
var ErrPrimaryFailed = errors.New("primary payment gateway failed")

// Gateway charges a payment.
type Gateway interface {
	Name() string
	Charge(ctx context.Context) error
}

// HTTPGateway is a gateway reached over HTTP.
//
// Any transport error or a 5xx response counts as a failure. Each failure is
// followed by FailurePenalty before Charge returns, mimicking a slow upstream.
type HTTPGateway struct {
	URL            string
	Client         *http.Client
	FailurePenalty time.Duration
	Logger         log.FieldLogger
}

// NewHTTPGateway creates a gateway calling url.
func NewHTTPGateway(url string, timeout, penalty time.Duration, logger log.FieldLogger) *HTTPGateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &HTTPGateway{
		URL:            url,
		Client:         &http.Client{Timeout: timeout},
		FailurePenalty: penalty,
		Logger:         logger.WithField("gateway", "primary"),
	}
}

// Name returns the gateway name.
func (g *HTTPGateway) Name() string {
	return "primary"
}

// Charge calls the remote gateway.
func (g *HTTPGateway) Charge(ctx context.Context) error {
	if err := g.do(ctx); err != nil {
		if ctx.Err() == nil {
			g.penalize(ctx)
			g.Logger.WithError(err).Warn("primary payment gateway failed")
		}
		return fmt.Errorf("%w: %w", ErrPrimaryFailed, err)
	}

	g.Logger.Debug("primary payment gateway success")
	return nil
}

func (g *HTTPGateway) do(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (g *HTTPGateway) penalize(ctx context.Context) {
	if g.FailurePenalty <= 0 {
		return
	}

	timer := time.NewTimer(g.FailurePenalty)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// StaticGateway always returns Err. A nil Err makes it the always-available
// secondary gateway.
type StaticGateway struct {
	GatewayName string
	Err         error
	Logger      log.FieldLogger
}

// NewSecondaryGateway returns the fallback gateway.
func NewSecondaryGateway(logger log.FieldLogger) *StaticGateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &StaticGateway{
		GatewayName: "secondary",
		Logger:      logger.WithField("gateway", "secondary"),
	}
}

// Name returns the gateway name.
func (g *StaticGateway) Name() string {
	return g.GatewayName
}

// Charge returns the configured error.
func (g *StaticGateway) Charge(_ context.Context) error {
	if g.Err != nil {
		return g.Err
	}
	if g.Logger != nil {
		g.Logger.Debug("secondary payment gateway success")
	}
	return nil
}
