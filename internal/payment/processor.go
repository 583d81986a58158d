package payment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Result messages returned to API callers.
const (
	MessagePrimary   = "Payment succeeded through primary gateway"
	MessageSecondary = "Payment succeeded through secondary gateway"
)

// ErrBothGatewaysFailed is returned when neither gateway accepted the payment.
var ErrBothGatewaysFailed = errors.New("payment failed through both gateways")

// BreakerSettings configures the circuit breaker around the primary gateway.
type BreakerSettings struct {
	Name string

	// Interval is the cyclic period of the closed state after which counts reset.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32

	// MaxRequests allowed through while half-open.
	MaxRequests uint32
}

// DefaultBreakerSettings returns the breaker used by the payment API.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "PaymentGatewayCircuitBreaker",
		Interval:            5 * time.Second,
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 3,
		MaxRequests:         1,
	}
}

// BreakerStatus is a point-in-time view of the breaker.
type BreakerStatus struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

// Processor routes payments to the primary gateway, falling back to the
// secondary one.
type Processor struct {
	primary   Gateway
	secondary Gateway
	cb        *gobreaker.CircuitBreaker
	logger    log.FieldLogger
}

// NewProcessor creates a processor guarding primary with a circuit breaker.
func NewProcessor(primary, secondary Gateway, settings BreakerSettings, logger log.FieldLogger) *Processor {
	if logger == nil {
		logger = log.StandardLogger()
	}

	p := &Processor{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}

	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("circuit breaker state changed")
		},
		// A cancelled caller says nothing about the gateway.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return p
}

// NewDirectProcessor creates a processor without a circuit breaker. Every
// payment hits the primary gateway first.
func NewDirectProcessor(primary, secondary Gateway, logger log.FieldLogger) *Processor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Processor{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// Process charges a payment and returns a human readable result.
func (p *Processor) Process(ctx context.Context) (string, error) {
	err := p.chargePrimary(ctx)
	if err == nil {
		return MessagePrimary, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.logger.WithField("breaker", p.cb.Name()).Debug("primary gateway skipped")
	}

	if err := p.secondary.Charge(ctx); err != nil {
		p.logger.WithError(err).Error("secondary payment gateway failed")
		return "", ErrBothGatewaysFailed
	}
	return MessageSecondary, nil
}

func (p *Processor) chargePrimary(ctx context.Context) error {
	if p.cb == nil {
		return p.primary.Charge(ctx)
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.primary.Charge(ctx)
	})
	return err
}

// Status reports the breaker state. Without a breaker the state is "disabled".
func (p *Processor) Status() BreakerStatus {
	if p.cb == nil {
		return BreakerStatus{State: "disabled"}
	}

	counts := p.cb.Counts()
	return BreakerStatus{
		Name:                 p.cb.Name(),
		State:                p.cb.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}
