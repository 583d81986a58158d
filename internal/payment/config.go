package payment

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "PAYRAMP"

// Config configures the payment API server.
//
// Values come from the environment (PAYRAMP_ADDR, PAYRAMP_PRIMARY_URL, ...) and
// may be overridden by command line flags.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	PrimaryURL      string        `envconfig:"PRIMARY_URL" default:"http://localhost:6666/payment"`
	PrimaryTimeout  time.Duration `envconfig:"PRIMARY_TIMEOUT" default:"2s"`
	FailurePenalty  time.Duration `envconfig:"FAILURE_PENALTY" default:"500ms"`
	DisableBreaker  bool          `envconfig:"DISABLE_BREAKER"`
	BreakerInterval time.Duration `envconfig:"BREAKER_INTERVAL" default:"5s"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_TIMEOUT" default:"5s"`
	BreakerTrips    uint32        `envconfig:"BREAKER_TRIPS" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.PrimaryURL == "" {
		return fmt.Errorf("primary url is required")
	}
	if c.BreakerTrips == 0 {
		return fmt.Errorf("breaker trips must be greater than 0")
	}
	if c.FailurePenalty < 0 {
		return fmt.Errorf("failure penalty cannot be negative")
	}
	return nil
}

// BreakerSettings returns the breaker settings described by the config.
func (c Config) BreakerSettings() BreakerSettings {
	s := DefaultBreakerSettings()
	s.Interval = c.BreakerInterval
	s.Timeout = c.BreakerTimeout
	s.ConsecutiveFailures = c.BreakerTrips
	return s
}
