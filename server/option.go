package server

import (
	"github.com/Keksclan/goNutStash/tracing"
	"github.com/rs/zerolog"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	logger    zerolog.Logger
	recovery  bool
	requestID bool
	rateRPS   float64
	rateBurst int
	tracing   *tracing.Config
}

// Option configures a Server.
type Option func(*config)

// WithLogger sets the logger used by the recovery interceptor. The
// default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRecovery installs panic recovery so a panicking handler returns
// codes.Internal instead of crashing the process.
func WithRecovery() Option {
	return func(c *config) {
		c.recovery = true
	}
}

// WithRequestID ensures every request context carries a request ID.
func WithRequestID() Option {
	return func(c *config) {
		c.requestID = true
	}
}

// WithRateLimit installs a global token-bucket request gate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rateRPS = rps
		c.rateBurst = burst
	}
}

// WithTracing installs the OpenTelemetry tracing interceptor.
func WithTracing(cfg tracing.Config) Option {
	return func(c *config) {
		c.tracing = &cfg
	}
}
