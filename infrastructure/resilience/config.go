package resilience

import (
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
)

// WithStateLogging returns cfg with an OnStateChange hook that logs each
// transition, tagged with the breaker's owner (a source id or a sink
// name). A breaker opening is the signal an operator greps for when a
// source goes quiet, so every breaker built from configuration gets this
// hook attached.
func WithStateLogging(cfg Config, logger *logging.Logger, name string) Config {
	if logger == nil {
		return cfg
	}
	prev := cfg.OnStateChange
	cfg.OnStateChange = func(from, to State) {
		logger.WithFields(map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("circuit breaker state changed")
		if prev != nil {
			prev(from, to)
		}
	}
	return cfg
}
