package resilience

import (
	"time"
)

// FromDLQConfig converts config values to a DLQPolicy. Zero values keep
// the defaults.
func FromDLQConfig(maxRetries int, base, maxBackoff time.Duration) DLQPolicy {
	p := DefaultDLQPolicy()
	if maxRetries > 0 {
		p.MaxRetries = maxRetries
	}
	if base > 0 {
		p.Backoff.Base = base
	}
	if maxBackoff > 0 {
		p.Backoff.Max = maxBackoff
	}
	return p
}
