package jobs

import (
	"math"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// IntervalPolicy returns the delay before the status check that follows
// poll number attempt (zero based).
type IntervalPolicy interface {
	Next(attempt int) time.Duration
}

// Fixed waits the same interval between polls.
type Fixed time.Duration

// Next implements IntervalPolicy.
func (f Fixed) Next(int) time.Duration {
	return time.Duration(f)
}

// Exponential multiplies the interval by Factor after every poll, capped at
// Max when Max is positive.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Next implements IntervalPolicy.
func (e Exponential) Next(attempt int) time.Duration {
	factor := e.Factor
	if factor <= 1 {
		factor = constants.ExponentialBackoffBase
	}

	delay := float64(e.Initial) * math.Pow(factor, float64(attempt))

	if e.Max > 0 && delay > float64(e.Max) {
		return e.Max
	}

	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// PolicyFromConfig builds the policy named by cfg.Backoff.
func PolicyFromConfig(cfg cloudcall.PollConfig) IntervalPolicy {
	interval := cfg.Interval
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}

	if cfg.Backoff == cloudcall.BackoffExponential {
		return Exponential{
			Initial: interval,
			Max:     cfg.MaxInterval,
			Factor:  constants.ExponentialBackoffBase,
		}
	}

	return Fixed(interval)
}
