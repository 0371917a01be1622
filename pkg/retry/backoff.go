package retry

import (
	"fmt"
	"time"
)

// Strategy selects how the delay between attempts evolves
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // constant delay
	StrategyExponential Strategy = "exponential" // delay doubles up to a cap
)

// ParseStrategy parses a strategy name, defaulting to fixed for ""
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyFixed:
		return StrategyFixed, nil
	case StrategyExponential:
		return StrategyExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q (want fixed or exponential)", s)
	}
}

// Backoff produces successive delays for a polling loop
type Backoff struct {
	Strategy Strategy
	Initial  time.Duration
	Max      time.Duration // cap for exponential; ignored for fixed

	current time.Duration
}

// Next returns the delay before the next attempt
func (b *Backoff) Next() time.Duration {
	if b.Strategy != StrategyExponential {
		return b.Initial
	}
	if b.current == 0 {
		b.current = b.Initial
		return b.current
	}
	next := b.current * 2
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	b.current = next
	return b.current
}

// Reset restarts the sequence at the initial delay
func (b *Backoff) Reset() {
	b.current = 0
}
