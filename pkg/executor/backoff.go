package executor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the bounded park timeouts an idle worker uses
// before settling into an indefinite park. Implementations must be safe for
// concurrent use; one strategy instance is shared by all workers of a pool.
type BackoffStrategy interface {
	// NextDelay calculates the park timeout for the given idle attempt
	NextDelay(attempt int) time.Duration
}

// FixedBackoff parks for the same bounded duration on every idle attempt.
type FixedBackoff struct {
	delay  time.Duration
	jitter JitterFunc
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration, opts ...BackoffOption) *FixedBackoff {
	b := &FixedBackoff{delay: delay}
	for _, opt := range opts {
		opt.applyToFixed(b)
	}
	return b
}

// NextDelay calculates the park timeout for the given idle attempt
func (b *FixedBackoff) NextDelay(attempt int) time.Duration {
	delay := b.delay
	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// ExponentialBackoff doubles the park timeout per idle attempt up to a cap,
// so bursty wake patterns do not thrash the parker.
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterFunc
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initialDelay time.Duration, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt.applyToExponential(b)
	}
	return b
}

// NextDelay calculates the park timeout for the given idle attempt
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	delay := time.Duration(float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1)))
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// JitterFunc perturbs a computed delay to decorrelate workers that went
// idle at the same instant.
type JitterFunc func(time.Duration) time.Duration

// FullJitter picks a random delay within [0, delay]
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// EqualJitter picks delay/2 + random(0, delay/2)
func EqualJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

// BackoffOption configures a backoff strategy
type BackoffOption interface {
	applyToFixed(*FixedBackoff)
	applyToExponential(*ExponentialBackoff)
}

type backoffOption struct {
	multiplier *float64
	maxDelay   *time.Duration
	jitter     JitterFunc
}

func (o *backoffOption) applyToFixed(b *FixedBackoff) {
	if o.jitter != nil {
		b.jitter = o.jitter
	}
}

func (o *backoffOption) applyToExponential(b *ExponentialBackoff) {
	if o.multiplier != nil {
		b.multiplier = *o.multiplier
	}
	if o.maxDelay != nil {
		b.maxDelay = *o.maxDelay
	}
	if o.jitter != nil {
		b.jitter = o.jitter
	}
}

// WithBackoffMultiplier sets the growth multiplier (exponential only)
func WithBackoffMultiplier(multiplier float64) BackoffOption {
	return &backoffOption{multiplier: &multiplier}
}

// WithBackoffMaxDelay sets the park timeout cap
func WithBackoffMaxDelay(maxDelay time.Duration) BackoffOption {
	return &backoffOption{maxDelay: &maxDelay}
}

// WithBackoffJitter sets the jitter function
func WithBackoffJitter(jitter JitterFunc) BackoffOption {
	return &backoffOption{jitter: jitter}
}
