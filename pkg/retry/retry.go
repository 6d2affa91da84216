package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	cerrors "github.com/c360/daqstream/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err must not be retried: either it was
// wrapped with NonRetryable or it is classified invalid or fatal.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return true
	}
	var ce *cerrors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class != cerrors.ErrorTransient
	}
	return false
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier" yaml:"multiplier"`
	AddJitter    bool          `json:"add_jitter" mapstructure:"add_jitter" yaml:"add_jitter"`

	// OnRetry is called before each backoff sleep with the failed attempt
	// number, its error and the delay about to be taken.
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-" mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns defaults suited to binding a local socket.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick returns a config for fast retries during startup
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Validate checks the configuration for values Do would reject.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return errors.New("retry: Multiplier cannot be negative")
	case c.MaxDelay > 0 && c.InitialDelay > 0 && c.MaxDelay < c.InitialDelay:
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Do executes fn with exponential backoff. Errors classified invalid or fatal
// and errors wrapped with NonRetryable end the loop immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		sleepDuration := delay
		if cfg.AddJitter && delay >= 4 {
			// Up to 25% jitter
			randMu.Lock()
			jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
			randMu.Unlock()
			sleepDuration = delay + jitter
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleepDuration)
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		nextDelay := float64(delay) * cfg.Multiplier
		if nextDelay > float64(cfg.MaxDelay) || nextDelay > float64(time.Duration(1<<63-1)) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(nextDelay)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
