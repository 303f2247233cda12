// Package retry runs a unit of transfer work with per-attempt timeouts and
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/stacklok/reposync/internal/status"
	"github.com/stacklok/reposync/internal/syncerr"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 3

	// DefaultInitialBackoff is the wait after the first failed attempt
	DefaultInitialBackoff = time.Second

	// DefaultMaxBackoff caps the wait between attempts
	DefaultMaxBackoff = 32 * time.Second

	// DefaultAttemptTimeout bounds a single attempt
	DefaultAttemptTimeout = 60 * time.Second
)

// ErrAttemptTimeout is the cause of an attempt that ran past its timeout
var ErrAttemptTimeout = errors.New("attempt timed out")

// Config controls the retry loop
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Zero means a single attempt.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Work is one unit of transfer work
type Work interface {
	Execute(ctx context.Context) error
}

// WorkFunc adapts a function to Work
type WorkFunc func(ctx context.Context) error

// Execute calls f
func (f WorkFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Outcome describes a retry session. It is returned on failure too.
type Outcome struct {
	// Session identifies the attempts of this run
	Session string

	// Attempt is the number of the last attempt made
	Attempt int

	// Attempts holds the final record of every attempt in order
	Attempts []status.Attempt

	// Sleeps holds the waits between attempts in order
	Sleeps []time.Duration
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Coordinator retries work
type Coordinator struct {
	config Config
	sink   status.Sink
	clock  clock.PassiveClock
	sleep  SleepFunc
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSink sets the sink receiving attempt records
func WithSink(s status.Sink) Option {
	return func(c *Coordinator) {
		c.sink = status.Safe(s)
	}
}

// WithClock sets the clock used for attempt timestamps
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithSleep replaces the wait between attempts
func WithSleep(fn SleepFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// NewCoordinator creates a Coordinator. Unset config fields use the defaults.
func NewCoordinator(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		config: cfg.withDefaults(),
		sink:   status.NopSink{},
		clock:  clock.RealClock{},
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config {
	return c.config
}

// Sleep waits for d, returning early with the context's error when ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newBackOff returns a policy producing InitialBackoff*2^(i-1) capped at MaxBackoff
func (c *Coordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Backoff returns the wait after the n-th failed attempt
func (c *Coordinator) Backoff(n int) time.Duration {
	b := c.newBackOff()
	var d time.Duration
	for range n {
		d = b.NextBackOff()
	}
	return d
}

// Run executes work up to MaxRetries+1 times. Each attempt runs with its own
// timeout. A permanent error, or a classified error that is not retryable,
// ends the run immediately and is returned as is. When every attempt fails
// the error is a syncerr.KindNetworkSyncFailed carrying the last failure.
func (c *Coordinator) Run(ctx context.Context, repo string, work Work) (Outcome, error) {
	out := Outcome{Session: uuid.NewString()}
	if work == nil {
		return out, syncerr.InvalidInput("no work to run", nil)
	}

	b := c.newBackOff()
	maxAttempts := c.config.MaxRetries + 1
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return out, c.cancelled(ctx, repo, out.Attempt, err)
		}

		attempt := status.Attempt{
			Session:   out.Session,
			Repo:      repo,
			Number:    n,
			StartedAt: c.clock.Now(),
			Status:    status.AttemptInProgress,
		}
		c.sink.RecordAttempt(ctx, attempt)
		out.Attempt = n

		err := c.execute(ctx, work)

		attempt.CompletedAt = ptr.To(c.clock.Now())
		if err == nil {
			attempt.Status = status.AttemptSuccess
			out.Attempts = append(out.Attempts, attempt)
			c.sink.RecordAttempt(ctx, attempt)
			return out, nil
		}

		attempt.Status = status.AttemptFailed
		attempt.Error = err.Error()
		out.Attempts = append(out.Attempts, attempt)
		c.sink.RecordAttempt(ctx, attempt)
		lastErr = err

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return out, perm.Unwrap()
		}
		if se, ok := syncerr.As(err); ok && !se.Retryable() {
			return out, err
		}
		if ctx.Err() != nil {
			return out, c.cancelled(ctx, repo, n, lastErr)
		}

		if n == maxAttempts {
			break
		}

		wait := b.NextBackOff()
		slog.DebugContext(ctx, "Retrying after failed attempt",
			"repo", repo,
			"session", out.Session,
			"attempt", n,
			"backoff", wait,
			"error", err)
		out.Sleeps = append(out.Sleeps, wait)
		if err := c.sleep(ctx, wait); err != nil {
			return out, c.cancelled(ctx, repo, n, lastErr)
		}
	}

	slog.WarnContext(ctx, "All sync attempts failed",
		"repo", repo,
		"session", out.Session,
		"attempts", out.Attempt,
		"error", lastErr)
	return out, syncerr.NetworkSyncFailed(repo, out.Attempt, lastErr)
}

func (*Coordinator) cancelled(ctx context.Context, repo string, attempts int, last error) error {
	cause := context.Cause(ctx)
	if last != nil && !errors.Is(last, cause) {
		cause = fmt.Errorf("%w (last attempt: %v)", cause, last)
	}
	e := syncerr.NetworkSyncFailed(repo, attempts, cause)
	e.Message = "sync cancelled"
	return e
}

// execute runs one attempt in its own goroutine so that work ignoring its
// context cannot hold up the loop past the attempt timeout. An abandoned
// goroutine is left to observe its cancelled context.
func (c *Coordinator) execute(ctx context.Context, work Work) error {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, c.config.AttemptTimeout, ErrAttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("attempt panicked: %v", r)
			}
		}()
		done <- work.Execute(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(context.Cause(attemptCtx), ErrAttemptTimeout) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, c.config.AttemptTimeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", context.Cause(attemptCtx), c.config.AttemptTimeout)
	}
}
