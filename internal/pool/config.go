package pool

import (
	"time"

	"github.com/koustreak/orma/internal/errs"
)

// Config holds pool sizing and timing. It is copied by New and never
// changed afterwards.
type Config struct {
	// MinConns is the number of connections kept open while idle.
	MinConns int

	// MaxConns caps live connections, leased and idle together.
	MaxConns int

	// AcquireTimeout bounds how long Acquire waits for a lease.
	// Zero means wait until the caller's context ends.
	AcquireTimeout time.Duration

	// IdleTimeout evicts connections idle for longer, down to MinConns.
	// Zero disables idle eviction.
	IdleTimeout time.Duration

	// HealthCheckPeriod is how often idle connections are pinged.
	// Zero disables health checks.
	HealthCheckPeriod time.Duration

	// StatementTimeout bounds each statement run through a lease.
	// A connection whose statement times out is evicted. Zero disables it.
	StatementTimeout time.Duration

	// ConnectRetries is how many times a connection-level failure is retried,
	// both when dialing and when running pool-level helpers.
	ConnectRetries int

	// RetryBackoff is the first delay between dial attempts; it doubles per
	// attempt up to maxBackoff.
	RetryBackoff time.Duration
}

const maxBackoff = 5 * time.Second

// DefaultConfig returns sensible defaults for a small service.
func DefaultConfig() Config {
	return Config{
		MinConns:          2,
		MaxConns:          10,
		AcquireTimeout:    5 * time.Second,
		IdleTimeout:       5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectRetries:    3,
		RetryBackoff:      50 * time.Millisecond,
	}
}

// Validate reports settings New would reject.
func (c Config) Validate() error {
	switch {
	case c.MaxConns < 1:
		return errs.Newf(errs.ErrKindInvalidInput, "max_connections must be at least 1, got %d", c.MaxConns)
	case c.MinConns < 0 || c.MinConns > c.MaxConns:
		return errs.Newf(errs.ErrKindInvalidInput, "min_connections must be between 0 and %d, got %d", c.MaxConns, c.MinConns)
	case c.AcquireTimeout < 0, c.IdleTimeout < 0, c.HealthCheckPeriod < 0, c.StatementTimeout < 0, c.RetryBackoff < 0:
		return errs.New(errs.ErrKindInvalidInput, "pool durations must not be negative")
	case c.ConnectRetries < 0:
		return errs.New(errs.ErrKindInvalidInput, "connect_retries must not be negative")
	}
	return nil
}

// backoff returns the delay before dial attempt n (n >= 1).
func (c Config) backoff(n int) time.Duration {
	d := c.RetryBackoff
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// sweepInterval is the sweeper tick, or zero when nothing needs sweeping.
func (c Config) sweepInterval() time.Duration {
	switch {
	case c.HealthCheckPeriod > 0 && c.IdleTimeout > 0:
		return min(c.HealthCheckPeriod, c.IdleTimeout/2)
	case c.HealthCheckPeriod > 0:
		return c.HealthCheckPeriod
	default:
		return c.IdleTimeout / 2
	}
}
