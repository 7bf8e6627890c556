package experiment

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff"
)

/*Policy describes how acquisition faults are retried.

MaxAttempts of zero means retry forever.  That is the operating default:
detector timeouts are treated as always recoverable, every failure lands in
the experiment log, and a persistently dead detector stalls the run rather
than aborting it.  There is deliberately no circuit breaker; the operator's
escape hatch is killing the process, and the log is the post-mortem record.
Set MaxAttempts to cap the attempts instead.
*/
type Policy struct {
	// Interval is the fixed pause between attempts
	Interval time.Duration

	// MaxAttempts caps the total number of attempts; 0 retries forever
	MaxAttempts uint64
}

// DefaultPolicy retries forever at a 100 ms cadence
func DefaultPolicy() Policy {
	return Policy{Interval: 100 * time.Millisecond}
}

func (p Policy) backOff() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	return b
}

// Retry runs op under the policy until it succeeds, returns a permanent
// error, or the attempt cap is reached
func (p Policy) Retry(op func() error) error {
	return backoff.Retry(op, p.backOff())
}

// Permanent marks err as not retryable; Retry stops and returns it
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// isTimeout reports whether err is a timeout anywhere in its chain.
// Timeouts are the one fault class the sequencer retries; everything else
// is fatal.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
