package accountstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sethvargo/go-retry"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

// Policy bounds every round trip to a backend.
type Policy struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CASAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:     3 * time.Second,
		MaxRetries:  3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
		CASAttempts: 16,
	}
}

func PolicyFromConfig(cfg config.StoreConfig) Policy {
	p := Policy{
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		CASAttempts: cfg.CASAttempts,
	}
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	if p.CASAttempts <= 0 {
		p.CASAttempts = d.CASAttempts
	}
	return p
}

// transport applies the timeout and retry policy around raw backend calls.
type transport struct {
	backend   string
	policy    Policy
	transient func(error) bool
}

func newTransport(backend string, policy Policy, transient func(error) bool) transport {
	return transport{backend: backend, policy: policy.withDefaults(), transient: transient}
}

// isTransient treats a timeout of our own per-call deadline as transient, but
// a caller that gave up is not something to retry.
func (t transport) isTransient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return t.transient(err)
}

func (t transport) wrap(parent context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("%s %s: %w", t.backend, op, perr)
	}
	if t.isTransient(parent, err) {
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, t.backend, op, err)
	}
	return err
}

// once runs fn a single time under the per-call timeout. Used for writes whose
// outcome is ambiguous after a failure.
func (t transport) once(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, t.policy.Timeout)
	defer cancel()
	return t.wrap(ctx, op, fn(callCtx))
}

// idempotent runs fn under the per-call timeout and retries transient failures
// with capped exponential backoff.
func (t transport) idempotent(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(t.policy.MaxRetries),
		retry.WithCappedDuration(t.policy.MaxBackoff, retry.NewExponential(t.policy.BaseBackoff)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, t.policy.Timeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if t.isTransient(ctx, err) {
			log.Warnf("[AccountStore] %s %s failed (attempt %d): %v", t.backend, op, attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && attempt > t.policy.MaxRetries && t.isTransient(ctx, err) {
		log.Errorf("[AccountStore] %s %s gave up after %d attempts: %v", t.backend, op, attempt, err)
	}
	return t.wrap(ctx, op, err)
}
