package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/command"
)

// equalJitter is a randomized exponential backoff.
//
// Retry n waits a random duration in [base*2^n, base*2^(n+1)], both ends
// capped at max. Successive waits never decrease and never exceed max.
type equalJitter struct {
	base    time.Duration
	max     time.Duration
	rand    func() float64
	attempt int
	last    time.Duration
}

func newEqualJitter(base, max time.Duration, rand func() float64) *equalJitter {
	if max < base {
		max = base
	}
	return &equalJitter{base: base, max: max, rand: rand}
}

func (b *equalJitter) NextBackOff() time.Duration {
	lo := b.capped(b.attempt)
	hi := b.capped(b.attempt + 1)
	b.attempt++

	next := lo + time.Duration(b.rand()*float64(hi-lo))
	if next < b.last {
		next = b.last
	}
	if next > b.max {
		next = b.max
	}
	b.last = next
	return next
}

func (b *equalJitter) Reset() {
	b.attempt = 0
	b.last = 0
}

// capped returns min(base*2^n, max) without overflowing.
func (b *equalJitter) capped(n int) time.Duration {
	d := b.base
	for i := 0; i < n; i++ {
		if d >= b.max/2 {
			return b.max
		}
		d *= 2
	}
	if d > b.max {
		return b.max
	}
	return d
}

// retrier runs one store operation under the retry policy of a StorageConfig.
type retrier struct {
	cfg     command.StorageConfig
	cmdID   command.CommandID
	kind    string
	rand    func() float64
	timer   func() backoff.Timer
	metrics Metrics
	limiter *ratelimiter.RateLimiter
}

// do calls op until it succeeds, fails with a non-retryable error, or the
// retry budget (MaxRetries retries after the first attempt) is spent.
// The returned error is the last one op produced, unwrapped.
func (r *retrier) do(ctx context.Context, what string, op func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			newEqualJitter(r.cfg.RetryBackOffBase, r.cfg.RetryBackOffMax, r.rand),
			uint64(r.cfg.MaxRetries),
		),
		ctx,
	)

	attempt := 0
	operation := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		r.metrics.ObserveAttempt(r.kind)

		err := op(ctx)
		if err == nil {
			return nil
		}
		var src *sourceError
		if errors.As(err, &src) || classify(err) != classRetryable {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Info("Retrying %s: task_id=%s command_id=%s attempt=%d/%d wait=%s error=%v",
			what, r.cmdID.TaskID, r.cmdID.ID, attempt, r.cfg.MaxRetries+1, wait, err)
	}

	var timer backoff.Timer
	if r.timer != nil {
		timer = r.timer()
	}
	return backoff.RetryNotifyWithTimer(operation, policy, notify, timer)
}
