// Package retry implements the bounded-retry, exponential-backoff send
// wrapper of SPEC_FULL.md §4.7, grounded on
// internal/adapters/messaging/consumer.go's RetryPolicyAdapter
// (MaxRetries/BackoffBase/Delay/ShouldRetry), generalized to the spec's
// fixed 10ms*2^attempt schedule with context-cancellable sleep standing in
// for the teacher's cooperative interruption.
package retry

import (
	"context"
	"time"

	"dev.swarmcore.comm/internal/msg"
)

// DefaultMaxRetries is the bound SendCritical uses when the Policy wasn't
// configured with a different one.
const DefaultMaxRetries = 3

// DefaultBackoffBase is the base backoff delay, per spec.md §4.7.
const DefaultBackoffBase = 10 * time.Millisecond

// SubmitFunc is the core submission path a single retry attempt calls.
// It reports whether the message was accepted, matching queue.Queue.Enqueue
// and delivery.Engine.Submit.
type SubmitFunc func(*msg.OutgoingMessage) bool

// Policy wraps a SubmitFunc with bounded retries and exponential backoff.
type Policy struct {
	submit            SubmitFunc
	defaultMaxRetries int
	backoffBase       time.Duration
}

// New builds a Policy over the given submit path. defaultMaxRetries is the
// bound SendCritical applies; backoffBase of zero defaults to
// DefaultBackoffBase. Per spec.md §4.7, defaultMaxRetries must be
// non-negative.
func New(submit SubmitFunc, defaultMaxRetries int, backoffBase time.Duration) (*Policy, error) {
	if submit == nil {
		return nil, msg.NewError(msg.ErrCodeNilArgument, "submit function must not be nil", nil)
	}
	if defaultMaxRetries < 0 {
		return nil, msg.NewError(msg.ErrCodeInvalidRetryCount, "defaultMaxRetries must be non-negative", nil).
			WithDetail("defaultMaxRetries", defaultMaxRetries)
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	return &Policy{submit: submit, defaultMaxRetries: defaultMaxRetries, backoffBase: backoffBase}, nil
}

// Delay returns the backoff duration before the (attempt+1)th retry: 10ms *
// 2^attempt, per spec.md §4.7.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.backoffBase * time.Duration(1<<uint(attempt))
}

// SendWithRetry attempts submission up to maxRetries+1 times (attempts
// 0..maxRetries inclusive). It returns true as soon as any attempt
// succeeds. Between attempts it sleeps for Delay(attempt); the final
// attempt has no trailing sleep. A cancelled ctx aborts the wait and
// returns false immediately.
func (p *Policy) SendWithRetry(ctx context.Context, m *msg.OutgoingMessage, maxRetries int) bool {
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if p.submit(m) {
			return true
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.Delay(attempt)):
		}
	}
	return false
}

// SendCritical retries with the Policy's preconfigured default bound.
func (p *Policy) SendCritical(ctx context.Context, m *msg.OutgoingMessage) bool {
	return p.SendWithRetry(ctx, m, p.defaultMaxRetries)
}
