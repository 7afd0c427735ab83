package assets

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/logging"
)

// RetryPolicy bounds the exponential backoff applied to transient store errors.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns 200ms, 400ms, 800ms between four attempts, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   constants.RetryBaseDelay,
		MaxDelay:    constants.RetryMaxDelay,
		MaxAttempts: constants.RetryMaxAttempts,
	}
}

// Delay returns the wait before attempt n+1, for n >= 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether a store error may clear on its own. Missing
// objects, invalid keys and context termination are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.IsNotFound(err), errors.IsValidationError(err), errors.IsIntegrity(err):
		return false
	default:
		return true
	}
}

// RetryingStore wraps a Store with rate limiting and bounded retries.
// Exhausted retries surface as *errors.TransientStoreError.
type RetryingStore struct {
	inner   Store
	policy  RetryPolicy
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a RetryingStore.
type RetryOption func(*RetryingStore)

// WithPolicy sets the retry policy.
func WithPolicy(p RetryPolicy) RetryOption {
	return func(s *RetryingStore) { s.policy = p }
}

// WithRateLimit limits store calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) RetryOption {
	return func(s *RetryingStore) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(s *RetryingStore) { s.sleep = fn }
}

// NewRetryingStore wraps inner.
func NewRetryingStore(inner Store, opts ...RetryOption) *RetryingStore {
	s := &RetryingStore{
		inner:   inner,
		policy:  DefaultRetryPolicy(),
		limiter: rate.NewLimiter(rate.Limit(constants.StoreRateLimit), constants.StoreRateBurst),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts < 1 {
		s.policy.MaxAttempts = 1
	}
	return s
}

// Ping forwards to the wrapped store without retrying, so an unreachable
// store fails startup quickly.
func (s *RetryingStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.inner, constants.OrphanPrefix)
}

func (s *RetryingStore) do(ctx context.Context, op, key string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		last = fn()
		if !Retryable(last) {
			return last
		}
		if attempt == s.policy.MaxAttempts {
			break
		}
		delay := s.policy.Delay(attempt)
		logging.FromContext(ctx).Debug().
			Err(last).
			Str("op", op).
			Str("key", key).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying store call")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return errors.NewTransientStoreError(op, key, s.policy.MaxAttempts, last)
}

// List implements Store.
func (s *RetryingStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := s.do(ctx, OpList, prefix, func() error {
		var err error
		out, err = s.inner.List(ctx, prefix)
		return err
	})
	return out, err
}

// GetRange implements Store.
func (s *RetryingStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var out []byte
	err := s.do(ctx, OpGet, key, func() error {
		var err error
		out, err = s.inner.GetRange(ctx, key, offset, length)
		return err
	})
	return out, err
}

// Copy implements Store.
func (s *RetryingStore) Copy(ctx context.Context, src, dst string) error {
	return s.do(ctx, OpCopy, src, func() error {
		return s.inner.Copy(ctx, src, dst)
	})
}

// Delete implements Store.
func (s *RetryingStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, OpDelete, key, func() error {
		return s.inner.Delete(ctx, key)
	})
}

// Head implements Store.
func (s *RetryingStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var out ObjectInfo
	err := s.do(ctx, OpHead, key, func() error {
		var err error
		out, err = s.inner.Head(ctx, key)
		return err
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
