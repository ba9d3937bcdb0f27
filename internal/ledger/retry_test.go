package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

func fastPolicy(attempts uint) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("insert: %w", ErrTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	business := errors.New("insufficient stock")
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return business
	})
	require.ErrorIs(t, err, business)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var notified int
	policy := fastPolicy(3)
	policy.OnRetry = func(err error, wait time.Duration) { notified++ }

	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return ErrTransient
	})
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, notified)
}

func TestRetry_CustomRetryable(t *testing.T) {
	conflict := ErrConflict
	calls := 0
	policy := fastPolicy(2)
	policy.Retryable = func(err error) bool { return errors.Is(err, ErrConflict) }

	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return conflict
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, calls)
}

func TestSurface(t *testing.T) {
	assert.NoError(t, Surface(nil))

	business := domain.NewError(domain.ErrInsufficientStock, "p1")
	assert.Same(t, business, Surface(business))

	err := Surface(fmt.Errorf("insert order: %w", ErrTransient))
	assert.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}
