package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return Transient(errors.New("503"), "head object")
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsAtAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("503"), "head object")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, domain.IsTransient(err))
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return domain.NewError(domain.KindObjectNotFound, "gone")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestDoTreatsCallTimeoutAsTransient(t *testing.T) {
	calls := 0
	p := fastPolicy(2)
	p.CallTimeout = 5 * time.Millisecond

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, domain.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoReturnsLastErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Initial: time.Hour, Max: time.Hour}

	err := Do(ctx, p, func(ctx context.Context) error {
		cancel()
		return Transient(errors.New("reset by peer"), "put object")
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset by peer")
}
