package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("not yet")

func TestDoSucceedsWithinBound(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 5, Interval: time.Millisecond},
		func(ctx context.Context) (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errFlaky
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsBound(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 4, Interval: time.Millisecond},
		func(ctx context.Context) (int, error) {
			attempts++
			return 0, errFlaky
		})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, attempts)
}

func TestDoPermanentStopsEarly(t *testing.T) {
	errFatal := errors.New("bad request")
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 10, Interval: time.Millisecond},
		func(ctx context.Context) (int, error) {
			attempts++
			return 0, Permanent(errFatal)
		})
	assert.ErrorIs(t, err, errFatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, attempts)
}

func TestDoPermanentAfterRetryableAttempts(t *testing.T) {
	errFatal := errors.New("account in use")
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 10, Interval: time.Millisecond},
		func(ctx context.Context) (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errFlaky
			}
			return 0, Permanent(errFatal)
		})
	assert.ErrorIs(t, err, errFatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, attempts)
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, Policy{MaxAttempts: 10, Interval: 10 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			return 0, errFlaky
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), Policy{},
		func(ctx context.Context) (string, error) {
			attempts++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, attempts)
}
