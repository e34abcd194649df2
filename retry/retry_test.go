// Copyright 2025 TenantGrid
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "ready", nil
	}, Options{FixedDelay: true, Delay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, "ready", v)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetryableOutcomes(t *testing.T) {
	// Three "in progress" outcomes, then success: the operation must have
	// been invoked exactly four times.
	calls := 0
	v, err := Do(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if calls <= 3 {
			return "", Continue("still in progress")
		}
		return "instance-1", nil
	}, Options{FixedDelay: true, Delay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, "instance-1", v)
	assert.Equal(t, 4, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", Continue("still in progress")
	}, Options{MaxAttempts: 5, FixedDelay: true, Delay: time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 5, calls)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, "still in progress", exhausted.Reason)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	fatal := errors.New("instance creation failed")
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if calls == 2 {
			return "", fatal
		}
		return "", Continue("still in progress")
	}, Options{MaxAttempts: 10, FixedDelay: true, Delay: time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.Is(err, fatal))
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 2, calls)
}

func TestDo_AttemptCounterPassedToOperation(t *testing.T) {
	var seen []int
	_, err := Do(context.Background(), func(ctx context.Context, attempt int) (int, error) {
		seen = append(seen, attempt)
		if attempt < 2 {
			return 0, Continue("again")
		}
		return attempt, nil
	}, Options{FixedDelay: true, Delay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDo_ContextCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, func(ctx context.Context, attempt int) (string, error) {
		return "", Continue("never settles")
	}, Options{FixedDelay: true, Delay: time.Minute})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDo_ExponentialSubtractsElapsedTime(t *testing.T) {
	// The attempt itself burns more time than the computed backoff, so the
	// loop must not sleep at all between attempts.
	opts := Options{MaxAttempts: 3, MinDelay: 5 * time.Millisecond, Factor: 2}

	start := time.Now()
	_, err := Do(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "", Continue("in progress")
	}, opts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	// 3 attempts of ~20ms each plus negligible delay.
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestOptions_Backoff(t *testing.T) {
	o := Options{MinDelay: 100 * time.Millisecond, Factor: 2, MaxDelay: 350 * time.Millisecond}.withDefaults()

	assert.Equal(t, time.Duration(0), o.backoff(0))
	assert.Equal(t, 100*time.Millisecond, o.backoff(1))
	assert.Equal(t, 200*time.Millisecond, o.backoff(2))
	// Capped at MaxDelay.
	assert.Equal(t, 350*time.Millisecond, o.backoff(3))
	assert.Equal(t, 350*time.Millisecond, o.backoff(10))
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()

	assert.Equal(t, 10, o.MaxAttempts)
	assert.Equal(t, 30*time.Second, o.Delay)
	assert.Equal(t, 1174*time.Millisecond, o.MinDelay)
	assert.Equal(t, float64(2), o.Factor)
}

func TestIsContinue(t *testing.T) {
	assert.True(t, IsContinue(Continue("again")))
	assert.True(t, IsContinue(Continuef("attempt %d pending", 3)))
	assert.False(t, IsContinue(errors.New("fatal")))
	assert.False(t, IsContinue(nil))
}
