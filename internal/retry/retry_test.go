package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, RateLimitWait: time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	// Given a call that fails transiently twice
	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.NewError(domain.KindEmbedding, domain.ReasonTransient, "embed", "503", nil)
		}
		return "ok", nil
	}

	// When retried with three attempts
	got, err := Do(context.Background(), fastPolicy(), "embed", fn)

	// Then the third attempt wins
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, "embed", "401", nil)

	_, err := Do(context.Background(), fastPolicy(), "embed", func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "query", func(ctx context.Context) (int, error) {
		calls++
		return 0, domain.NewError(domain.KindStoreUnavailable, "", "query", "connection refused", nil)
	})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 3, calls)
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	// Given a rate-limited failure asking for a 30ms wait
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), fastPolicy(), "embed", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonRateLimited, RetryAfter: 30 * time.Millisecond}
		}
		return 1, nil
	})

	// Then the second attempt waits at least that long
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDo_CancelledContextReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.Initial = time.Second

	calls := 0
	_, err := Do(ctx, p, "embed", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, domain.NewError(domain.KindEmbedding, domain.ReasonTransient, "embed", "", nil)
	})

	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestDo_AppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 1
	p.AttemptTimeout = 10 * time.Millisecond

	_, err := Do(context.Background(), p, "generate", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, domain.NewError(domain.KindGeneration, domain.ReasonTimeout, "generate", "", ctx.Err())
	})

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonTimeout})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
