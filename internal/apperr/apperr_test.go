package apperr_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/apperr"
)

func TestErrorMatchesByKind(t *testing.T) {
	t.Parallel()

	err := apperr.New(apperr.KindCaptchaRejected, "recaptcha evaluation failed")
	wrapped := fmt.Errorf("generate: %w", err)

	assert.ErrorIs(t, wrapped, apperr.ErrCaptchaRejected)
	assert.NotErrorIs(t, wrapped, apperr.ErrRateLimited)
	assert.Equal(t, apperr.KindCaptchaRejected, apperr.KindOf(wrapped))
	assert.True(t, apperr.IsKind(wrapped, apperr.KindCaptchaRejected))
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("boom")))
	assert.False(t, apperr.IsKind(nil, apperr.KindInternal))
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, apperr.Wrap(apperr.KindTransient, nil, "ignored"))
}

func TestWrapUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: i/o timeout")
	err := apperr.Wrap(apperr.KindTransient, cause, "credits")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transient_error: credits: dial tcp: i/o timeout", err.Error())
}

func TestRetryAfterAndAttempts(t *testing.T) {
	t.Parallel()

	base := apperr.New(apperr.KindRateLimited, "quota exhausted")
	err := base.WithRetryAfter(30 * time.Second).WithAttempts(3).WithAccount(7)

	d, ok := apperr.RetryAfterOf(err).Get()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)
	assert.Equal(t, 3, apperr.AttemptsOf(err))
	assert.Equal(t, int64(7), err.AccountID)
	assert.Contains(t, err.Error(), "after 3 attempts")

	assert.True(t, apperr.RetryAfterOf(base).IsAbsent(), "copies must not mutate the original")
	assert.Zero(t, apperr.AttemptsOf(base))
}

func TestWithRetryAfterIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	err := apperr.New(apperr.KindPoolExhausted, "no eligible account").WithRetryAfter(0)
	assert.True(t, err.RetryAfter.IsAbsent())
}
