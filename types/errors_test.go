package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindExtraction(t *testing.T) {
	err := Kindf(KindUpstreamThrottled, "429 from %s", "gamma")
	assert.Equal(t, KindUpstreamThrottled, KindOf(err))
	assert.True(t, IsKind(err, KindUpstreamThrottled))
	assert.False(t, IsKind(err, KindFatal))
}

func TestErrorWrappingSurvivesChain(t *testing.T) {
	base := Kindf(KindInsufficientFunds, "balance 3.20 below 50")
	wrapped := fmt.Errorf("copy trade: %w", base)

	assert.Equal(t, KindInsufficientFunds, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindInsufficientFunds}))
}

func TestEWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := E(KindUpstreamUnavailable, "poller.fetch_page", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "poller.fetch_page")
	assert.Contains(t, err.Error(), "UpstreamUnavailable")

	assert.Nil(t, E(KindFatal, "op", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Kindf(KindTransient, "timeout")))
	assert.True(t, Retryable(Kindf(KindUpstreamUnavailable, "503")))
	assert.False(t, Retryable(Kindf(KindValidation, "missing tx_id")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ParseError", KindParse.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
