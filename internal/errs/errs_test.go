package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(SlippageExceeded, "amm.execute", "realized %d below minimum %d", 9, 10)
	wrapped := fmt.Errorf("failed to execute swap: %w", base)

	assert.Equal(t, SlippageExceeded, KindOf(base))
	assert.Equal(t, SlippageExceeded, KindOf(wrapped))
	assert.True(t, Is(wrapped, SlippageExceeded))
	assert.False(t, Is(wrapped, ChainReverted))
	assert.False(t, Is(nil, SlippageExceeded))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestWithStage(t *testing.T) {
	typed := E(SignerRejected, "allowance.ensure", errors.New("user denied"))
	staged := WithStage(typed, "approving", NetworkTimeout)
	assert.Equal(t, SignerRejected, KindOf(staged))
	assert.Equal(t, "approving", StageOf(staged))
	assert.Empty(t, typed.Stage, "original error must not be mutated")

	untyped := WithStage(errors.New("boom"), "quoting", QuoteUnavailable)
	assert.Equal(t, QuoteUnavailable, KindOf(untyped))
	assert.Equal(t, "quoting", StageOf(untyped))

	assert.Nil(t, WithStage(nil, "quoting", QuoteUnavailable))
}

func TestKindCategory(t *testing.T) {
	tests := []struct {
		kind     Kind
		category Category
		unknown  bool
		severity string
	}{
		{InvalidAmount, CategoryValidation, false, "low"},
		{PairNotFound, CategoryValidation, false, "low"},
		{SignerRejected, CategoryWallet, false, "low"},
		{NetworkTimeout, CategoryNetwork, true, "medium"},
		{QuoteUnavailable, CategoryNetwork, true, "medium"},
		{ChainReverted, CategorySettlement, false, "low"},
		{SlippageExceeded, CategorySettlement, false, "low"},
		{InsufficientBalance, CategoryReconciliation, false, "high"},
		{IntentCancelled, CategoryReconciliation, false, "high"},
		{Unknown, CategoryUnknown, true, "medium"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.category, tt.kind.Category())
			assert.Equal(t, tt.unknown, tt.kind.ChainStateUnknown())
			assert.Equal(t, tt.severity, tt.kind.Severity())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ChainReverted, Op: "evm.swap", Stage: "swapping", Err: errors.New("status 0")}
	assert.Equal(t, "evm.swap: [swapping] chain_reverted: status 0", err.Error())
}
