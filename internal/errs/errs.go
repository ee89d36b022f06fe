package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can choose a message without inspecting details.
type Kind string

const (
	// Unknown is returned by KindOf for untyped errors
	Unknown Kind = ""

	InvalidAmount        Kind = "invalid_amount"
	InvalidOrder         Kind = "invalid_order"
	UnknownToken         Kind = "unknown_token"
	PairNotFound         Kind = "pair_not_found"
	InvalidConfiguration Kind = "invalid_configuration"
	WalletNotConnected   Kind = "wallet_not_connected"
	RiskRejected         Kind = "risk_rejected"
	TradeNotFound        Kind = "trade_not_found"
	InvalidTransition    Kind = "invalid_transition"

	SignerRejected Kind = "signer_rejected"

	NetworkTimeout    Kind = "network_timeout"
	QuoteUnavailable  Kind = "quote_unavailable"
	ReceiptUnreadable Kind = "receipt_unreadable"

	ChainReverted    Kind = "chain_reverted"
	SlippageExceeded Kind = "slippage_exceeded"

	InsufficientBalance Kind = "insufficient_balance"
	IntentCancelled     Kind = "intent_cancelled"
)

// Category groups kinds by where the failure happened.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryWallet         Category = "wallet"
	CategoryNetwork        Category = "network"
	CategorySettlement     Category = "settlement"
	CategoryReconciliation Category = "reconciliation"
	CategoryUnknown        Category = "unknown"
)

func (k Kind) Category() Category {
	switch k {
	case InvalidAmount, InvalidOrder, UnknownToken, PairNotFound, InvalidConfiguration,
		WalletNotConnected, RiskRejected, TradeNotFound, InvalidTransition:
		return CategoryValidation
	case SignerRejected:
		return CategoryWallet
	case NetworkTimeout, QuoteUnavailable, ReceiptUnreadable:
		return CategoryNetwork
	case ChainReverted, SlippageExceeded:
		return CategorySettlement
	case InsufficientBalance, IntentCancelled:
		return CategoryReconciliation
	default:
		return CategoryUnknown
	}
}

// ChainStateUnknown reports whether a transaction may have landed despite the error.
func (k Kind) ChainStateUnknown() bool {
	return k.Category() == CategoryNetwork || k == Unknown
}

// Severity is "high" when the chain and the local ledger may disagree.
func (k Kind) Severity() string {
	switch k.Category() {
	case CategoryReconciliation:
		return "high"
	case CategoryNetwork, CategoryUnknown:
		return "medium"
	default:
		return "low"
	}
}

// Error is the typed failure returned across component boundaries.
type Error struct {
	Kind  Kind
	Op    string // operation that failed, eg "amm.execute"
	Stage string // swap pipeline stage, empty outside the executor
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Stage != "" {
		b.WriteString("[")
		b.WriteString(e.Stage)
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error wrapping err.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds a typed error from a format string.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithStage returns err annotated with stage, keeping its kind. Untyped errors get the fallback kind.
func WithStage(err error, stage string, fallback Kind) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		cp := *typed
		if cp.Stage == "" {
			cp.Stage = stage
		}
		return &cp
	}
	return &Error{Kind: fallback, Stage: stage, Err: err}
}

// KindOf returns the kind of the outermost typed error in the chain.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return Unknown
}

// StageOf returns the pipeline stage recorded on err, if any.
func StageOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Stage
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
