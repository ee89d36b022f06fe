package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/observability"
	"github.com/songzhibin97/ammswap/internal/units"
)

// Result tells whether an approval transaction was needed.
type Result int

const (
	Unapplied Result = iota
	Applied
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "unapplied"
}

// Mode selects the approved amount.
type Mode string

const (
	ModeUnbounded Mode = "unbounded" // 2^256-1, one approval per token
	ModeExact     Mode = "exact"     // exactly the amount of this swap
)

const DefaultConfirmTimeout = 3 * time.Minute

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeUnbounded:
		return ModeUnbounded, nil
	case ModeExact:
		return ModeExact, nil
	}
	return "", errs.New(errs.InvalidConfiguration, "allowance.parse_mode", "unknown approval mode %q", s)
}

// Manager makes sure the router may spend a token before a swap.
type Manager struct {
	mode           Mode
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics
}

func NewManager(mode Mode, confirmTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	if mode == "" {
		mode = ModeUnbounded
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{mode: mode, confirmTimeout: confirmTimeout, logger: logger, metrics: metrics}
}

// EnsureAllowance reads the current allowance of owner for spender and approves when it is
// below required. It returns only once the approval is confirmed.
func (m *Manager) EnsureAllowance(ctx context.Context, token chain.Token, signer chain.Signer,
	owner, spender common.Address, required *big.Int) (Result, error) {
	if token == nil {
		return Unapplied, errs.New(errs.UnknownToken, "allowance.ensure", "no token capability")
	}
	if required == nil || required.Sign() < 0 {
		return Unapplied, errs.New(errs.InvalidAmount, "allowance.ensure", "invalid required amount")
	}

	current, err := token.Allowance(ctx, owner, spender)
	if err != nil {
		return Unapplied, classify("allowance.read", ctx, err)
	}
	if current.Cmp(required) >= 0 {
		m.logger.Debug("allowance sufficient",
			"token", token.Address().Hex(), "current", current.String(), "required", required.String())
		return Unapplied, nil
	}

	amount := new(big.Int).Set(required)
	if m.mode == ModeUnbounded {
		amount = units.MaxUint256()
	}

	m.logger.Info("submitting approval",
		"token", token.Address().Hex(), "spender", spender.Hex(), "mode", string(m.mode), "required", required.String())

	confirmCtx, cancel := context.WithTimeout(ctx, m.confirmTimeout)
	defer cancel()

	receipt, err := token.Approve(confirmCtx, signer, spender, amount)
	if err != nil {
		err = classify("allowance.approve", confirmCtx, err)
		m.metrics.RecordApproval(string(errs.KindOf(err)))
		m.logger.Error("approval failed", "token", token.Address().Hex(), "error", err)
		return Unapplied, err
	}

	m.metrics.RecordApproval("applied")
	m.logger.Info("approval confirmed", "token", token.Address().Hex(), "tx", receipt.TxHash.Hex())
	return Applied, nil
}

// classify keeps typed errors and maps bare ones. A bare failure after submission leaves
// the approval state unknown.
func classify(op string, ctx context.Context, err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.E(errs.NetworkTimeout, op, fmt.Errorf("confirmation wait exceeded: %w", err))
	}
	return errs.E(errs.NetworkTimeout, op, err)
}
