// Package ledger mirrors on-chain settlements into per-user token balances.
//
// The mirror is advisory. When a settlement cannot be mirrored without a
// negative balance the mirror is left as it was and a divergence is recorded;
// Resync replaces the mirror with balances read from chain.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/data"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/observability"
)

type Reconciler struct {
	balances    data.BalanceStore
	divergences data.DivergenceStore
	locks       sync.Map // userID -> *sync.Mutex
	logger      *slog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewReconciler(balances data.BalanceStore, divergences data.DivergenceStore, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		balances:    balances,
		divergences: divergences,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (r *Reconciler) lock(userID string) func() {
	v, _ := r.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Snapshot returns a copy of the user's mirrored balances.
func (r *Reconciler) Snapshot(ctx context.Context, userID string) (models.Balances, error) {
	unlock := r.lock(userID)
	defer unlock()

	b, err := r.balances.LoadBalances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	return b.Clone(), nil
}

// Apply mirrors a completed trade onto the user's balances and returns the new balances.
// snapshot is the copy taken before the swap was submitted; nil skips that check.
func (r *Reconciler) Apply(ctx context.Context, userID string, snapshot models.Balances, trade *models.Trade) (models.Balances, error) {
	const op = "ledger.apply"
	if trade == nil || trade.Status != models.StatusCompleted {
		return nil, errs.New(errs.InvalidOrder, op, "only completed trades can be applied")
	}
	base, quote, baseDelta, quoteDelta, err := trade.Movements()
	if err != nil {
		return nil, err
	}

	unlock := r.lock(userID)
	defer unlock()

	current, err := r.balances.LoadBalances(ctx, userID)
	if err != nil {
		r.metrics.RecordLedgerApply("error")
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	for _, m := range []struct {
		symbol string
		delta  decimal.Decimal
	}{{base, baseDelta}, {quote, quoteDelta}} {
		if !m.delta.IsNegative() {
			continue
		}
		debit := m.delta.Neg()
		short := current.Get(m.symbol).LessThan(debit)
		if snapshot != nil && snapshot.Get(m.symbol).LessThan(debit) {
			short = true
		}
		if short {
			detail := fmt.Sprintf("%s balance %s cannot cover debit %s", m.symbol, current.Get(m.symbol), debit)
			trade.NeedsReconciliation = true
			r.divergence(ctx, userID, trade.ID, models.DivergenceLostSettlement, detail)
			r.metrics.RecordLedgerApply("lost_settlement")
			return nil, errs.New(errs.InsufficientBalance, op, "trade %s: %s", trade.ID, detail)
		}
	}

	next := current.Clone()
	next[base] = current.Get(base).Add(baseDelta)
	next[quote] = current.Get(quote).Add(quoteDelta)
	if err := r.balances.SaveBalances(ctx, userID, next); err != nil {
		r.metrics.RecordLedgerApply("error")
		return nil, fmt.Errorf("failed to save balances: %w", err)
	}

	r.metrics.RecordLedgerApply("applied")
	r.logger.Info("ledger applied",
		"user", userID,
		"trade", trade.ID,
		base, next[base].String(),
		quote, next[quote].String())
	return next.Clone(), nil
}

// Resync replaces the mirror with balances read from chain and resolves open divergences.
func (r *Reconciler) Resync(ctx context.Context, userID string, balances models.Balances) (models.Balances, error) {
	unlock := r.lock(userID)
	defer unlock()

	if err := r.balances.SaveBalances(ctx, userID, balances); err != nil {
		return nil, fmt.Errorf("failed to save balances: %w", err)
	}
	if err := r.divergences.ResolveDivergences(ctx, userID, r.now()); err != nil {
		return nil, fmt.Errorf("failed to resolve divergences: %w", err)
	}
	r.logger.Info("ledger resynced from chain", "user", userID, "tokens", len(balances))
	return balances.Clone(), nil
}

// RecordDivergence stores a divergence found outside Apply, eg a cancelled intent that settled.
func (r *Reconciler) RecordDivergence(ctx context.Context, userID, tradeID string, reason models.DivergenceReason, detail string) {
	r.divergence(ctx, userID, tradeID, reason, detail)
}

func (r *Reconciler) Divergences(ctx context.Context, userID string) ([]models.Divergence, error) {
	ds, err := r.divergences.ListDivergences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list divergences: %w", err)
	}
	return ds, nil
}

func (r *Reconciler) divergence(ctx context.Context, userID, tradeID string, reason models.DivergenceReason, detail string) {
	r.metrics.RecordDivergence(string(reason))
	r.logger.Error("ledger divergence",
		"user", userID,
		"trade", tradeID,
		"reason", reason,
		"detail", detail)

	d := &models.Divergence{
		UserID:    userID,
		TradeID:   tradeID,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: r.now(),
	}
	if err := r.divergences.RecordDivergence(ctx, d); err != nil {
		r.logger.Error("Failed to record divergence", "trade", tradeID, "error", err)
	}
}
