package trading

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/units"
)

// PairRegistry holds the configured trading pairs. Reference prices are refreshed from
// the price source when one is set and fall back to the configured price.
type PairRegistry struct {
	pairs  map[string]models.TradingPair
	prices PriceSource
	logger *slog.Logger
}

func NewPairRegistry(pairs []models.TradingPair, tokens *units.Registry, prices PriceSource, logger *slog.Logger) (*PairRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &PairRegistry{pairs: make(map[string]models.TradingPair, len(pairs)), prices: prices, logger: logger}
	for _, p := range pairs {
		base, quote, err := models.SplitPair(p.ID)
		if err != nil {
			return nil, errs.E(errs.InvalidConfiguration, "trading.new_pairs", err)
		}
		if _, err := tokens.Lookup(base); err != nil {
			return nil, errs.E(errs.InvalidConfiguration, "trading.new_pairs", err)
		}
		if _, err := tokens.Lookup(quote); err != nil {
			return nil, errs.E(errs.InvalidConfiguration, "trading.new_pairs", err)
		}
		if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, errs.New(errs.InvalidConfiguration, "trading.new_pairs", "pair %s: fee rate %s outside [0, 1)", p.ID, p.FeeRate)
		}
		if p.ReferencePrice.IsNegative() {
			return nil, errs.New(errs.InvalidConfiguration, "trading.new_pairs", "pair %s: negative reference price", p.ID)
		}
		id := base + "-" + quote
		if _, dup := r.pairs[id]; dup {
			return nil, errs.New(errs.InvalidConfiguration, "trading.new_pairs", "duplicate pair %s", id)
		}
		p.ID, p.Base, p.Quote = id, base, quote
		r.pairs[id] = p
	}
	return r, nil
}

// Lookup returns the configured pair without asking the price source.
func (r *PairRegistry) Lookup(id string) (models.TradingPair, error) {
	p, ok := r.pairs[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return models.TradingPair{}, errs.New(errs.PairNotFound, "trading.pair", "unknown pair %q", id)
	}
	return p, nil
}

// Pair returns the pair with a current reference price.
func (r *PairRegistry) Pair(ctx context.Context, id string) (models.TradingPair, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return models.TradingPair{}, err
	}
	if r.prices == nil {
		return p, nil
	}
	price, err := r.prices.ReferencePrice(ctx, p.ID)
	if err != nil || !price.IsPositive() {
		r.logger.Warn("using configured reference price", "pair", p.ID, "price", p.ReferencePrice.String(), "error", err)
		return p, nil
	}
	p.ReferencePrice = price
	return p, nil
}

// NominalPrice is the order's limit price, or the reference price for market orders.
// A reference price already pinned on the order wins over the pair's.
func NominalPrice(order *Order, pair models.TradingPair) (decimal.Decimal, error) {
	if order.LimitPrice.IsPositive() {
		return order.LimitPrice, nil
	}
	if order.LimitPrice.IsNegative() {
		return decimal.Zero, errs.New(errs.InvalidAmount, "trading.nominal_price", "negative limit price %s", order.LimitPrice)
	}
	if order.ReferencePrice.IsPositive() {
		return order.ReferencePrice, nil
	}
	if !pair.ReferencePrice.IsPositive() {
		return decimal.Zero, errs.New(errs.QuoteUnavailable, "trading.nominal_price", "no reference price for %s", pair.ID)
	}
	return pair.ReferencePrice, nil
}

// Validate checks the order fields that need no lookup and normalizes the side.
func (o *Order) Validate() error {
	if o == nil {
		return errs.New(errs.InvalidOrder, "trading.validate", "nil order")
	}
	if !o.Amount.IsPositive() {
		return errs.New(errs.InvalidAmount, "trading.validate", "amount must be positive, got %s", o.Amount)
	}
	side, err := models.ParseSide(string(o.Side))
	if err != nil {
		return err
	}
	o.Side = side
	return nil
}

// Priced reports whether the nominal price is already fixed on the order.
func (o *Order) Priced() bool {
	return o.LimitPrice.IsPositive() || o.ReferencePrice.IsPositive()
}

func (r *PairRegistry) IDs() []string {
	out := make([]string, 0, len(r.pairs))
	for id := range r.pairs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
