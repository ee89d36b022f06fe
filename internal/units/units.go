package units

import (
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
)

// ToBaseUnits scales amount by 10^decimals and truncates toward zero.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, errs.New(errs.InvalidAmount, "units.to_base", "negative amount %s", amount)
	}
	if decimals < 0 {
		return nil, errs.New(errs.InvalidConfiguration, "units.to_base", "negative decimals %d", decimals)
	}

	v := amount.Shift(decimals).Truncate(0).BigInt()
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, errs.New(errs.InvalidAmount, "units.to_base", "amount %s overflows uint256", amount)
	}
	return v, nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// FromFloat converts a float amount, rejecting NaN, infinities and negatives.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, errs.New(errs.InvalidAmount, "units.from_float", "non-finite amount %v", f)
	}
	if f < 0 {
		return decimal.Zero, errs.New(errs.InvalidAmount, "units.from_float", "negative amount %v", f)
	}
	return decimal.NewFromFloat(f), nil
}

// ParseAmount parses a human readable amount such as "2.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, errs.E(errs.InvalidAmount, "units.parse", err)
	}
	if d.IsNegative() {
		return decimal.Zero, errs.New(errs.InvalidAmount, "units.parse", "negative amount %s", s)
	}
	return d, nil
}

// MaxUint256 is the unbounded ERC-20 approval amount.
func MaxUint256() *big.Int {
	return new(uint256.Int).SetAllOne().ToBig()
}

// Token is one row of the decimals table.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// DefaultDecimals mirrors the decimals of the deployed tokens.
var DefaultDecimals = map[string]int32{
	"ETH":  18,
	"USDT": 6,
	"WBTC": 8,
	"DAI":  18,
}

// Registry is the fixed per-token table. It is immutable after construction.
type Registry struct {
	tokens map[string]Token
}

func NewRegistry(tokens []Token) (*Registry, error) {
	r := &Registry{tokens: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if symbol == "" {
			return nil, errs.New(errs.InvalidConfiguration, "units.registry", "token without symbol")
		}
		if t.Decimals < 0 || t.Decimals > 77 {
			return nil, errs.New(errs.InvalidConfiguration, "units.registry", "token %s: decimals %d out of range", symbol, t.Decimals)
		}
		if _, dup := r.tokens[symbol]; dup {
			return nil, errs.New(errs.InvalidConfiguration, "units.registry", "duplicate token %s", symbol)
		}
		t.Symbol = symbol
		r.tokens[symbol] = t
	}
	return r, nil
}

func (r *Registry) Lookup(symbol string) (Token, error) {
	t, ok := r.tokens[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, errs.New(errs.UnknownToken, "units.lookup", "unknown token %q", symbol)
	}
	return t, nil
}

func (r *Registry) Decimals(symbol string) (int32, error) {
	t, err := r.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	return t.Decimals, nil
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.tokens))
	for s := range r.tokens {
		out = append(out, s)
	}
	return out
}

// ToBaseUnits converts amount of the given token.
func (r *Registry) ToBaseUnits(symbol string, amount decimal.Decimal) (*big.Int, error) {
	d, err := r.Decimals(symbol)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(amount, d)
}

func (r *Registry) FromBaseUnits(symbol string, v *big.Int) (decimal.Decimal, error) {
	d, err := r.Decimals(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return FromBaseUnits(v, d), nil
}
