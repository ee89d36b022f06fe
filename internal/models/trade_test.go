package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/ammswap/internal/errs"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewTrade(t *testing.T) {
	trade := NewTrade("0x01", "u1", "ETH-USDT", SideBuy, d("2"), d("2450"), d("0.003"), time.Unix(0, 0), StatusCompleted)
	assert.True(t, trade.Total.Equal(d("4900")))
	assert.True(t, trade.Fee.Equal(d("14.7")))
}

func TestTrade_Quantize(t *testing.T) {
	// 3 ETH for 4900 USDT: the price repeats, the moved amount does not
	price := d("4900").DivRound(d("3"), 18)
	tr := NewTrade("0xabc", "alice", "ETH-USDT", SideBuy, d("3"), price, d("0.003"), time.Time{}, StatusCompleted)
	assert.False(t, tr.Total.Equal(d("4900")))

	tr.Quantize(d("4900"), d("0.003"), 6)
	assert.True(t, tr.Total.Equal(d("4900")))
	assert.True(t, tr.Fee.Equal(d("14.7")))

	tr.Quantize(d("0.0000015"), d("0.5"), 6)
	assert.Equal(t, "0.000002", tr.Total.String())
	assert.Equal(t, "0.000001", tr.Fee.String())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TradeStatus
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTrade_Transition(t *testing.T) {
	trade := &Trade{ID: "x", Status: StatusPending}
	require.NoError(t, trade.Transition(StatusCancelled))
	err := trade.Transition(StatusCompleted)
	assert.True(t, errs.Is(err, errs.InvalidTransition))
	assert.Equal(t, StatusCancelled, trade.Status)
}

func TestTrade_Movements(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		wantBase  string
		wantQuote string
	}{
		{name: "buy", side: SideBuy, wantBase: "2", wantQuote: "-4914.7"},
		{name: "sell", side: SideSell, wantBase: "-2", wantQuote: "4885.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := NewTrade("id", "u", "eth-usdt", tt.side, d("2"), d("2450"), d("0.003"), time.Now(), StatusCompleted)
			base, quote, bd, qd, err := trade.Movements()
			require.NoError(t, err)
			assert.Equal(t, "ETH", base)
			assert.Equal(t, "USDT", quote)
			assert.True(t, bd.Equal(d(tt.wantBase)), bd.String())
			assert.True(t, qd.Equal(d(tt.wantQuote)), qd.String())
		})
	}
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" BUY ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)

	_, err = ParseSide("hold")
	assert.True(t, errs.Is(err, errs.InvalidOrder))
}

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("wbtc-usdt")
	require.NoError(t, err)
	assert.Equal(t, "WBTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"", "ETH", "ETH-", "ETH-ETH", "A-B-C"} {
		_, _, err := SplitPair(bad)
		assert.True(t, errs.Is(err, errs.PairNotFound), bad)
	}
}

func TestBalances(t *testing.T) {
	b := Balances{"ETH": d("1.5")}
	c := b.Clone()
	c["ETH"] = d("3")
	assert.True(t, b.Get("eth").Equal(d("1.5")))
	assert.True(t, b.Get("DAI").IsZero())
	assert.True(t, Balances{"ETH": d("1"), "DAI": decimal.Zero}.Equal(Balances{"ETH": d("1.0")}))
	assert.False(t, b.Equal(c))
	assert.Equal(t, []string{"DAI", "ETH"}, Balances{"ETH": d("1"), "DAI": d("2")}.Symbols())
}
