package matchingengine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/store"
)

func testBounds() Bounds {
	return Bounds{
		MinPrice:       decimal.NewFromFloat(0.0001),
		MaxPrice:       decimal.NewFromInt(1000000),
		MaxQuantity:    decimal.NewFromInt(1000000000),
		AllowSelfTrade: true,
	}
}

func limitOrder(id, participant string, side store.Side, qty, price string) *store.Order {
	return &store.Order{
		ID:            id,
		ParticipantID: participant,
		Symbol:        "AAPL",
		Side:          side,
		Type:          store.OrderTypeLimit,
		Quantity:      decimal.RequireFromString(qty),
		LimitPrice:    decimal.RequireFromString(price),
		HasLimitPrice: true,
		Status:        store.OrderStatusPending,
	}
}

func TestBook_RestingSellThenCrossingBuy(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())

	sell := limitOrder("sell-1", "alice", store.SideSell, "10", "100.00")
	res := book.Submit(sell, 1)
	require.False(t, res.Rejected)
	assert.Empty(t, res.Trades)
	assert.Equal(t, store.OrderStatusOpen, sell.Status)

	buy := limitOrder("buy-1", "bob", store.SideBuy, "10", "101.00")
	res = book.Submit(buy, 2)
	require.False(t, res.Rejected)
	require.Len(t, res.Trades, 1)

	trade := res.Trades[0]
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("100.00")), "trade executes at the resting (maker) price")
	assert.True(t, trade.Quantity.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, store.OrderStatusFilled, buy.Status)
	assert.Equal(t, store.OrderStatusFilled, sell.Status)
}

func TestBook_PartialFill(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())

	sell := limitOrder("sell-1", "alice", store.SideSell, "5", "100.00")
	book.Submit(sell, 1)

	buy := limitOrder("buy-1", "bob", store.SideBuy, "10", "101.00")
	res := book.Submit(buy, 2)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Quantity.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, store.OrderStatusPartial, buy.Status)
	assert.True(t, buy.Remaining().Equal(decimal.RequireFromString("5")))
	assert.Equal(t, store.OrderStatusFilled, sell.Status)

	bestBid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bestBid.Equal(decimal.RequireFromString("101.00")))
}

func TestBook_MarketOrderWithoutLiquidityStaysPending(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())

	market := &store.Order{
		ID:            "mkt-1",
		ParticipantID: "bob",
		Symbol:        "AAPL",
		Side:          store.SideBuy,
		Type:          store.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("10"),
		Status:        store.OrderStatusPending,
	}

	res := book.Submit(market, 1)
	require.False(t, res.Rejected)
	assert.Empty(t, res.Trades)
	assert.Equal(t, store.OrderStatusPending, market.Status, "unfilled market order does not rest on the ladder")
}

func TestBook_ZeroQuantityRejected(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())
	order := limitOrder("o1", "bob", store.SideBuy, "0", "100.00")

	res := book.Submit(order, 1)
	assert.True(t, res.Rejected)
	assert.Equal(t, store.OrderStatusRejected, order.Status)
}

func TestBook_SelfTradeSkippedWhenForbidden(t *testing.T) {
	bounds := testBounds()
	bounds.AllowSelfTrade = false
	book := NewBook("AAPL", bounds, zap.NewNop())

	sell := limitOrder("sell-1", "alice", store.SideSell, "10", "100.00")
	book.Submit(sell, 1)

	otherSell := limitOrder("sell-2", "carol", store.SideSell, "10", "100.00")
	book.Submit(otherSell, 1)

	buy := limitOrder("buy-1", "alice", store.SideBuy, "10", "101.00")
	res := book.Submit(buy, 2)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "carol", res.Trades[0].SellerID, "self-trade against alice's own resting order must be skipped")
}

func TestBook_CancelOnlyAllowedFromNonTerminal(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())
	order := limitOrder("o1", "bob", store.SideBuy, "10", "100.00")
	book.Submit(order, 1)

	require.NoError(t, book.Cancel(order))
	assert.Equal(t, store.OrderStatusCancelled, order.Status)

	err := book.Cancel(order)
	assert.Error(t, err)
}

func TestBook_StopOrderTriggersOnLastTrade(t *testing.T) {
	book := NewBook("AAPL", testBounds(), zap.NewNop())

	sell := limitOrder("sell-1", "alice", store.SideSell, "10", "100.00")
	book.Submit(sell, 1)
	buy := limitOrder("buy-1", "bob", store.SideBuy, "10", "100.00")
	book.Submit(buy, 1) // prints a trade at 100.00, setting lastTradePrice

	stop := &store.Order{
		ID:            "stop-1",
		ParticipantID: "carol",
		Symbol:        "AAPL",
		Side:          store.SideSell,
		Type:          store.OrderTypeStop,
		Quantity:      decimal.RequireFromString("5"),
		StopPrice:     decimal.RequireFromString("100.00"),
		HasStopPrice:  true,
		Status:        store.OrderStatusPending,
	}
	res := book.Submit(stop, 2)
	require.False(t, res.Rejected)
	assert.Equal(t, store.OrderStatusPending, stop.Status, "stop orders do not rest on the regular ladder")

	// This resting buy gives the triggered stop something to match against; submitting it
	// also re-checks the stop watch list against the still-current last trade price.
	daveBuy := limitOrder("buy-2", "dave", store.SideBuy, "5", "99.00")
	res = book.Submit(daveBuy, 3)
	require.Len(t, res.Trades, 1, "stop order should have triggered into a market sell against dave's resting buy")
	assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("99.00")))
	assert.Equal(t, store.OrderStatusFilled, stop.Status)
}
