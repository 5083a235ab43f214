// Package matchingengine implements the per-symbol central limit order book (spec §4.1):
// price-time priority matching, resting limit orders, non-resting market orders, and a
// stop-order watch list. Grounded on the teacher's heap-per-side OrderBook
// (internal/core/matching/order_book.go), generalized from its single aggregate
// trade/quantity model to full order/trade/holding bookkeeping against decimal.Decimal.
package matchingengine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/store"
)

// AffectedRestingOrder describes how a resting order was consumed during one match cycle
// (spec §4.1 "Persistence & deltas").
type AffectedRestingOrder struct {
	OrderID                 string
	FilledThisCycle         decimal.Decimal
	CumulativeFilledQty     decimal.Decimal
	CumulativeAvgFillPrice  decimal.Decimal
}

// MatchResult is everything one submit() call produces.
type MatchResult struct {
	Incoming        *store.Order
	Trades          []*store.Trade
	AffectedResting []AffectedRestingOrder
	Rejected        bool
	RejectReason    string
}

// orderHeap is a price-time priority heap of resting orders for one side of one book.
type orderHeap struct {
	orders    []*store.Order
	isBidSide bool // true: max-heap on price (bids); false: min-heap on price (asks)
}

func (h *orderHeap) Len() int { return len(h.orders) }

func (h *orderHeap) Less(i, j int) bool {
	a, b := h.orders[i], h.orders[j]
	if !a.LimitPrice.Equal(b.LimitPrice) {
		if h.isBidSide {
			return a.LimitPrice.GreaterThan(b.LimitPrice)
		}
		return a.LimitPrice.LessThan(b.LimitPrice)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (h *orderHeap) Swap(i, j int) { h.orders[i], h.orders[j] = h.orders[j], h.orders[i] }

func (h *orderHeap) Push(x interface{}) { h.orders = append(h.orders, x.(*store.Order)) }

func (h *orderHeap) Pop() interface{} {
	old := h.orders
	n := len(old)
	item := old[n-1]
	h.orders = old[:n-1]
	return item
}

func (h *orderHeap) peek() *store.Order {
	if len(h.orders) == 0 {
		return nil
	}
	return h.orders[0]
}

func (h *orderHeap) remove(orderID string) bool {
	for i, o := range h.orders {
		if o.ID == orderID {
			h.orders = append(h.orders[:i], h.orders[i+1:]...)
			heap.Init(h)
			return true
		}
	}
	return false
}

// Bounds are the configured rejection thresholds (spec §4.1 "beyond configured bounds").
type Bounds struct {
	MinPrice       decimal.Decimal
	MaxPrice       decimal.Decimal
	MaxQuantity    decimal.Decimal
	AllowSelfTrade bool
}

// pendingStop is a STOP order waiting to trigger (spec §4.1 "Stop orders do not rest on the
// regular ladder"). FIFO order among stops is preserved by append order (§9 tie-break decision).
type pendingStop struct {
	order *store.Order
}

// Book is the order book for a single symbol.
type Book struct {
	mu     sync.Mutex
	Symbol string
	bids   *orderHeap
	asks   *orderHeap
	stops  []pendingStop
	bounds Bounds
	logger *zap.Logger

	lastTradePrice decimal.Decimal
	hasLastTrade   bool
}

// NewBook constructs an empty book for symbol.
func NewBook(symbol string, bounds Bounds, logger *zap.Logger) *Book {
	return &Book{
		Symbol: symbol,
		bids:   &orderHeap{isBidSide: true},
		asks:   &orderHeap{isBidSide: false},
		bounds: bounds,
		logger: logger,
	}
}

func (b *Book) reject(order *store.Order, reason string) *MatchResult {
	order.Status = store.OrderStatusRejected
	return &MatchResult{Incoming: order, Rejected: true, RejectReason: reason}
}

// Seed rests order directly without running it through matchAndRest (see
// Engine.SeedLiquidity). It assumes order is already a valid resting LIMIT order.
func (b *Book) Seed(order *store.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order.Status = store.OrderStatusOpen
	b.rest(order)
}

// Submit processes a newly-pending order (spec §4.1 submit).
func (b *Book) Submit(order *store.Order, nowTick int64) *MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.Quantity.IsZero() || order.Quantity.IsNegative() {
		return b.reject(order, "zero or negative quantity")
	}
	if order.Quantity.GreaterThan(b.bounds.MaxQuantity) {
		return b.reject(order, "quantity exceeds configured bound")
	}
	if order.HasLimitPrice && (order.LimitPrice.LessThan(b.bounds.MinPrice) || order.LimitPrice.GreaterThan(b.bounds.MaxPrice)) {
		return b.reject(order, "price outside configured bounds")
	}

	if order.Type == store.OrderTypeStop {
		b.stops = append(b.stops, pendingStop{order: order})
		order.Status = store.OrderStatusPending
		return &MatchResult{Incoming: order}
	}

	result := b.matchAndRest(order, nowTick)

	// Triggering a stop may itself print a trade, which can in turn trigger further stops.
	triggered := b.checkStops(nowTick)
	for _, tr := range triggered {
		result.Trades = append(result.Trades, tr.Trades...)
		result.AffectedResting = append(result.AffectedResting, tr.AffectedResting...)
	}
	return result
}

// matchAndRest runs the price-time matching loop for a LIMIT or MARKET order and rests any
// unfilled LIMIT remainder on the book.
func (b *Book) matchAndRest(order *store.Order, nowTick int64) *MatchResult {
	var trades []*store.Trade
	var affected []AffectedRestingOrder

	opposite := b.asks
	if order.Side == store.SideSell {
		opposite = b.bids
	}

	limit := order.LimitPrice
	unbounded := order.Type == store.OrderTypeMarket
	for order.Remaining().IsPositive() && opposite.Len() > 0 {
		resting := opposite.peek()
		if !unbounded {
			if order.Side == store.SideBuy && resting.LimitPrice.GreaterThan(limit) {
				break
			}
			if order.Side == store.SideSell && resting.LimitPrice.LessThan(limit) {
				break
			}
		}
		removedBySkip := false
		if !b.bounds.AllowSelfTrade && resting.ParticipantID == order.ParticipantID {
			// skip this resting order, try the next price-time candidate (spec §4.1: "the
			// matching loop skips the offending resting order and continues")
			alt, ok := b.skipSelfTrade(order, opposite)
			if !ok {
				break
			}
			resting = alt
			removedBySkip = true
		}

		tradeQty := decimal.Min(order.Remaining(), resting.Remaining())
		tradePrice := resting.LimitPrice

		trade := &store.Trade{
			ID:        uuid.NewString(),
			Tick:      nowTick,
			Symbol:    b.Symbol,
			Price:     tradePrice,
			Quantity:  tradeQty,
			CreatedAt: time.Now(),
		}
		if order.Side == store.SideBuy {
			trade.BuyerID, trade.BuyerOrderID = order.ParticipantID, order.ID
			trade.SellerID, trade.SellerOrderID = resting.ParticipantID, resting.ID
		} else {
			trade.SellerID, trade.SellerOrderID = order.ParticipantID, order.ID
			trade.BuyerID, trade.BuyerOrderID = resting.ParticipantID, resting.ID
		}
		trades = append(trades, trade)

		order.FilledQuantity = order.FilledQuantity.Add(tradeQty)
		order.AvgFillPrice = weightedAvgFill(order, tradeQty, tradePrice)

		if !removedBySkip {
			heap.Pop(opposite)
		}
		resting.FilledQuantity = resting.FilledQuantity.Add(tradeQty)
		resting.AvgFillPrice = weightedAvgFill(resting, tradeQty, tradePrice)
		if resting.Remaining().IsZero() {
			resting.Status = store.OrderStatusFilled
			resting.HasTickFilled = true
			resting.TickFilled = nowTick
		} else {
			resting.Status = store.OrderStatusPartial
			heap.Push(opposite, resting)
		}
		affected = append(affected, AffectedRestingOrder{
			OrderID:                resting.ID,
			FilledThisCycle:        tradeQty,
			CumulativeFilledQty:    resting.FilledQuantity,
			CumulativeAvgFillPrice: resting.AvgFillPrice,
		})

		b.lastTradePrice = tradePrice
		b.hasLastTrade = true
	}

	if order.Remaining().IsZero() {
		order.Status = store.OrderStatusFilled
		order.HasTickFilled = true
		order.TickFilled = nowTick
	} else if order.FilledQuantity.IsPositive() {
		order.Status = store.OrderStatusPartial
		if order.Type == store.OrderTypeLimit {
			b.rest(order)
		}
	} else {
		if order.Type == store.OrderTypeLimit {
			order.Status = store.OrderStatusOpen
			b.rest(order)
		}
		// unmatched MARKET order: status stays pending, does not rest (spec §4.1)
	}

	return &MatchResult{Incoming: order, Trades: trades, AffectedResting: affected}
}

// skipSelfTrade linear-scans opposite for the best-priced, earliest-arrived resting order that
// does not belong to order's own participant (and is still within order's price bound), and
// extracts it via heap.Remove so the heap invariant stays intact for every order left behind
// (container/heap has no "skip-and-continue" primitive, and swapping the candidate to the root
// without re-heapifying would corrupt later Pop/peek results for the untouched interior nodes).
func (b *Book) skipSelfTrade(order *store.Order, opposite *orderHeap) (*store.Order, bool) {
	best := -1
	for i, o := range opposite.orders {
		if o.ParticipantID == order.ParticipantID {
			continue
		}
		if order.Type != store.OrderTypeMarket {
			if order.Side == store.SideBuy && o.LimitPrice.GreaterThan(order.LimitPrice) {
				continue
			}
			if order.Side == store.SideSell && o.LimitPrice.LessThan(order.LimitPrice) {
				continue
			}
		}
		if best == -1 || opposite.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return heap.Remove(opposite, best).(*store.Order), true
}

func weightedAvgFill(o *store.Order, qty, price decimal.Decimal) decimal.Decimal {
	prevFilled := o.FilledQuantity.Sub(qty)
	if prevFilled.IsZero() {
		return price
	}
	total := o.AvgFillPrice.Mul(prevFilled).Add(price.Mul(qty))
	return total.Div(o.FilledQuantity)
}

func (b *Book) rest(order *store.Order) {
	if order.Side == store.SideBuy {
		heap.Push(b.bids, order)
	} else {
		heap.Push(b.asks, order)
	}
}

// Cancel removes a resting order (spec §4.1 cancel). Allowed only from pending/open/partial.
func (b *Book) Cancel(order *store.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch order.Status {
	case store.OrderStatusPending, store.OrderStatusOpen, store.OrderStatusPartial:
	default:
		return errNotCancellable
	}

	var removed bool
	if order.Side == store.SideBuy {
		removed = b.bids.remove(order.ID)
	} else {
		removed = b.asks.remove(order.ID)
	}
	if !removed {
		for i, s := range b.stops {
			if s.order.ID == order.ID {
				b.stops = append(b.stops[:i], b.stops[i+1:]...)
				removed = true
				break
			}
		}
	}
	order.Status = store.OrderStatusCancelled
	return nil
}

// checkStops triggers any pending STOP orders whose trigger rule is satisfied by the current
// last trade price, converting each to a LIMIT/MARKET submission in FIFO order (spec §9).
func (b *Book) checkStops(nowTick int64) []*MatchResult {
	if !b.hasLastTrade || len(b.stops) == 0 {
		return nil
	}
	var results []*MatchResult
	remaining := b.stops[:0]
	for _, s := range b.stops {
		triggered := false
		if s.order.Side == store.SideBuy && b.lastTradePrice.GreaterThanOrEqual(s.order.StopPrice) {
			triggered = true
		}
		if s.order.Side == store.SideSell && b.lastTradePrice.LessThanOrEqual(s.order.StopPrice) {
			triggered = true
		}
		if !triggered {
			remaining = append(remaining, s)
			continue
		}
		if !s.order.HasLimitPrice {
			s.order.Type = store.OrderTypeMarket
		} else {
			s.order.Type = store.OrderTypeLimit
		}
		results = append(results, b.matchAndRest(s.order, nowTick))
	}
	b.stops = remaining
	return results
}

// BestBid returns the best bid price, or false if the book side is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.bids.peek()
	if o == nil {
		return decimal.Zero, false
	}
	return o.LimitPrice, true
}

// BestAsk returns the best ask price, or false if the book side is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.asks.peek()
	if o == nil {
		return decimal.Zero, false
	}
	return o.LimitPrice, true
}

// LastTradePrice returns the most recent trade price on this book.
func (b *Book) LastTradePrice() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTradePrice, b.hasLastTrade
}

var errNotCancellable = cancelError{}

type cancelError struct{}

func (cancelError) Error() string { return "order is not in a cancellable state" }
