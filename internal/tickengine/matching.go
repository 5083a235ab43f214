package tickengine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/money"
	"github.com/abdoElHodaky/tradSys/internal/store"
)

// runMatching is step 2 of the pipeline (spec §4.3): for each symbol with fresh pending
// orders, submit them to the book, persist trades/order deltas, and update holdings/cash.
// It returns the tick's trades grouped by symbol and the net signed trade quantity per symbol
// that the price model needs for agent pressure. A non-nil error means a critical store write
// (order status, trade, holding, or cash; spec §7 item 5) failed mid-batch; the caller must
// treat the tick as fatal and must not advance it.
func (e *Engine) runMatching(ctx context.Context, tick int64) (map[string][]*store.Trade, map[string]float64, error) {
	tradesBySymbol := make(map[string][]*store.Trade)
	netSignedQty := make(map[string]float64)

	symbols, err := e.store.SymbolsWithPendingOrders(ctx)
	if err != nil {
		e.logger.Error("failed to list symbols with pending orders", zap.Error(err))
		return tradesBySymbol, netSignedQty, fmt.Errorf("list symbols with pending orders: %w", err)
	}

	for _, symbol := range symbols {
		pending, err := e.store.PendingOrdersBySymbol(ctx, symbol)
		if err != nil {
			e.logger.Error("failed to load pending orders", zap.String("symbol", symbol), zap.Error(err))
			return tradesBySymbol, netSignedQty, fmt.Errorf("load pending orders for %s: %w", symbol, err)
		}
		book := e.matching.BookFor(symbol)
		for _, order := range pending {
			result := book.Submit(order, tick)
			if err := e.persistMatchResult(ctx, symbol, result); err != nil {
				return tradesBySymbol, netSignedQty, err
			}

			if result.Rejected {
				e.metrics.RecordOrderRejected(symbol, result.RejectReason)
				continue
			}
			if len(result.Trades) > 0 {
				e.metrics.RecordMatch(symbol)
			}
			for _, t := range result.Trades {
				e.metrics.RecordTrade(symbol)
				tradesBySymbol[symbol] = append(tradesBySymbol[symbol], t)
				qty := t.Quantity.InexactFloat64()
				if t.BuyerOrderID == order.ID {
					netSignedQty[symbol] += qty
				} else {
					netSignedQty[symbol] -= qty
				}
			}
		}
	}

	return tradesBySymbol, netSignedQty, nil
}

// persistMatchResult persists one Submit() call's worth of deltas (spec §4.1 "Persistence &
// deltas"): the incoming order, every trade printed, every affected resting order reconciled
// via GetOrder→mutate→SaveOrder (the book never exposes its internal pointers), and the
// corresponding holdings/cash movement for both sides of each trade. Every one of these is a
// critical write (spec §7 item 5: "trade, status, holding, cash"); the first failure aborts the
// rest of the batch instead of continuing on a store that just proved it can't be trusted.
func (e *Engine) persistMatchResult(ctx context.Context, symbol string, result *matchingengine.MatchResult) error {
	if err := e.store.SaveOrder(ctx, result.Incoming); err != nil {
		e.logger.Error("failed to save incoming order", zap.String("order_id", result.Incoming.ID), zap.Error(err))
		return fmt.Errorf("save incoming order %s: %w", result.Incoming.ID, err)
	}
	if result.Rejected {
		return nil
	}

	for _, aff := range result.AffectedResting {
		resting, err := e.store.GetOrder(ctx, aff.OrderID)
		if err != nil {
			e.logger.Error("failed to load affected resting order", zap.String("order_id", aff.OrderID), zap.Error(err))
			return fmt.Errorf("load affected resting order %s: %w", aff.OrderID, err)
		}
		resting.FilledQuantity = aff.CumulativeFilledQty
		resting.AvgFillPrice = aff.CumulativeAvgFillPrice
		if resting.Remaining().IsZero() {
			resting.Status = store.OrderStatusFilled
			resting.HasTickFilled = true
		} else {
			resting.Status = store.OrderStatusPartial
		}
		if err := e.store.SaveOrder(ctx, resting); err != nil {
			e.logger.Error("failed to save affected resting order", zap.String("order_id", aff.OrderID), zap.Error(err))
			return fmt.Errorf("save affected resting order %s: %w", aff.OrderID, err)
		}
	}

	for _, t := range result.Trades {
		if err := e.store.SaveTrade(ctx, t); err != nil {
			e.logger.Error("failed to save trade", zap.String("trade_id", t.ID), zap.Error(err))
			return fmt.Errorf("save trade %s: %w", t.ID, err)
		}
		if err := e.settleTrade(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// settleTrade moves cash and updates holdings for both sides of one printed trade (spec §3
// Holding "recomputed as a weighted average across additive buys", §4.1 "the matching pass
// also updates each side's holdings and cash").
func (e *Engine) settleTrade(ctx context.Context, t *store.Trade) error {
	cost := t.Price.Mul(t.Quantity)
	if err := e.applyHoldingDelta(ctx, t.BuyerID, t.Symbol, t.Quantity, t.Price); err != nil {
		return err
	}
	if err := e.applyCashDelta(ctx, t.BuyerID, cost.Neg()); err != nil {
		return err
	}

	if err := e.applyHoldingDelta(ctx, t.SellerID, t.Symbol, t.Quantity.Neg(), t.Price); err != nil {
		return err
	}
	return e.applyCashDelta(ctx, t.SellerID, cost)
}

func (e *Engine) applyHoldingDelta(ctx context.Context, participantID, symbol string, signedQty, price decimal.Decimal) error {
	holding, err := e.store.GetHolding(ctx, participantID, symbol)
	if err != nil {
		holding = &store.Holding{ParticipantID: participantID, Symbol: symbol}
	}

	newQty := holding.Quantity.Add(signedQty)
	sameDirection := holding.Quantity.Sign() == 0 || holding.Quantity.Sign() == signedQty.Sign()
	if sameDirection {
		holding.AverageCost = money.WeightedAverage(holding.Quantity.Abs(), holding.AverageCost, signedQty.Abs(), price)
	}
	// A position crossing through zero (long flips to short or vice versa) resets its cost
	// basis to the trade price, since the prior average cost no longer describes it.
	if holding.Quantity.Sign() != 0 && newQty.Sign() != 0 && holding.Quantity.Sign() != newQty.Sign() {
		holding.AverageCost = price
	}
	holding.Quantity = newQty

	if holding.Quantity.IsZero() {
		if err := e.store.DeleteHolding(ctx, participantID, symbol); err != nil {
			e.logger.Error("failed to delete zeroed holding", zap.String("participant_id", participantID), zap.String("symbol", symbol), zap.Error(err))
			return fmt.Errorf("delete zeroed holding for %s/%s: %w", participantID, symbol, err)
		}
		return nil
	}
	if err := e.store.SaveHolding(ctx, holding); err != nil {
		e.logger.Error("failed to save holding", zap.String("participant_id", participantID), zap.String("symbol", symbol), zap.Error(err))
		return fmt.Errorf("save holding for %s/%s: %w", participantID, symbol, err)
	}
	return nil
}

func (e *Engine) applyCashDelta(ctx context.Context, participantID string, delta decimal.Decimal) error {
	account, err := e.store.GetAccount(ctx, participantID)
	if err != nil {
		e.logger.Error("failed to load account for cash settlement", zap.String("participant_id", participantID), zap.Error(err))
		return fmt.Errorf("load account for cash settlement %s: %w", participantID, err)
	}
	account.Cash = account.Cash.Add(delta)
	if err := e.store.SaveAccount(ctx, account); err != nil {
		e.logger.Error("failed to save account cash delta", zap.String("participant_id", participantID), zap.Error(err))
		return fmt.Errorf("save account cash delta for %s: %w", participantID, err)
	}
	return nil
}
