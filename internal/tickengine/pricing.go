package tickengine

import (
	"context"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/pricemodel"
)

// priceUpdate is one symbol's tick-over-tick price change, threaded through to the
// publish/webhook stages so they don't have to re-query the store.
type priceUpdate struct {
	Symbol   string
	Previous float64
	New      float64
}

// runPriceModel is step 3 of the pipeline (spec §4.3, §4.2): evolves every known symbol's
// price from the tick's net signed trade quantity, active events, and the model's internal
// random-walk/momentum terms, then persists the result.
func (e *Engine) runPriceModel(ctx context.Context, tick int64, netSignedQty map[string]float64) []priceUpdate {
	symbols, err := e.store.AllSymbols(ctx)
	if err != nil {
		e.logger.Error("failed to list symbols for price model", zap.Error(err))
		return nil
	}

	e.mu.Lock()
	activeEvents := e.decayActiveEvents()
	e.mu.Unlock()

	updates := make([]priceUpdate, 0, len(symbols))
	for _, symbol := range symbols {
		prev, err := e.store.CurrentPrice(ctx, symbol)
		if err != nil {
			e.logger.Error("failed to load current price", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		newPrice := e.prices.Next(pricemodel.Inputs{
			Symbol:            symbol,
			PreviousPrice:     prev,
			Volatility:        e.cfg.Price.Volatility,
			AgentPressureBeta: e.cfg.Price.AgentPressureBeta,
			NetSignedQuantity: netSignedQty[symbol],
			ActiveEvents:      activeEvents,
			FloorPrice:        e.cfg.Price.FloorPrice,
			MaxTickMove:       e.cfg.Price.MaxTickMove,
		})

		if err := e.store.SavePrice(ctx, symbol, newPrice); err != nil {
			e.logger.Error("failed to save price", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		updates = append(updates, priceUpdate{Symbol: symbol, Previous: prev, New: newPrice})
	}
	_ = tick
	return updates
}

// decayActiveEvents decrements every tracked event impact by one tick, prunes fully-decayed
// ones, and returns the surviving set for this tick's price pass. Callers must hold e.mu.
func (e *Engine) decayActiveEvents() []pricemodel.EventImpact {
	var all []pricemodel.EventImpact
	for symbol, impacts := range e.activeEvents {
		var kept []pricemodel.EventImpact
		for _, im := range impacts {
			im.RemainingTick--
			if im.RemainingTick > 0 {
				kept = append(kept, im)
			}
		}
		if len(kept) == 0 {
			delete(e.activeEvents, symbol)
		} else {
			e.activeEvents[symbol] = kept
		}
		all = append(all, kept...)
	}
	return all
}
