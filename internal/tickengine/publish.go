package tickengine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/broadcast"
	"github.com/abdoElHodaky/tradSys/internal/store"
)

const (
	heartbeatStatusOK    = "ok"
	heartbeatStatusError = "error"
)

// emitHeartbeat is step 8 of the pipeline (spec §4.3 "Persist the advanced world state; emit
// engine heartbeat", §7 item 5): a liveness signal emitted once per tick attempt. status is
// "error" when a fatal critical-write failure aborted the tick (detail carries the cause);
// otherwise "ok".
func (e *Engine) emitHeartbeat(ctx context.Context, tick int64, status, detail string) {
	e.metrics.RecordHeartbeat(status)
	if status == heartbeatStatusError {
		e.logger.Error("engine heartbeat", zap.Int64("tick", tick), zap.String("status", status), zap.String("detail", detail))
	} else {
		e.logger.Debug("engine heartbeat", zap.Int64("tick", tick), zap.String("status", status))
	}
	e.publishJSON(ctx, "heartbeat", struct {
		Type   string `json:"type"`
		Tick   int64  `json:"tick"`
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	}{"HEARTBEAT", tick, status, detail})
}

// publishTick is step 5 of the pipeline (spec §4.3): publishes the aggregated tick update,
// the tick's price moves, every printed trade, and a per-symbol market topic onto the bus.
// The only per-participant private message is the action-results message that dispatchAndIngest
// publishes on the participant's orders topic; no portfolio or trade delta topics are published.
func (e *Engine) publishTick(ctx context.Context, tick int64, world *store.WorldState, prices []priceUpdate, tradesBySymbol map[string][]*store.Trade, news *store.NewsItem) {
	e.publishJSON(ctx, "tick", struct {
		Type       string `json:"type"`
		Tick       int64  `json:"tick"`
		MarketOpen bool   `json:"marketOpen"`
		Regime     string `json:"regime"`
	}{broadcast.OutboundTickUpdate, tick, world.MarketOpen, string(world.Regime)})

	if len(prices) > 0 {
		e.publishJSON(ctx, "prices", struct {
			Type   string        `json:"type"`
			Tick   int64         `json:"tick"`
			Prices []priceUpdate `json:"prices"`
		}{broadcast.OutboundPriceUpdate, tick, prices})
	}

	for _, pu := range prices {
		e.publishJSON(ctx, "market:"+pu.Symbol, struct {
			Type     string  `json:"type"`
			Tick     int64   `json:"tick"`
			Symbol   string  `json:"symbol"`
			Price    float64 `json:"price"`
			Previous float64 `json:"previous"`
		}{broadcast.OutboundMarketUpdate, tick, pu.Symbol, pu.New, pu.Previous})
	}

	for symbol, trades := range tradesBySymbol {
		for _, t := range trades {
			e.publishJSON(ctx, "trades", struct {
				Type     string  `json:"type"`
				Tick     int64   `json:"tick"`
				Symbol   string  `json:"symbol"`
				Price    float64 `json:"price"`
				Quantity float64 `json:"quantity"`
			}{broadcast.OutboundTrade, tick, symbol, t.Price.InexactFloat64(), t.Quantity.InexactFloat64()})
		}
	}

	if news != nil {
		e.publishJSON(ctx, "news", news)
	}
}

func (e *Engine) publishJSON(ctx context.Context, topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("failed to marshal bus payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := e.publisher.Publish(ctx, topic, payload); err != nil {
		e.logger.Warn("failed to publish bus payload", zap.String("topic", topic), zap.Error(err))
	}
}

func (e *Engine) publishPrivate(ctx context.Context, channel, participantID string, v interface{}) {
	e.publishJSON(ctx, fmt.Sprintf("%s:%s", channel, participantID), v)
}
