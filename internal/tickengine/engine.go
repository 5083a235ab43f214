// Package tickengine is the scheduler/orchestrator (spec §4.3): it owns the authoritative
// currentTick and drives the eight-step per-tick pipeline — matching, price evolution,
// tick-scoped events, bus publication, webhook dispatch, and returned-action ingestion.
// Grounded on the teacher's fx.Lifecycle-managed ticker loops (internal/ws/server.go's
// OnStart/OnStop shape, internal/monitoring's time.NewTicker-driven collectors).
package tickengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/actions"
	"github.com/abdoElHodaky/tradSys/internal/broadcast"
	"github.com/abdoElHodaky/tradSys/internal/bus"
	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/pricemodel"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

// Engine drives the simulation forward at a configured cadence.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	matching   *matchingengine.Engine
	prices     *pricemodel.Model
	publisher  bus.Publisher
	dispatcher *webhook.Dispatcher
	actionsP   *actions.Processor
	hub        *broadcast.Hub // optional; nil is valid for standalone/tests
	metrics    *metrics.Collector
	logger     *zap.Logger
	rng        *rand.Rand

	mu            sync.Mutex
	activeEvents  map[string][]pricemodel.EventImpact

	stop chan struct{}
	done chan struct{}
}

// New constructs an Engine. hub may be nil (no live broadcast fan-out, e.g. in tests).
func New(
	cfg *config.Config,
	st store.Store,
	matching *matchingengine.Engine,
	prices *pricemodel.Model,
	publisher bus.Publisher,
	dispatcher *webhook.Dispatcher,
	actionsP *actions.Processor,
	hub *broadcast.Hub,
	mc *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		store:        st,
		matching:     matching,
		prices:       prices,
		publisher:    publisher,
		dispatcher:   dispatcher,
		actionsP:     actionsP,
		hub:          hub,
		metrics:      mc,
		logger:       logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		activeEvents: make(map[string][]pricemodel.EventImpact),
	}
}

// Start launches the tick loop in a background goroutine. Call Stop to halt it.
func (e *Engine) Start(ctx context.Context) {
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop halts the tick loop and waits for the in-flight tick, if any, to finish.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stop == nil {
		return nil
	}
	close(e.stop)
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ErrFatalTick marks a RunTick error that must stop the scheduler (spec §7 "Fatal pipeline
// errors stop the scheduler and surface via heartbeat and logs"), as opposed to an ordinary
// lag/overrun which is logged but never aborts the loop.
var ErrFatalTick = errors.New("tickengine: fatal tick error")

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	interval := e.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			err := e.RunTick(ctx)
			e.recordTickDuration(time.Since(start), interval)
			if err == nil {
				continue
			}
			e.logger.Error("tick pipeline failed", zap.Error(err))
			if errors.Is(err, ErrFatalTick) {
				e.logger.Error("stopping scheduler after fatal tick error")
				return
			}
		}
	}
}

// recordTickDuration reports the tick's wall-clock cost and logs a warning if it exceeded the
// soft budget (spec §4.3 "a tick that overruns logs a lag warning but is never aborted").
func (e *Engine) recordTickDuration(elapsed, budget time.Duration) {
	e.metrics.RecordTick(elapsed)
	if elapsed > budget {
		e.logger.Warn("tick exceeded its soft budget",
			zap.Duration("elapsed", elapsed), zap.Duration("budget", budget))
	}
}

// RunTick executes one full pass of the pipeline described in spec §4.3. A critical store-write
// failure during matching (trade, order status, holding, or cash; spec §7 item 5) aborts the
// tick before the advanced world state is persisted — the tick never advances — and is reported
// via an "error" heartbeat instead of the usual "ok" one. The returned error wraps ErrFatalTick
// so loop() can tell a fatal abort apart from an error worth merely logging.
func (e *Engine) RunTick(ctx context.Context) error {
	world, err := e.store.GetWorldState(ctx)
	if err != nil {
		return err
	}
	world.CurrentTick++
	tick := world.CurrentTick
	world.LastTickAt = time.Now()

	marketOpen := e.isMarketOpen(tick)
	world.MarketOpen = marketOpen
	if !marketOpen {
		if err := e.store.SaveWorldState(ctx, world); err != nil {
			return err
		}
		if e.hub != nil {
			e.hub.SetCurrentTick(tick)
		}
		e.publishTickUpdate(ctx, tick, marketOpen)
		e.emitHeartbeat(ctx, tick, heartbeatStatusOK, "")
		return nil
	}

	// Step 2: matching.
	tradesBySymbol, netSignedQty, err := e.runMatching(ctx, tick)
	if err != nil {
		e.emitHeartbeat(ctx, tick, heartbeatStatusError, err.Error())
		return fmt.Errorf("%w: matching: %v", ErrFatalTick, err)
	}

	// Step 3: price model.
	priceUpdates := e.runPriceModel(ctx, tick, netSignedQty)

	// Step 4: tick-scoped events/news.
	symbols := make([]string, len(priceUpdates))
	for i, pu := range priceUpdates {
		symbols[i] = pu.Symbol
	}
	news := e.maybeTriggerEvent(ctx, tick, symbols)

	// Step 8: persist the advanced world state; the tick has only truly "happened" once this
	// succeeds, so currentTick is published to the broadcast hub only after it lands.
	if err := e.store.SaveWorldState(ctx, world); err != nil {
		e.emitHeartbeat(ctx, tick, heartbeatStatusError, err.Error())
		return fmt.Errorf("%w: save world state: %v", ErrFatalTick, err)
	}
	if e.hub != nil {
		e.hub.SetCurrentTick(tick)
	}
	e.emitHeartbeat(ctx, tick, heartbeatStatusOK, "")

	// Step 5: publish bus topics.
	e.publishTick(ctx, tick, world, priceUpdates, tradesBySymbol, news)

	// Step 6+7: webhook dispatch and returned-action ingestion.
	e.dispatchAndIngest(ctx, tick, world, priceUpdates)

	return nil
}

func (e *Engine) isMarketOpen(tick int64) bool {
	open := e.cfg.Tick.MarketOpen
	close := e.cfg.Tick.MarketClose
	if tick < int64(open) {
		return false
	}
	if close != 0 && tick > int64(close) {
		return false
	}
	return true
}

func (e *Engine) publishTickUpdate(ctx context.Context, tick int64, marketOpen bool) {
	payload, _ := json.Marshal(struct {
		Type       string `json:"type"`
		Tick       int64  `json:"tick"`
		MarketOpen bool   `json:"marketOpen"`
	}{broadcast.OutboundTickUpdate, tick, marketOpen})
	if err := e.publisher.Publish(ctx, "tick", payload); err != nil {
		e.logger.Warn("failed to publish closed-market tick update", zap.Error(err))
	}
}
