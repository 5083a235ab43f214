package tickengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/pricemodel"
	"github.com/abdoElHodaky/tradSys/internal/store"
)

// eventTemplate pairs a news category with a signed magnitude range a triggered MarketEvent
// draws from (spec §4.2 "eventImpact (from active MarketEvents decaying over duration)").
type eventTemplate struct {
	category   store.NewsCategory
	headline   string
	minMag     float64
	maxMag     float64
	isBreaking bool
}

var eventTemplates = []eventTemplate{
	{store.NewsEarnings, "%s reports earnings that beat analyst expectations", 0.01, 0.06, false},
	{store.NewsEarnings, "%s misses earnings estimates", -0.06, -0.01, false},
	{store.NewsMerger, "%s in advanced merger talks", 0.02, 0.10, true},
	{store.NewsScandal, "Executive scandal rocks %s", -0.12, -0.03, true},
	{store.NewsRegulatory, "Regulators open inquiry into %s", -0.08, -0.02, false},
	{store.NewsProduct, "%s unveils a major new product line", 0.01, 0.05, false},
	{store.NewsMarket, "Broad market volatility hits %s sector", -0.04, 0.04, false},
}

// maybeTriggerEvent is step 4 of the pipeline (spec §4.3): with configured probability, picks
// one active symbol and fires a random MarketEvent against it, recording a decaying price
// impact and a persisted news item. Returns the triggered item, if any, for bus publication.
func (e *Engine) maybeTriggerEvent(ctx context.Context, tick int64, symbols []string) *store.NewsItem {
	if !e.cfg.Events.Enabled || len(symbols) == 0 {
		return nil
	}

	e.mu.Lock()
	trigger := e.rng.Float64() <= e.cfg.Events.Chance
	var symbol string
	var tmpl eventTemplate
	var magnitude float64
	if trigger {
		symbol = symbols[e.rng.Intn(len(symbols))]
		tmpl = eventTemplates[e.rng.Intn(len(eventTemplates))]
		magnitude = tmpl.minMag + e.rng.Float64()*(tmpl.maxMag-tmpl.minMag)

		ticks := e.cfg.Price.EventImpactTicks
		if ticks <= 0 {
			ticks = 1
		}
		e.activeEvents[symbol] = append(e.activeEvents[symbol], pricemodel.EventImpact{
			Symbol:        symbol,
			Magnitude:     magnitude,
			RemainingTick: ticks,
			TotalTicks:    ticks,
		})
	}
	e.mu.Unlock()

	if !trigger {
		return nil
	}

	item := &store.NewsItem{
		ID:         uuid.NewString(),
		Tick:       tick,
		Headline:   fmt.Sprintf(tmpl.headline, symbol),
		Category:   tmpl.category,
		Sentiment:  sentimentFromMagnitude(magnitude),
		Symbols:    []string{symbol},
		CreatedAt:  time.Now(),
		IsBreaking: tmpl.isBreaking,
	}
	if err := e.store.SaveNews(ctx, item); err != nil {
		e.logger.Error("failed to save triggered market event news", zap.Error(err))
	}
	return item
}

func sentimentFromMagnitude(m float64) float64 {
	s := m * 10
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return s
}
