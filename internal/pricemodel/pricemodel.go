// Package pricemodel evolves per-symbol prices once per tick (spec §4.2) from a weighted
// combination of drivers. Random-walk sampling is grounded on gonum's distuv (a direct teacher
// dependency otherwise unused in the corpus); momentum smoothing is grounded on go-talib's Ema,
// the teacher's own indicator library; computed prices are cached via patrickmn/go-cache for
// fast read, mirroring the teacher's in-memory TTL caching pattern (spec §4.3 step 3).
package pricemodel

import (
	"math"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	talib "github.com/markcheno/go-talib"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// EventImpact is one active, decaying MarketEvent's contribution to a symbol's price (spec §4.2
// "eventImpact (from active MarketEvents decaying over duration)").
type EventImpact struct {
	Symbol        string
	Magnitude     float64 // signed log-return contribution at t=0
	RemainingTick int     // ticks left before this impact fully decays
	TotalTicks    int
}

// decayedImpact returns the impact's remaining contribution, linearly decaying to zero.
func (e EventImpact) decayedImpact() float64 {
	if e.TotalTicks <= 0 {
		return 0
	}
	frac := float64(e.RemainingTick) / float64(e.TotalTicks)
	if frac < 0 {
		frac = 0
	}
	return e.Magnitude * frac
}

// Inputs bundles everything the price model needs for one symbol's tick update (spec §4.2
// "Contract"). NetSignedQuantity is the sum of (+qty for taker buys, -qty for taker sells)
// across the tick's trades for this symbol.
type Inputs struct {
	Symbol            string
	PreviousPrice     float64
	Volatility        float64 // per-symbol sigma for the random walk
	AgentPressureBeta float64 // sensitivity of price to net signed trade quantity
	SectorFactor      float64 // propagated sector-wide log-return for this tick
	SentimentImpact   float64 // optional, already time-decayed aggregate sentiment signal
	NetSignedQuantity float64
	ActiveEvents      []EventImpact
	FloorPrice        float64
	MaxTickMove        float64 // cap on |log(new/old)|
}

// Model evolves prices tick over tick, keeping a rolling history of its own computed prices per
// symbol for momentum smoothing and a fast-read cache of the latest computed price.
type Model struct {
	mu      sync.Mutex
	history map[string][]float64 // recent computed prices per symbol, for EMA momentum
	src     rand.Source
	cache   *cache.Cache
}

// New constructs a price model. seed makes the random walk reproducible for tests; pass a
// time-derived seed in production.
func New(seed uint64) *Model {
	return &Model{
		history: make(map[string][]float64),
		src:     rand.NewSource(seed),
		cache:   cache.New(5*time.Minute, 10*time.Minute),
	}
}

const historyWindow = 20

// Next computes the new price for one symbol for the current tick (spec §4.2).
func (m *Model) Next(in Inputs) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	normal := distuv.Normal{Mu: 0, Sigma: in.Volatility, Src: m.src}
	randomWalk := normal.Rand()

	agentPressure := in.AgentPressureBeta * m.momentum(in.Symbol, in.NetSignedQuantity)

	eventImpact := 0.0
	for _, e := range in.ActiveEvents {
		if e.Symbol == in.Symbol {
			eventImpact += e.decayedImpact()
		}
	}

	logReturn := randomWalk + agentPressure + in.SectorFactor + eventImpact + in.SentimentImpact

	if in.MaxTickMove > 0 {
		if logReturn > in.MaxTickMove {
			logReturn = in.MaxTickMove
		}
		if logReturn < -in.MaxTickMove {
			logReturn = -in.MaxTickMove
		}
	}

	newPrice := in.PreviousPrice * math.Exp(logReturn)
	if newPrice < in.FloorPrice {
		newPrice = in.FloorPrice
	}

	m.recordHistory(in.Symbol, newPrice)
	m.cache.Set(in.Symbol, newPrice, cache.DefaultExpiration)
	return newPrice
}

// momentum smooths the net signed trade quantity against the symbol's recent price history
// using an exponential moving average (go-talib.Ema), so a single noisy tick does not whipsaw
// agentPressure.
func (m *Model) momentum(symbol string, netSignedQuantity float64) float64 {
	hist := m.history[symbol]
	if len(hist) < 2 {
		return netSignedQuantity
	}
	ema := talib.Ema(hist, min(len(hist), 5))
	if len(ema) == 0 {
		return netSignedQuantity
	}
	last := ema[len(ema)-1]
	if last == 0 || math.IsNaN(last) {
		return netSignedQuantity
	}
	// Scale the raw pressure by how far the recent EMA has drifted, damping runaway
	// pressure when the market has already absorbed the move.
	base := hist[len(hist)-1]
	if base == 0 {
		return netSignedQuantity
	}
	drift := (base - last) / base
	return netSignedQuantity * (1 + drift)
}

func (m *Model) recordHistory(symbol string, price float64) {
	hist := append(m.history[symbol], price)
	if len(hist) > historyWindow {
		hist = hist[len(hist)-historyWindow:]
	}
	m.history[symbol] = hist
}

// CachedPrice returns the last computed price for symbol, if present in the fast-read cache.
func (m *Model) CachedPrice(symbol string) (float64, bool) {
	v, ok := m.cache.Get(symbol)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
