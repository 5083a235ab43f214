package matchingengine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/store"
)

// Engine owns one Book per symbol and is the entry point tickengine calls into.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*Book
	bounds Bounds
	logger *zap.Logger
}

// NewEngine constructs an empty multi-symbol matching engine.
func NewEngine(bounds Bounds, logger *zap.Logger) *Engine {
	return &Engine{
		books:  make(map[string]*Book),
		bounds: bounds,
		logger: logger,
	}
}

// BookFor returns the book for symbol, creating it on first use.
func (e *Engine) BookFor(symbol string) *Book {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[symbol]; ok {
		return b
	}
	b = NewBook(symbol, e.bounds, e.logger)
	e.books[symbol] = b
	return b
}

// SeedLiquidity rests market-maker orders directly onto symbol's book, bypassing the matching
// loop entirely (spec §9 "market-maker seed liquidity ... optional deployment-time bootstrapping
// outside the core contract"). It never prints a trade; it only gives an otherwise-empty book
// resting supply/demand to match against. Callers (deployment tooling, tests) are responsible
// for each order's ID/participant/price already being valid.
func (e *Engine) SeedLiquidity(symbol string, orders []*store.Order) {
	book := e.BookFor(symbol)
	for _, o := range orders {
		book.Seed(o)
	}
}

// Symbols returns every symbol with a book, in no particular order.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}
