// Package memstore is an in-memory implementation of store.Store. It exists only to make
// the engine runnable and testable standalone, standing in for the real transactional store
// spec §1 places out of scope (persistence implementation is an explicit Non-goal).
package memstore

import (
	"context"
	"sync"

	"github.com/abdoElHodaky/tradSys/internal/store"
)

// Store is a mutex-guarded in-memory store.Store implementation.
type Store struct {
	mu             sync.RWMutex
	orders         map[string]*store.Order
	trades         []*store.Trade
	holdings       map[string]*store.Holding // key: participantID+"|"+symbol
	accounts       map[string]*store.ParticipantAccount
	world          *store.WorldState
	prices         map[string]float64
	news           []*store.NewsItem
	messages       map[string][]*store.Message // key: participantID
	alliances      map[string]*store.Alliance
	investigations map[string]*store.Investigation
	actionLog      []*store.ActionLogEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		orders:         make(map[string]*store.Order),
		holdings:       make(map[string]*store.Holding),
		accounts:       make(map[string]*store.ParticipantAccount),
		world:          &store.WorldState{Regime: store.RegimeNormal, MarketOpen: true},
		prices:         make(map[string]float64),
		messages:       make(map[string][]*store.Message),
		alliances:      make(map[string]*store.Alliance),
		investigations: make(map[string]*store.Investigation),
	}
}

func holdingKey(participantID, symbol string) string { return participantID + "|" + symbol }

// --- OrderStore ---

func (s *Store) SaveOrder(_ context.Context, o *store.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) PendingOrdersBySymbol(_ context.Context, symbol string) ([]*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Order
	for _, o := range s.orders {
		if o.Symbol == symbol && (o.Status == store.OrderStatusPending) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) SymbolsWithPendingOrders(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range s.orders {
		if o.Status == store.OrderStatusPending && !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	return out, nil
}

func (s *Store) OrdersByParticipant(_ context.Context, participantID string, nonTerminalOnly bool) ([]*store.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Order
	for _, o := range s.orders {
		if o.ParticipantID != participantID {
			continue
		}
		if nonTerminalOnly && o.Status.IsTerminal() {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// --- TradeStore ---

func (s *Store) SaveTrade(_ context.Context, t *store.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades = append(s.trades, &cp)
	return nil
}

func (s *Store) RecentTrades(_ context.Context, limit int) ([]*store.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*store.Trade, limit)
	copy(out, s.trades[n-limit:])
	return out, nil
}

func (s *Store) TradesForParticipant(_ context.Context, participantID string, limit int) ([]*store.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Trade
	for i := len(s.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		t := s.trades[i]
		if t.BuyerID == participantID || t.SellerID == participantID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- HoldingStore ---

func (s *Store) GetHolding(_ context.Context, participantID, symbol string) (*store.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[holdingKey(participantID, symbol)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) SaveHolding(_ context.Context, h *store.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.holdings[holdingKey(h.ParticipantID, h.Symbol)] = &cp
	return nil
}

func (s *Store) DeleteHolding(_ context.Context, participantID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holdings, holdingKey(participantID, symbol))
	return nil
}

func (s *Store) HoldingsByParticipant(_ context.Context, participantID string) ([]*store.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Holding
	for _, h := range s.holdings {
		if h.ParticipantID == participantID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- AccountStore ---

func (s *Store) GetAccount(_ context.Context, participantID string) (*store.ParticipantAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[participantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SaveAccount(_ context.Context, a *store.ParticipantAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) AllAccounts(_ context.Context) ([]*store.ParticipantAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.ParticipantAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// --- WorldStore ---

func (s *Store) GetWorldState(_ context.Context) (*store.WorldState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.world
	return &cp, nil
}

func (s *Store) SaveWorldState(_ context.Context, w *store.WorldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.world = &cp
	return nil
}

func (s *Store) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok {
		return 0, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) SavePrice(_ context.Context, symbol string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	return nil
}

func (s *Store) AllSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	return out, nil
}

// --- NewsStore ---

func (s *Store) SaveNews(_ context.Context, n *store.NewsItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.news = append(s.news, &cp)
	return nil
}

func (s *Store) RecentNews(_ context.Context, limit int) ([]*store.NewsItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.news)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*store.NewsItem, limit)
	copy(out, s.news[n-limit:])
	return out, nil
}

// --- MessageStore ---

func (s *Store) SaveMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ToID] = append(s.messages[m.ToID], &cp)
	s.messages[m.FromID] = append(s.messages[m.FromID], &cp)
	return nil
}

func (s *Store) MessagesForParticipant(_ context.Context, participantID string, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[participantID]
	n := len(msgs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*store.Message, limit)
	copy(out, msgs[n-limit:])
	return out, nil
}

// --- AllianceStore ---

func (s *Store) SaveAlliance(_ context.Context, a *store.Alliance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alliances[a.ID] = &cp
	return nil
}

func (s *Store) AllianceBetween(_ context.Context, a, b string) (*store.Alliance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, al := range s.alliances {
		if (al.ProposerID == a && al.TargetID == b) || (al.ProposerID == b && al.TargetID == a) {
			if al.Status == store.AllianceDissolved {
				continue
			}
			cp := *al
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetAlliance(_ context.Context, id string) (*store.Alliance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alliances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// --- InvestigationStore ---

func (s *Store) SaveInvestigation(_ context.Context, i *store.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.investigations[i.ID] = &cp
	return nil
}

func (s *Store) OpenInvestigationAgainst(_ context.Context, targetID string) (*store.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.investigations {
		if inv.TargetID == targetID && inv.Status == store.InvestigationOpen {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetInvestigation(_ context.Context, id string) (*store.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.investigations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

// --- ActionLogStore ---

func (s *Store) AppendActionLog(_ context.Context, e *store.ActionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.actionLog = append(s.actionLog, &cp)
	return nil
}

var _ store.Store = (*Store)(nil)
