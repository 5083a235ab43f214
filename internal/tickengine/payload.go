package tickengine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/actions"
	"github.com/abdoElHodaky/tradSys/internal/money"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

const (
	recentTradesPerParticipant = 20
	recentNewsLimit            = 10
)

// dispatchAndIngest is steps 6 and 7 of the pipeline (spec §4.3, §4.4, §4.5): it assembles one
// webhook.Payload per participant with a registered endpoint, dispatches them all in parallel,
// applies the returned accounting update to each account, hands the returned action lists to the
// actions processor for the *next* tick's matching pass, and publishes each participant's action
// results on its private orders topic.
func (e *Engine) dispatchAndIngest(ctx context.Context, tick int64, world *store.WorldState, prices []priceUpdate) {
	accounts, err := e.store.AllAccounts(ctx)
	if err != nil {
		e.logger.Error("failed to list accounts for webhook dispatch", zap.Error(err))
		return
	}

	priceBySymbol := make(map[string]float64, len(prices))
	for _, pu := range prices {
		priceBySymbol[pu.Symbol] = pu.New
	}

	var recipients []webhook.Recipient
	for _, a := range accounts {
		if a.WebhookURL == "" || a.Status != store.AccountActive {
			continue
		}
		recipients = append(recipients, webhook.Recipient{
			ParticipantID: a.ID,
			URL:           a.WebhookURL,
			Secret:        a.WebhookSecret,
		})
	}
	if len(recipients) == 0 {
		return
	}

	outcomes := e.dispatcher.DispatchAll(ctx, recipients, func(participantID string) (*webhook.Payload, error) {
		return e.buildPayload(ctx, tick, world, participantID, priceBySymbol)
	})

	for _, o := range outcomes {
		e.metrics.RecordWebhookOutcome(o.ParticipantID, webhookOutcomeLabel(o), time.Duration(o.ResponseTimeMS)*time.Millisecond)
		e.applyAccounting(ctx, o)

		if o.Success && len(o.Actions) > 0 {
			results := e.actionsP.Apply(ctx, tick, o.ParticipantID, o.Actions)
			e.publishPrivate(ctx, "orders", o.ParticipantID, struct {
				Type          string             `json:"type"`
				Tick          int64              `json:"tick"`
				ActionResults []actionResultView `json:"actionResults"`
			}{"ACTION_RESULTS", tick, toActionResultViews(results)})
		}
	}
}

func webhookOutcomeLabel(o webhook.Outcome) string {
	switch {
	case o.CircuitBreakerSkipped:
		return "circuit_open"
	case o.Success:
		return "success"
	default:
		return "failure"
	}
}

func (e *Engine) applyAccounting(ctx context.Context, o webhook.Outcome) {
	update := webhook.AccountingFor(o)
	if update.ParticipantID == "" {
		return
	}
	account, err := e.store.GetAccount(ctx, update.ParticipantID)
	if err != nil {
		e.logger.Error("failed to load account for webhook accounting", zap.String("participant_id", update.ParticipantID), zap.Error(err))
		return
	}
	if update.ClearError {
		account.LastWebhookError = ""
	} else if update.LastWebhookError != "" {
		account.LastWebhookError = update.LastWebhookError
	}
	if !update.LastWebhookSuccessAt.IsZero() {
		account.LastWebhookSuccessAt = update.LastWebhookSuccessAt
	}
	if update.ResetFailures {
		account.WebhookFailures = 0
	}
	if update.IncrementFailures {
		account.WebhookFailures++
	}
	if err := e.store.SaveAccount(ctx, account); err != nil {
		e.logger.Error("failed to save webhook accounting update", zap.String("participant_id", update.ParticipantID), zap.Error(err))
	}
}

type actionResultView struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

func toActionResultViews(results []actions.Result) []actionResultView {
	views := make([]actionResultView, len(results))
	for i, r := range results {
		views[i] = actionResultView{Type: r.Type, Success: r.Success, Detail: r.Detail}
	}
	return views
}

// buildPayload assembles one participant's full tick payload (spec §6).
func (e *Engine) buildPayload(ctx context.Context, tick int64, world *store.WorldState, participantID string, priceBySymbol map[string]float64) (*webhook.Payload, error) {
	account, err := e.store.GetAccount(ctx, participantID)
	if err != nil {
		return nil, err
	}

	holdings, err := e.store.HoldingsByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	positions := make([]webhook.PositionView, 0, len(holdings))
	qtyBySymbol := make(map[string]decimal.Decimal, len(holdings))
	priceDecimalBySymbol := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		current, ok := priceBySymbol[h.Symbol]
		if !ok {
			current, _ = e.prices.CachedPrice(h.Symbol)
		}
		currentPrice := decimal.NewFromFloat(current)
		positions = append(positions, webhook.PositionView{
			Symbol:               h.Symbol,
			Shares:               h.Quantity,
			AverageCost:          h.AverageCost,
			CurrentPrice:         currentPrice,
			MarketValue:          h.Quantity.Mul(currentPrice),
			UnrealizedPnL:        money.UnrealizedPnL(h.Quantity, h.AverageCost, currentPrice),
			UnrealizedPnLPercent: money.UnrealizedPnLPercent(h.Quantity, h.AverageCost, currentPrice),
		})
		qtyBySymbol[h.Symbol] = h.Quantity
		priceDecimalBySymbol[h.Symbol] = currentPrice
	}
	netWorth := money.NetWorth(account.Cash, qtyBySymbol, priceDecimalBySymbol)

	orders, err := e.store.OrdersByParticipant(ctx, participantID, true)
	if err != nil {
		return nil, err
	}
	orderViews := make([]webhook.OrderView, 0, len(orders))
	for _, o := range orders {
		orderViews = append(orderViews, toOrderView(o))
	}

	trades, err := e.store.TradesForParticipant(ctx, participantID, recentTradesPerParticipant)
	if err != nil {
		return nil, err
	}
	tradeViews := make([]webhook.TradeView, 0, len(trades))
	for _, t := range trades {
		side := "BUY"
		if t.SellerID == participantID {
			side = "SELL"
		}
		tradeViews = append(tradeViews, webhook.TradeView{
			ID: t.ID, Tick: t.Tick, Symbol: t.Symbol, Side: side, Price: t.Price, Quantity: t.Quantity,
		})
	}

	news, err := e.store.RecentNews(ctx, recentNewsLimit)
	if err != nil {
		return nil, err
	}
	newsViews := make([]webhook.NewsView, 0, len(news))
	for _, n := range news {
		newsViews = append(newsViews, webhook.NewsView{
			ID: n.ID, Tick: n.Tick, Headline: n.Headline, Content: n.Content,
			Category: string(n.Category), Sentiment: n.Sentiment, AgentIDs: n.AgentIDs,
			Symbols: n.Symbols, CreatedAt: n.CreatedAt, IsBreaking: n.IsBreaking,
		})
	}

	payload := &webhook.Payload{
		Tick:      tick,
		Timestamp: time.Now(),
		Portfolio: webhook.PortfolioView{
			AgentID:         participantID,
			Cash:            account.Cash,
			MarginUsed:      account.MarginUsed,
			MarginAvailable: money.MarginAvailable(account.MarginLimit, account.MarginUsed),
			NetWorth:        netWorth,
			Positions:       positions,
		},
		Orders: orderViews,
		Market: webhook.MarketView{
			Indices:      []webhook.IndexView{},
			Watchlist:    []webhook.WatchlistQuote{},
			RecentTrades: tradeViews,
		},
		World: webhook.WorldView{
			CurrentTick:   world.CurrentTick,
			MarketOpen:    world.MarketOpen,
			InterestRate:  world.InterestRate,
			InflationRate: world.InflationRate,
			GDPGrowth:     world.GDPGrowth,
			Regime:        string(world.Regime),
			LastTickAt:    world.LastTickAt,
		},
		News:           newsViews,
		Messages:       []interface{}{},
		Alerts:         []interface{}{},
		Investigations: []interface{}{},
	}
	return payload, nil
}

func toOrderView(o *store.Order) webhook.OrderView {
	v := webhook.OrderView{
		ID: o.ID, AgentID: o.ParticipantID, Symbol: o.Symbol,
		Side: string(o.Side), Type: string(o.Type), Quantity: o.Quantity,
		Status: string(o.Status), FilledQuantity: o.FilledQuantity,
		TickSubmitted: o.TickSubmitted, CreatedAt: o.CreatedAt,
	}
	if o.HasLimitPrice {
		p := o.LimitPrice
		v.Price = &p
	}
	if o.HasStopPrice {
		p := o.StopPrice
		v.StopPrice = &p
	}
	if o.FilledQuantity.IsPositive() {
		p := o.AvgFillPrice
		v.AvgFillPrice = &p
	}
	if o.HasTickFilled {
		t := o.TickFilled
		v.TickFilled = &t
	}
	return v
}
