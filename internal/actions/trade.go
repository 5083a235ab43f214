package actions

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"

	"github.com/abdoElHodaky/tradSys/internal/errtypes"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

// applyTrade implements BUY/SELL/SHORT/COVER (spec §4.5 "Trading semantics"): BUY/COVER map to
// side BUY, SELL/SHORT map to side SELL. The resulting order is created in status pending with
// tickSubmitted set to the current tick; matching happens in the matching pass of the next tick
// (spec §4.3 "a returned action submitted in response to tick N never enters the book earlier
// than the matching pass of tick N+1"), not here — this stage only validates and persists.
func (p *Processor) applyTrade(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	var pl tradingPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}

	account, err := p.store.GetAccount(ctx, participantID)
	if err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("unknown participant").Error()}
	}
	if account.Status != store.AccountActive {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("participant is not active").Error()}
	}

	order := &store.Order{
		ID:            ksuid.New().String(),
		ParticipantID: participantID,
		Symbol:        strings.ToUpper(pl.Symbol),
		Quantity:      decimal.NewFromFloat(pl.Quantity),
		Status:        store.OrderStatusPending,
		TickSubmitted: tick,
		CreatedAt:     time.Now(),
	}

	switch strings.ToUpper(req.Type) {
	case TypeBuy, TypeCover:
		order.Side = store.SideBuy
	case TypeSell, TypeShort:
		order.Side = store.SideSell
	}

	switch strings.ToUpper(pl.Type) {
	case string(store.OrderTypeMarket):
		order.Type = store.OrderTypeMarket
	case string(store.OrderTypeLimit):
		order.Type = store.OrderTypeLimit
		order.LimitPrice = decimal.NewFromFloat(pl.Price)
		order.HasLimitPrice = true
	case string(store.OrderTypeStop):
		order.Type = store.OrderTypeStop
		order.StopPrice = decimal.NewFromFloat(pl.StopPrice)
		order.HasStopPrice = true
		if pl.Price > 0 {
			order.LimitPrice = decimal.NewFromFloat(pl.Price)
			order.HasLimitPrice = true
		}
	default:
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("unknown order type").Error()}
	}

	if order.Quantity.Sign() <= 0 {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("quantity must be positive").Error()}
	}
	if order.Type != store.OrderTypeMarket && !order.HasLimitPrice && !order.HasStopPrice {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("missing price").Error()}
	}

	if err := p.store.SaveOrder(ctx, order); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save order", err, false).Error()}
	}
	return Result{Type: req.Type, Success: true, Detail: order.ID}
}

// applyCancel implements CANCEL_ORDER (spec §4.5): succeeds only when the order exists, belongs
// to the caller, and is in a non-terminal, cancellable state. The order is removed from its
// symbol's book (resting ladder or stop list) and its persisted status is set to cancelled.
func (p *Processor) applyCancel(ctx context.Context, participantID string, req webhook.ActionRequest) Result {
	var pl cancelPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}

	order, err := p.store.GetOrder(ctx, pl.OrderID)
	if err != nil || order == nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("order not found").Error()}
	}
	if order.ParticipantID != participantID {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("order not owned").Error()}
	}

	// Book.Cancel matches resting orders by ID, so a store-loaded copy works even though the
	// book may be holding a different pointer for the same order (spec §4.1 cancel).
	if err := p.engine.BookFor(order.Symbol).Cancel(order); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("order is not cancellable").Error()}
	}
	if err := p.store.SaveOrder(ctx, order); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save order", err, false).Error()}
	}
	return Result{Type: req.Type, Success: true, Detail: order.ID}
}
