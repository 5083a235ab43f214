package actions

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/errtypes"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

// applyRumor implements RUMOR (spec §4.5): deducts a fixed reputation cost, fails if
// insufficient, and emits a news entry categorized "rumor".
func (p *Processor) applyRumor(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	var pl rumorPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}

	account, err := p.store.GetAccount(ctx, participantID)
	if err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("unknown participant").Error()}
	}
	cost := p.cfg.Actions.RumorReputationCost
	if account.Reputation < cost {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("insufficient reputation").Error()}
	}

	account.Reputation = clampReputation(account.Reputation-cost, p.cfg.Actions.ReputationMin, p.cfg.Actions.ReputationMax)
	if err := p.store.SaveAccount(ctx, account); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save account", err, false).Error()}
	}

	news := &store.NewsItem{
		ID:        ksuid.New().String(),
		Tick:      tick,
		Headline:  pl.Headline,
		Content:   pl.Content,
		Category:  store.NewsRumor,
		AgentIDs:  []string{participantID},
		Symbols:   pl.Symbols,
		CreatedAt: time.Now(),
	}
	if err := p.store.SaveNews(ctx, news); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save news", err, false).Error()}
	}
	return Result{Type: req.Type, Success: true, Detail: news.ID}
}

// applyMessage implements MESSAGE (spec §4.5): target must exist and be active, caller cannot
// message self, persisted into the direct channel.
func (p *Processor) applyMessage(ctx context.Context, participantID string, req webhook.ActionRequest) Result {
	var pl messagePayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}
	if pl.TargetID == participantID {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("cannot message self").Error()}
	}

	target, err := p.store.GetAccount(ctx, pl.TargetID)
	if err != nil || target.Status != store.AccountActive {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("target does not exist or is not active").Error()}
	}

	msg := &store.Message{
		ID:        ksuid.New().String(),
		FromID:    participantID,
		ToID:      pl.TargetID,
		Body:      pl.Body,
		CreatedAt: time.Now(),
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save message", err, false).Error()}
	}
	return Result{Type: req.Type, Success: true, Detail: msg.ID}
}

// applyAllyPropose implements ALLY (spec §4.5): creates a pending alliance record between the
// caller and target, notifying the target via a message.
func (p *Processor) applyAllyPropose(ctx context.Context, participantID string, req webhook.ActionRequest) Result {
	var pl allyPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}
	if pl.TargetID == participantID {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("cannot ally with self").Error()}
	}

	target, err := p.store.GetAccount(ctx, pl.TargetID)
	if err != nil || target.Status != store.AccountActive {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("target does not exist or is not active").Error()}
	}

	if existing, err := p.store.AllianceBetween(ctx, participantID, pl.TargetID); err == nil && existing != nil && existing.Status != store.AllianceDissolved {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("alliance already proposed or active").Error()}
	}

	now := time.Now()
	alliance := &store.Alliance{
		ID:         ksuid.New().String(),
		ProposerID: participantID,
		TargetID:   pl.TargetID,
		Status:     store.AllianceProposed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.SaveAlliance(ctx, alliance); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save alliance", err, false).Error()}
	}
	p.notify(ctx, participantID, pl.TargetID, "proposed an alliance")
	return Result{Type: req.Type, Success: true, Detail: alliance.ID}
}

// applyAllyRespond implements ALLY_ACCEPT/ALLY_REJECT (spec §4.5): accept binds both agents
// into one active alliance; reject dissolves it. Either way the proposer is notified.
func (p *Processor) applyAllyRespond(ctx context.Context, participantID string, req webhook.ActionRequest, accept bool) Result {
	var pl allyPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}

	alliance, err := p.store.AllianceBetween(ctx, participantID, pl.TargetID)
	if err != nil || alliance == nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("no pending alliance proposal").Error()}
	}
	if alliance.Status != store.AllianceProposed || alliance.TargetID != participantID {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("no pending alliance proposal from target").Error()}
	}

	if accept {
		alliance.Status = store.AllianceActive
	} else {
		alliance.Status = store.AllianceDissolved
	}
	alliance.UpdatedAt = time.Now()
	if err := p.store.SaveAlliance(ctx, alliance); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save alliance", err, false).Error()}
	}

	verb := "accepted"
	if !accept {
		verb = "rejected"
	}
	p.notify(ctx, participantID, alliance.ProposerID, "your alliance proposal was "+verb)
	return Result{Type: req.Type, Success: true, Detail: alliance.ID}
}

func (p *Processor) notify(ctx context.Context, fromID, toID, body string) {
	msg := &store.Message{
		ID:        ksuid.New().String(),
		FromID:    fromID,
		ToID:      toID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.logger.Warn("failed to deliver alliance notification", zap.Error(err))
	}
}
