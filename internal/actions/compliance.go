package actions

import (
	"context"
	"math"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"

	"github.com/abdoElHodaky/tradSys/internal/errtypes"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

// applyBribe implements BRIBE (spec §4.5): target must be an active SEC-role participant,
// amount must meet the configured minimum, caller must have sufficient cash. Detection
// probability increases monotonically with amount and target reputation; on detection, a
// bribery investigation is opened against the caller.
func (p *Processor) applyBribe(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	var pl bribePayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}
	if pl.Amount < p.cfg.Actions.BribeMinimumAmount {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("amount below configured minimum").Error()}
	}

	target, err := p.store.GetAccount(ctx, pl.TargetID)
	if err != nil || target.Status != store.AccountActive || target.Role != store.RoleSEC {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("target is not an active SEC-role participant").Error()}
	}

	caller, err := p.store.GetAccount(ctx, participantID)
	if err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("unknown participant").Error()}
	}
	amount := decimal.NewFromFloat(pl.Amount)
	if caller.Cash.LessThan(amount) {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("insufficient cash").Error()}
	}

	caller.Cash = caller.Cash.Sub(amount)
	if err := p.store.SaveAccount(ctx, caller); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save account", err, false).Error()}
	}

	// Detection probability rises with bribe size and target reputation (spec §4.5): a larger
	// bribe is harder to conceal, and a more reputable SEC target is harder to corrupt quietly.
	detectionProb := p.cfg.Actions.BribeDetectionBase +
		(pl.Amount/(pl.Amount+p.cfg.Actions.BribeMinimumAmount))*0.3 +
		(float64(target.Reputation)/100.0)*0.2
	detectionProb = math.Min(detectionProb, 0.95)

	if p.rng.Float64() < detectionProb {
		inv := &store.Investigation{
			ID:         ksuid.New().String(),
			Type:       store.InvestigationBribery,
			TargetID:   participantID,
			Status:     store.InvestigationOpen,
			OpenedTick: tick,
			CreatedAt:  time.Now(),
		}
		if err := p.store.SaveInvestigation(ctx, inv); err != nil {
			return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save investigation", err, false).Error()}
		}
		return Result{Type: req.Type, Success: true, Detail: "bribe detected; investigation opened"}
	}
	return Result{Type: req.Type, Success: true, Detail: "bribe undetected"}
}

// applyWhistleblow implements WHISTLEBLOW (spec §4.5): opens a whistleblower_report
// investigation against the target and adjusts the caller's reputation within bounds.
func (p *Processor) applyWhistleblow(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	var pl whistleblowPayload
	_ = decodePayload(req.Payload, &pl)
	if err := p.validate.Struct(&pl); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(err.Error()).Error()}
	}
	if pl.TargetID == participantID {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("cannot whistleblow on self").Error()}
	}

	target, err := p.store.GetAccount(ctx, pl.TargetID)
	if err != nil || target.Status != store.AccountActive {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("target does not exist or is not active").Error()}
	}

	inv := &store.Investigation{
		ID:         ksuid.New().String(),
		Type:       store.InvestigationWhistleblower,
		TargetID:   pl.TargetID,
		ReporterID: participantID,
		Status:     store.InvestigationOpen,
		OpenedTick: tick,
		CreatedAt:  time.Now(),
	}
	if err := p.store.SaveInvestigation(ctx, inv); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save investigation", err, false).Error()}
	}

	caller, err := p.store.GetAccount(ctx, participantID)
	if err == nil {
		caller.Reputation = clampReputation(caller.Reputation+p.cfg.Actions.WhistleblowReputationAdj, p.cfg.Actions.ReputationMin, p.cfg.Actions.ReputationMax)
		_ = p.store.SaveAccount(ctx, caller)
	}
	return Result{Type: req.Type, Success: true, Detail: inv.ID}
}

// applyFlee implements FLEE (spec §4.5): requires an open investigation against the caller.
// Escape probability increases with cash; on success the participant status becomes fled, on
// failure it becomes imprisoned and the investigation resolves convicted with a fixed sentence.
func (p *Processor) applyFlee(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	inv, err := p.store.OpenInvestigationAgainst(ctx, participantID)
	if err != nil || inv == nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Policy("no open investigation against caller").Error()}
	}

	caller, err := p.store.GetAccount(ctx, participantID)
	if err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation("unknown participant").Error()}
	}

	// Escape probability rises with cash on hand but never guarantees success (spec §4.5).
	cashFactor, _ := caller.Cash.Div(caller.Cash.Add(decimal.NewFromInt(1_000_000))).Float64()
	escapeProb := math.Min(p.cfg.Actions.FleeBaseEscapeProb+cashFactor*0.5, 0.9)

	if p.rng.Float64() < escapeProb {
		caller.Status = store.AccountFled
		if err := p.store.SaveAccount(ctx, caller); err != nil {
			return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save account", err, false).Error()}
		}
		return Result{Type: req.Type, Success: true, Detail: "escaped"}
	}

	caller.Status = store.AccountImprisoned
	if err := p.store.SaveAccount(ctx, caller); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save account", err, false).Error()}
	}
	inv.Status = store.InvestigationConvicted
	inv.Sentence = p.cfg.Actions.FleeSentence
	inv.HasResolved = true
	inv.ResolvedTick = tick
	if err := p.store.SaveInvestigation(ctx, inv); err != nil {
		return Result{Type: req.Type, Success: false, Detail: errtypes.Storage("failed to save investigation", err, false).Error()}
	}
	return Result{Type: req.Type, Success: true, Detail: "captured and imprisoned"}
}
