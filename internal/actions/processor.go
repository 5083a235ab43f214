// Package actions validates and applies the action lists returned by participant webhooks
// (spec §4.5): trading actions (BUY/SELL/SHORT/COVER/CANCEL_ORDER) and social/compliance
// actions (RUMOR/MESSAGE/ALLY/ALLY_ACCEPT/ALLY_REJECT/BRIBE/WHISTLEBLOW/FLEE).
//
// Grounded on the teacher's internal/api/handlers/order_handler.go for the validator-tag style
// ("required,oneof=...", "required,gt=0") adapted from gin request binding to direct
// validate.Struct calls, since actions here arrive from webhook responses rather than HTTP
// bodies. Action log IDs use github.com/segmentio/ksuid (direct teacher dependency) rather than
// uuid, matching the append-only, time-ordered nature of the log (spec §4.5 "Logging").
package actions

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/errtypes"
	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

// Action type tags (spec §4.5 "Action taxonomy").
const (
	TypeBuy          = "BUY"
	TypeSell         = "SELL"
	TypeShort        = "SHORT"
	TypeCover        = "COVER"
	TypeCancelOrder  = "CANCEL_ORDER"
	TypeRumor        = "RUMOR"
	TypeMessage      = "MESSAGE"
	TypeAlly         = "ALLY"
	TypeAllyAccept   = "ALLY_ACCEPT"
	TypeAllyReject   = "ALLY_REJECT"
	TypeBribe        = "BRIBE"
	TypeWhistleblow  = "WHISTLEBLOW"
	TypeFlee         = "FLEE"
)

// Result is the per-action outcome handed back to the tick pipeline, which publishes it on the
// participant's private orders topic. Results are not carried into the next webhook payload's
// actionResults.
type Result struct {
	Type    string
	Success bool
	Detail  string
}

// tradingPayload is the validated shape of BUY/SELL/SHORT/COVER payloads.
type tradingPayload struct {
	Symbol    string  `validate:"required"`
	Type      string  `validate:"required,oneof=MARKET LIMIT STOP"`
	Quantity  float64 `validate:"required,gt=0"`
	Price     float64 `validate:"omitempty,gt=0"`
	StopPrice float64 `validate:"omitempty,gt=0"`
}

type cancelPayload struct {
	OrderID string `validate:"required"`
}

type rumorPayload struct {
	Headline string   `validate:"required"`
	Content  string   `validate:"omitempty"`
	Symbols  []string `validate:"omitempty"`
}

type messagePayload struct {
	TargetID string `validate:"required"`
	Body     string `validate:"required"`
}

type allyPayload struct {
	TargetID string `validate:"required"`
}

type bribePayload struct {
	TargetID string  `validate:"required"`
	Amount   float64 `validate:"required,gt=0"`
}

type whistleblowPayload struct {
	TargetID string `validate:"required"`
}

// Processor validates, caps, and applies one tick's worth of returned action lists.
type Processor struct {
	store    store.Store
	engine   *matchingengine.Engine
	cfg      *config.Config
	metrics  *metrics.Collector
	logger   *zap.Logger
	validate *validator.Validate
	rng      *rand.Rand
}

// New constructs a Processor against the shared store contract and the live matching engine
// (needed so CANCEL_ORDER can remove an already-resting order from its book, not just flip the
// persisted status).
func New(st store.Store, engine *matchingengine.Engine, cfg *config.Config, mc *metrics.Collector, logger *zap.Logger) *Processor {
	return &Processor{
		store:    st,
		engine:   engine,
		cfg:      cfg,
		metrics:  mc,
		logger:   logger,
		validate: validator.New(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply validates and applies at most the configured cap of requests for one participant during
// one tick (spec §4.5 "cap per participant per tick", §7 "at most the configured cap ... the
// remainder are silently dropped"). It never returns an error: every attempted action — valid or
// not — is captured in the returned []Result and best-effort logged.
func (p *Processor) Apply(ctx context.Context, tick int64, participantID string, requests []webhook.ActionRequest) []Result {
	limit := p.cfg.Actions.MaxPerParticipantPerTick
	if limit <= 0 || limit > len(requests) {
		limit = len(requests)
	}
	dropped := len(requests) - limit
	if dropped > 0 {
		p.logger.Debug("dropping excess actions over per-tick cap",
			zap.String("participant_id", participantID), zap.Int("dropped", dropped))
	}

	results := make([]Result, 0, limit)
	for _, req := range requests[:limit] {
		res := p.applyOne(ctx, tick, participantID, req)
		results = append(results, res)
		outcome := "rejected"
		if res.Success {
			outcome = "applied"
		}
		p.metrics.RecordAction(req.Type, outcome)
		p.appendLog(ctx, tick, participantID, req, res)
	}
	return results
}

func (p *Processor) applyOne(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest) Result {
	switch strings.ToUpper(req.Type) {
	case TypeBuy, TypeSell, TypeShort, TypeCover:
		return p.applyTrade(ctx, tick, participantID, req)
	case TypeCancelOrder:
		return p.applyCancel(ctx, participantID, req)
	case TypeRumor:
		return p.applyRumor(ctx, tick, participantID, req)
	case TypeMessage:
		return p.applyMessage(ctx, participantID, req)
	case TypeAlly:
		return p.applyAllyPropose(ctx, participantID, req)
	case TypeAllyAccept:
		return p.applyAllyRespond(ctx, participantID, req, true)
	case TypeAllyReject:
		return p.applyAllyRespond(ctx, participantID, req, false)
	case TypeBribe:
		return p.applyBribe(ctx, tick, participantID, req)
	case TypeWhistleblow:
		return p.applyWhistleblow(ctx, tick, participantID, req)
	case TypeFlee:
		return p.applyFlee(ctx, tick, participantID, req)
	default:
		return Result{Type: req.Type, Success: false, Detail: errtypes.Validation(fmt.Sprintf("unknown action type %q", req.Type)).Error()}
	}
}

func (p *Processor) appendLog(ctx context.Context, tick int64, participantID string, req webhook.ActionRequest, res Result) {
	entry := &store.ActionLogEntry{
		ID:            ksuid.New().String(),
		Tick:          tick,
		ParticipantID: participantID,
		Type:          req.Type,
		Payload:       req.Payload,
		ResultSnippet: res.Detail,
		Success:       res.Success,
		CreatedAt:     time.Now(),
	}
	if err := p.store.AppendActionLog(ctx, entry); err != nil {
		// Best-effort: action log write failures never block the tick (spec §4.5 "Logging").
		p.logger.Warn("failed to append action log entry",
			zap.String("participant_id", participantID), zap.String("type", req.Type), zap.Error(err))
	}
}

func decodePayload(raw map[string]interface{}, out interface{}) error {
	// Payloads arrive as map[string]interface{} off the wire (webhook.ActionRequest.Payload);
	// the fields we validate are the scalar/slice shapes every action type actually uses, so a
	// narrow manual decode avoids pulling in a reflection-heavy mapstructure round trip here.
	switch v := out.(type) {
	case *tradingPayload:
		v.Symbol, _ = raw["symbol"].(string)
		v.Type, _ = raw["type"].(string)
		v.Quantity = toFloat(raw["quantity"])
		v.Price = toFloat(raw["price"])
		v.StopPrice = toFloat(raw["stopPrice"])
	case *cancelPayload:
		v.OrderID, _ = raw["orderId"].(string)
	case *rumorPayload:
		v.Headline, _ = raw["headline"].(string)
		v.Content, _ = raw["content"].(string)
		v.Symbols = toStringSlice(raw["symbols"])
	case *messagePayload:
		v.TargetID, _ = raw["targetId"].(string)
		v.Body, _ = raw["body"].(string)
	case *allyPayload:
		v.TargetID, _ = raw["targetId"].(string)
	case *bribePayload:
		v.TargetID, _ = raw["targetId"].(string)
		v.Amount = toFloat(raw["amount"])
	case *whistleblowPayload:
		v.TargetID, _ = raw["targetId"].(string)
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func clampReputation(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
