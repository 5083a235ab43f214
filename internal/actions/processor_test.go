package actions

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/store/memstore"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Actions.MaxPerParticipantPerTick = 10
	cfg.Actions.RumorReputationCost = 5
	cfg.Actions.BribeMinimumAmount = 1000
	cfg.Actions.BribeDetectionBase = 0.05
	cfg.Actions.WhistleblowReputationAdj = 10
	cfg.Actions.ReputationMin = 0
	cfg.Actions.ReputationMax = 100
	cfg.Actions.FleeBaseEscapeProb = 0.1
	cfg.Actions.FleeSentence = "10 ticks"
	return cfg
}

func newTestProcessor(t *testing.T) (*Processor, store.Store) {
	t.Helper()
	st := memstore.New()
	bounds := matchingengine.Bounds{
		MinPrice:       decimal.NewFromFloat(0.01),
		MaxPrice:       decimal.NewFromFloat(1_000_000),
		MaxQuantity:    decimal.NewFromFloat(1_000_000),
		AllowSelfTrade: true,
	}
	engine := matchingengine.NewEngine(bounds, zap.NewNop())
	p := New(st, engine, testConfig(), metrics.New(), zap.NewNop())
	return p, st
}

func seedAccount(t *testing.T, st store.Store, id string, cash float64, status store.AccountStatus, role store.Role) {
	t.Helper()
	err := st.SaveAccount(context.Background(), &store.ParticipantAccount{
		ID:     id,
		Cash:   decimal.NewFromFloat(cash),
		Status: status,
		Role:   role,
	})
	require.NoError(t, err)
}

func TestApply_BuyCreatesPendingOrder(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 10000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeBuy, Payload: map[string]interface{}{"symbol": "acme", "type": "LIMIT", "quantity": 10.0, "price": 50.0}},
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	orders, err := st.OrdersByParticipant(context.Background(), "alice", true)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ACME", orders[0].Symbol)
	assert.Equal(t, store.SideBuy, orders[0].Side)
	assert.Equal(t, store.OrderStatusPending, orders[0].Status)
}

func TestApply_BuyRejectsZeroQuantity(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 10000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeBuy, Payload: map[string]interface{}{"symbol": "ACME", "type": "LIMIT", "quantity": 0.0, "price": 50.0}},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApply_CancelOrderRequiresOwnership(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 10000, store.AccountActive, store.RoleTrader)
	seedAccount(t, st, "bob", 10000, store.AccountActive, store.RoleTrader)

	order := &store.Order{
		ID:            "order-1",
		ParticipantID: "alice",
		Symbol:        "ACME",
		Side:          store.SideBuy,
		Type:          store.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		LimitPrice:    decimal.NewFromInt(50),
		HasLimitPrice: true,
		Status:        store.OrderStatusOpen,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, st.SaveOrder(context.Background(), order))

	results := p.Apply(context.Background(), 2, "bob", []webhook.ActionRequest{
		{Type: TypeCancelOrder, Payload: map[string]interface{}{"orderId": "order-1"}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	results = p.Apply(context.Background(), 2, "alice", []webhook.ActionRequest{
		{Type: TypeCancelOrder, Payload: map[string]interface{}{"orderId": "order-1"}},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	got, err := st.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, store.OrderStatusCancelled, got.Status)
}

func TestApply_RumorDeductsReputationAndEmitsNews(t *testing.T) {
	p, st := newTestProcessor(t)
	require.NoError(t, st.SaveAccount(context.Background(), &store.ParticipantAccount{
		ID: "alice", Cash: decimal.NewFromInt(1000), Status: store.AccountActive, Reputation: 20,
	}))

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeRumor, Payload: map[string]interface{}{"headline": "ACME is doomed", "symbols": []interface{}{"ACME"}}},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	account, err := st.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 15, account.Reputation)

	news, err := st.RecentNews(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, store.NewsRumor, news[0].Category)
}

func TestApply_RumorFailsWhenReputationInsufficient(t *testing.T) {
	p, st := newTestProcessor(t)
	require.NoError(t, st.SaveAccount(context.Background(), &store.ParticipantAccount{
		ID: "alice", Status: store.AccountActive, Reputation: 1,
	}))

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeRumor, Payload: map[string]interface{}{"headline": "ACME is doomed"}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApply_MessageCannotTargetSelf(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 1000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeMessage, Payload: map[string]interface{}{"targetId": "alice", "body": "hi"}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApply_AllyProposeAcceptCreatesActiveAlliance(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 1000, store.AccountActive, store.RoleTrader)
	seedAccount(t, st, "bob", 1000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeAlly, Payload: map[string]interface{}{"targetId": "bob"}},
	})
	require.Len(t, results, 1)
	require.True(t, results[0].Success)

	results = p.Apply(context.Background(), 2, "bob", []webhook.ActionRequest{
		{Type: TypeAllyAccept, Payload: map[string]interface{}{"targetId": "alice"}},
	})
	require.Len(t, results, 1)
	require.True(t, results[0].Success)

	alliance, err := st.AllianceBetween(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, alliance)
	assert.Equal(t, store.AllianceActive, alliance.Status)
}

func TestApply_BribeRequiresActiveSECTarget(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 100000, store.AccountActive, store.RoleTrader)
	seedAccount(t, st, "bob", 1000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeBribe, Payload: map[string]interface{}{"targetId": "bob", "amount": 5000.0}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApply_BribeDeductsCashFromCaller(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 100000, store.AccountActive, store.RoleTrader)
	seedAccount(t, st, "regulator", 1000, store.AccountActive, store.RoleSEC)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeBribe, Payload: map[string]interface{}{"targetId": "regulator", "amount": 5000.0}},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	account, err := st.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, account.Cash.Equal(decimal.NewFromInt(95000)))
}

func TestApply_WhistleblowOpensInvestigationAndRaisesReputation(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 1000, store.AccountActive, store.RoleTrader)
	require.NoError(t, st.SaveAccount(context.Background(), &store.ParticipantAccount{
		ID: "bob", Status: store.AccountActive, Reputation: 10,
	}))

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeWhistleblow, Payload: map[string]interface{}{"targetId": "bob"}},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	inv, err := st.OpenInvestigationAgainst(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, store.InvestigationWhistleblower, inv.Type)

	caller, err := st.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, caller.Reputation)
}

func TestApply_FleeRequiresOpenInvestigation(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 1000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: TypeFlee, Payload: map[string]interface{}{}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestApply_DropsActionsOverPerTickCap(t *testing.T) {
	p, st := newTestProcessor(t)
	p.cfg.Actions.MaxPerParticipantPerTick = 2
	seedAccount(t, st, "alice", 10000, store.AccountActive, store.RoleTrader)

	requests := make([]webhook.ActionRequest, 5)
	for i := range requests {
		requests[i] = webhook.ActionRequest{Type: TypeBuy, Payload: map[string]interface{}{"symbol": "ACME", "type": "LIMIT", "quantity": 1.0, "price": 10.0}}
	}

	results := p.Apply(context.Background(), 1, "alice", requests)
	assert.Len(t, results, 2)
}

func TestApply_UnknownActionTypeRejected(t *testing.T) {
	p, st := newTestProcessor(t)
	seedAccount(t, st, "alice", 1000, store.AccountActive, store.RoleTrader)

	results := p.Apply(context.Background(), 1, "alice", []webhook.ActionRequest{
		{Type: "TELEPORT", Payload: map[string]interface{}{}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}
