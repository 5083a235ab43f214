package tickengine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/abdoElHodaky/tradSys/internal/actions"
	"github.com/abdoElHodaky/tradSys/internal/bus"
	"github.com/abdoElHodaky/tradSys/internal/circuitry"
	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/pricemodel"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/store/memstore"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Tick.IntervalMS = 1000
	cfg.Tick.MarketOpen = 0
	cfg.Tick.MarketClose = 0
	cfg.Events.Enabled = false
	cfg.Matching.AllowSelfTrade = true
	cfg.Matching.MinPrice = 0.0001
	cfg.Matching.MaxPrice = 1_000_000
	cfg.Matching.MaxQuantity = 1_000_000
	cfg.Price.FloorPrice = 0.01
	cfg.Price.MaxTickMove = 0.5
	cfg.Price.Volatility = 0 // deterministic price moves for assertions
	cfg.Price.AgentPressureBeta = 0
	cfg.Price.EventImpactTicks = 20
	cfg.Webhook.TimeoutMS = 1000
	cfg.Webhook.WorkerPoolSize = 4
	cfg.Webhook.MaxRetries = 0
	cfg.Circuit.FailureThreshold = 5
	cfg.Circuit.HalfOpenSuccessCount = 2
	cfg.Circuit.RecoveryWindowMS = 1000
	cfg.Actions.MaxPerParticipantPerTick = 10
	cfg.Actions.ReputationMin = 0
	cfg.Actions.ReputationMax = 100
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, store.Store, *observer.ObservedLogs) {
	t.Helper()
	cfg := testConfig()
	st := memstore.New()

	me := matchingengine.NewEngine(matchingengine.Bounds{
		MinPrice:       decimal.NewFromFloat(cfg.Matching.MinPrice),
		MaxPrice:       decimal.NewFromFloat(cfg.Matching.MaxPrice),
		MaxQuantity:    decimal.NewFromFloat(cfg.Matching.MaxQuantity),
		AllowSelfTrade: cfg.Matching.AllowSelfTrade,
	}, zap.NewNop())

	pm := pricemodel.New(1)

	b := bus.New(zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })

	breakers := circuitry.NewRegistry(circuitry.Settings{
		FailureThreshold:     cfg.Circuit.FailureThreshold,
		HalfOpenSuccessCount: cfg.Circuit.HalfOpenSuccessCount,
		RecoveryWindow:       cfg.RecoveryWindow(),
	}, zap.NewNop())

	dispatcher, err := webhook.New(webhook.Settings{
		Timeout:        cfg.WebhookTimeout(),
		MaxRetries:     cfg.Webhook.MaxRetries,
		WorkerPoolSize: cfg.Webhook.WorkerPoolSize,
	}, breakers, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(dispatcher.Close)

	mc := metrics.New()
	proc := actions.New(st, me, cfg, mc, zap.NewNop())

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	e := New(cfg, st, me, pm, b, dispatcher, proc, nil, mc, logger)
	return e, st, logs
}

func TestEngine_MarketClosedSkipsMatchingAndPublishesClosedTickUpdate(t *testing.T) {
	e, st, _ := newTestEngine(t)
	e.cfg.Tick.MarketOpen = 5 // tick 1 < 5, so the market is closed on the first tick

	ch, err := e.publisher.(interface {
		Subscribe(ctx context.Context, topic string) (<-chan bus.Envelope, error)
	}).Subscribe(context.Background(), "tick")
	require.NoError(t, err)

	require.NoError(t, e.RunTick(context.Background()))

	world, err := st.GetWorldState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), world.CurrentTick)
	assert.False(t, world.MarketOpen)

	select {
	case env := <-ch:
		assert.Contains(t, string(env.Payload), `"marketOpen":false`)
	case <-time.After(time.Second):
		t.Fatal("expected a closed-market tick update on the bus")
	}
}

func TestEngine_RunTick_MatchesOrdersAndSettlesHoldings(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.SaveAccount(ctx, &store.ParticipantAccount{ID: "buyer", Cash: decimal.NewFromInt(10000), Status: store.AccountActive}))
	require.NoError(t, st.SaveAccount(ctx, &store.ParticipantAccount{ID: "seller", Cash: decimal.NewFromInt(10000), Status: store.AccountActive}))
	require.NoError(t, st.SavePrice(ctx, "ACME", 100))

	buyOrder := &store.Order{
		ID: "buy-1", ParticipantID: "buyer", Symbol: "ACME", Side: store.SideBuy,
		Type: store.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		LimitPrice: decimal.NewFromInt(100), HasLimitPrice: true, Status: store.OrderStatusPending,
	}
	sellOrder := &store.Order{
		ID: "sell-1", ParticipantID: "seller", Symbol: "ACME", Side: store.SideSell,
		Type: store.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		LimitPrice: decimal.NewFromInt(100), HasLimitPrice: true, Status: store.OrderStatusPending,
	}
	require.NoError(t, st.SaveOrder(ctx, buyOrder))
	require.NoError(t, st.SaveOrder(ctx, sellOrder))

	require.NoError(t, e.RunTick(ctx))

	trades, err := st.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(10)))

	buyerHolding, err := st.GetHolding(ctx, "buyer", "ACME")
	require.NoError(t, err)
	assert.True(t, buyerHolding.Quantity.Equal(decimal.NewFromInt(10)))

	sellerHolding, err := st.GetHolding(ctx, "seller", "ACME")
	require.NoError(t, err) // the seller held no ACME, so selling 10 leaves a short position
	assert.True(t, sellerHolding.Quantity.Equal(decimal.NewFromInt(-10)))

	buyerAccount, err := st.GetAccount(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyerAccount.Cash.Equal(decimal.NewFromInt(9000)))

	sellerAccount, err := st.GetAccount(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, sellerAccount.Cash.Equal(decimal.NewFromInt(11000)))

	reloadedBuy, err := st.GetOrder(ctx, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, store.OrderStatusFilled, reloadedBuy.Status)
}

// failOnSaveTradeStore wraps a store.Store and makes SaveTrade fail, simulating the critical
// write failure spec §7 item 5 requires to be fatal for the tick.
type failOnSaveTradeStore struct {
	store.Store
}

func (f *failOnSaveTradeStore) SaveTrade(ctx context.Context, t *store.Trade) error {
	return assert.AnError
}

func TestEngine_RunTick_FatalOnCriticalWriteFailureDoesNotAdvanceTick(t *testing.T) {
	e, st, logs := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.SaveAccount(ctx, &store.ParticipantAccount{ID: "buyer", Cash: decimal.NewFromInt(10000), Status: store.AccountActive}))
	require.NoError(t, st.SaveAccount(ctx, &store.ParticipantAccount{ID: "seller", Cash: decimal.NewFromInt(10000), Status: store.AccountActive}))
	require.NoError(t, st.SavePrice(ctx, "ACME", 100))
	require.NoError(t, st.SaveOrder(ctx, &store.Order{
		ID: "buy-1", ParticipantID: "buyer", Symbol: "ACME", Side: store.SideBuy,
		Type: store.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		LimitPrice: decimal.NewFromInt(100), HasLimitPrice: true, Status: store.OrderStatusPending,
	}))
	require.NoError(t, st.SaveOrder(ctx, &store.Order{
		ID: "sell-1", ParticipantID: "seller", Symbol: "ACME", Side: store.SideSell,
		Type: store.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		LimitPrice: decimal.NewFromInt(100), HasLimitPrice: true, Status: store.OrderStatusPending,
	}))

	before, err := st.GetWorldState(ctx)
	require.NoError(t, err)

	e.store = &failOnSaveTradeStore{Store: st}

	err = e.RunTick(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFatalTick)

	after, err := st.GetWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.CurrentTick, after.CurrentTick, "a fatal critical-write failure must not advance the tick")

	entries := logs.FilterMessage("engine heartbeat").All()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, zapcore.ErrorLevel, last.Level)
}

func TestEngine_RecordTickDuration_LogsLagWarningOverBudget(t *testing.T) {
	e, _, logs := newTestEngine(t)

	e.recordTickDuration(50*time.Millisecond, 10*time.Millisecond)

	entries := logs.FilterMessage("tick exceeded its soft budget").All()
	require.Len(t, entries, 1)
}

func TestEngine_RecordTickDuration_NoWarningWithinBudget(t *testing.T) {
	e, _, logs := newTestEngine(t)

	e.recordTickDuration(5*time.Millisecond, 10*time.Millisecond)

	entries := logs.FilterMessage("tick exceeded its soft budget").All()
	assert.Empty(t, entries)
}
