// Command engine is the single authoritative simulation process (spec §1): it wires the
// store, matching engine, price model, webhook dispatcher, action processor, live broadcast
// bus, and tick scheduler together via fx, then exposes a small ambient admin HTTP surface.
// Grounded on the teacher's cmd/ws/main.go fx.New/gin wiring, generalized from a single
// ws.Module to the full engine dependency graph.
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/actions"
	"github.com/abdoElHodaky/tradSys/internal/broadcast"
	"github.com/abdoElHodaky/tradSys/internal/bus"
	"github.com/abdoElHodaky/tradSys/internal/circuitry"
	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/logging"
	"github.com/abdoElHodaky/tradSys/internal/matchingengine"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/pricemodel"
	"github.com/abdoElHodaky/tradSys/internal/store"
	"github.com/abdoElHodaky/tradSys/internal/store/memstore"
	"github.com/abdoElHodaky/tradSys/internal/tickengine"
	"github.com/abdoElHodaky/tradSys/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	app := fx.New(
		fx.Supply(*configPath),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideMatchingEngine,
			providePriceModel,
			provideBus,
			provideCircuitry,
			provideWebhookDispatcher,
			provideActionsProcessor,
			provideMetrics,
			broadcast.New,
			broadcast.NewServer,
			tickengine.New,
			newGinEngine,
		),
		fx.Invoke(registerAdminRoutes, startTickEngine, startBroadcastServer),
	)
	app.Run()
}

func provideConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}

func provideLogger(cfg *config.Config) *zap.Logger {
	return logging.New("engine", cfg.LogLevel)
}

// storeResult exposes the in-memory store both as the full store.Store contract and as the
// narrower store.AccountStore broadcast.New needs for live-session API key lookups, without
// constructing two separate instances.
type storeResult struct {
	fx.Out

	Store    store.Store
	Accounts store.AccountStore
}

func provideStore() storeResult {
	st := memstore.New()
	return storeResult{Store: st, Accounts: st}
}

func provideMatchingEngine(cfg *config.Config, logger *zap.Logger) *matchingengine.Engine {
	bounds := matchingengine.Bounds{
		MinPrice:       decimal.NewFromFloat(cfg.Matching.MinPrice),
		MaxPrice:       decimal.NewFromFloat(cfg.Matching.MaxPrice),
		MaxQuantity:    decimal.NewFromFloat(cfg.Matching.MaxQuantity),
		AllowSelfTrade: cfg.Matching.AllowSelfTrade,
	}
	return matchingengine.NewEngine(bounds, logger)
}

func providePriceModel() *pricemodel.Model {
	return pricemodel.New(uint64(time.Now().UnixNano()))
}

// busResult exposes the single in-process Bus instance under both halves of its split
// interface, so broadcast.New (which only needs Subscriber) and tickengine.New (which only
// needs Publisher) can each declare the narrower dependency they actually use.
type busResult struct {
	fx.Out

	Publisher  bus.Publisher
	Subscriber bus.Subscriber
}

func provideBus(logger *zap.Logger, lc fx.Lifecycle) busResult {
	b := bus.New(logger)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return b.Close() }})
	return busResult{Publisher: b, Subscriber: b}
}

func provideCircuitry(cfg *config.Config, logger *zap.Logger) *circuitry.Registry {
	return circuitry.NewRegistry(circuitry.Settings{
		FailureThreshold:     cfg.Circuit.FailureThreshold,
		HalfOpenSuccessCount: cfg.Circuit.HalfOpenSuccessCount,
		RecoveryWindow:       cfg.RecoveryWindow(),
	}, logger)
}

func provideWebhookDispatcher(cfg *config.Config, breakers *circuitry.Registry, logger *zap.Logger, lc fx.Lifecycle) (*webhook.Dispatcher, error) {
	d, err := webhook.New(webhook.Settings{
		Timeout:        cfg.WebhookTimeout(),
		MaxRetries:     cfg.Webhook.MaxRetries,
		BaseDelay:      time.Duration(cfg.Webhook.BaseDelayMS) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Webhook.MaxDelayMS) * time.Millisecond,
		Jitter:         cfg.Webhook.Jitter,
		GzipThreshold:  cfg.Webhook.GzipThresholdKB * 1024,
		WorkerPoolSize: cfg.Webhook.WorkerPoolSize,
	}, breakers, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { d.Close(); return nil }})
	return d, nil
}

func provideActionsProcessor(st store.Store, me *matchingengine.Engine, cfg *config.Config, mc *metrics.Collector, logger *zap.Logger) *actions.Processor {
	return actions.New(st, me, cfg, mc, logger)
}

func provideMetrics() *metrics.Collector {
	return metrics.New()
}

func newGinEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	return r
}

// registerAdminRoutes exposes the ambient operational surface (spec §4.7's implied need to
// observe an always-on simulation): liveness, Prometheus scrape, and circuit breaker snapshots.
func registerAdminRoutes(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, router *gin.Engine, breakers *circuitry.Registry, mc *metrics.Collector) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptimeSeconds": mc.Uptime().Seconds()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/debug/circuits", func(c *gin.Context) {
		c.JSON(http.StatusOK, breakers.Snapshot())
	})

	srv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server stopped unexpectedly", zap.Error(err))
				}
			}()
			logger.Info("admin server listening", zap.String("addr", cfg.Admin.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
	})
}

// startBroadcastServer forces fx to construct the WebSocket server; its own fx.Lifecycle hooks
// (registered inside broadcast.NewServer) do the actual start/stop work.
func startBroadcastServer(*broadcast.Server) {}

// startTickEngine launches the scheduler loop alongside the fx application lifecycle.
func startTickEngine(lc fx.Lifecycle, te *tickengine.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			te.Start(context.Background())
			logger.Info("tick engine started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return te.Stop(ctx)
		},
	})
}

