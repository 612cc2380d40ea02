package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newstrade/internal/bus"
	"newstrade/internal/dedup"
	"newstrade/internal/entity"
	"newstrade/internal/events"
	"newstrade/internal/exchange"
	"newstrade/internal/execution"
	"newstrade/internal/ingest"
	"newstrade/internal/monitor"
	"newstrade/internal/persist"
	"newstrade/internal/portfolio"
	"newstrade/internal/position"
	"newstrade/internal/possync"
	"newstrade/internal/risk"
	sig "newstrade/internal/signal"
	"newstrade/internal/state"
	"newstrade/pkg/config"
)

// pure wraps a context-free stage handler into the worker signature.
func pure(h func(payload []byte) ([]bus.Output, error)) bus.Handler {
	return func(ctx context.Context, payload []byte) ([]bus.Output, error) {
		return h(payload)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("pipeline starting. env=%s bus=%s mode=%s", cfg.Env, cfg.BusBackend, cfg.ExecutionMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Transport and shared state follow the same backend selection.
	var eventBus bus.EventBus
	var stateStore state.Store
	var dedupStore dedup.Store
	if cfg.BusBackend == "redis" {
		redisBus, err := bus.NewRedisBus(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis bus: %v", err)
		}
		eventBus = redisBus

		redisState, err := state.NewRedisStore(cfg.RedisURL, "newstrade")
		if err != nil {
			log.Fatalf("failed to connect redis state: %v", err)
		}
		stateStore = redisState

		redisDedup, err := dedup.NewRedisStore(cfg.RedisURL, "newstrade:dedup")
		if err != nil {
			log.Fatalf("failed to connect redis dedup: %v", err)
		}
		dedupStore = redisDedup
	} else {
		eventBus = bus.NewMemoryBus()
		stateStore = state.NewMemoryStore()
		dedupStore = dedup.NewMemoryStore()
	}
	defer eventBus.Close()

	adapter, err := exchange.Build(cfg)
	if err != nil {
		log.Fatalf("failed to build exchange adapter: %v", err)
	}

	// Stage services.
	universe := cfg.Universe()
	entitySvc := entity.New(universe)
	llmSvc := sig.NewLLMService(sig.NewProvider(cfg), cfg.DefaultEventTTLSec)
	fusionSvc := sig.NewFusionService(cfg.MinSignalConfidence)
	universeSvc := sig.NewUniverseService(universe)
	portfolioSvc := portfolio.New(cfg.AccountEquityUSD, cfg.RiskPerTradePct, cfg.MaxSlippageBps)
	riskSvc := risk.New(risk.Limits{
		EquityUSD:            cfg.AccountEquityUSD,
		MaxSymbolExposurePct: cfg.MaxSymbolExposurePct,
		MaxTotalExposurePct:  cfg.MaxTotalExposurePct,
		MaxSpotExposurePct:   cfg.MaxSpotExposurePct,
		MaxPerpExposurePct:   cfg.MaxPerpExposurePct,
		MaxLongExposurePct:   cfg.MaxLongExposurePct,
		MaxShortExposurePct:  cfg.MaxShortExposurePct,
		MaxDailyDrawdownPct:  cfg.MaxDailyDrawdownPct,
	}, stateStore)
	executionSvc := execution.New(adapter)
	positionSvc := position.New()
	monitorSvc := monitor.NewService(monitor.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))

	workers := []*bus.Worker{
		{ServiceName: "entity-service", InputStream: events.StreamNewsRaw, Handler: pure(entitySvc.Handle)},
		{ServiceName: "llm-signal-service", InputStream: events.StreamNewsEntity, Handler: llmSvc.Handle},
		{ServiceName: "signal-fusion-service", InputStream: events.StreamSignalRaw, Handler: pure(fusionSvc.Handle)},
		{ServiceName: "universe-service", InputStream: events.StreamSignalTradeable, Handler: pure(universeSvc.Handle)},
		{ServiceName: "portfolio-service", InputStream: events.StreamSignalUniverse, Handler: pure(portfolioSvc.Handle)},
		{ServiceName: "risk-service-intent", InputStream: events.StreamOrderIntent, Handler: riskSvc.HandleOrderIntent},
		{ServiceName: "risk-service-pnl", InputStream: events.StreamPnLSnapshot, Handler: riskSvc.HandlePnLSnapshot},
		{ServiceName: "execution-service", InputStream: events.StreamOrderApproved, Handler: executionSvc.Handle},
		{ServiceName: "position-pnl-service", InputStream: events.StreamExecutionReport, Handler: pure(positionSvc.Handle)},
		{ServiceName: "monitoring-alert-news", InputStream: events.StreamNewsRaw, Handler: monitorSvc.HandleNews, StartID: bus.LatestID},
		{ServiceName: "monitoring-alert-rejected", InputStream: events.StreamOrderRejected, Handler: monitorSvc.HandleRejected, StartID: bus.LatestID},
		{ServiceName: "monitoring-alert-exec", InputStream: events.StreamExecutionReport, Handler: monitorSvc.HandleExecution, StartID: bus.LatestID},
		{ServiceName: "monitoring-alert-risk", InputStream: events.StreamRiskAlert, Handler: monitorSvc.HandleRiskAlert, StartID: bus.LatestID},
	}

	// Persistence only runs with a configured database.
	if cfg.PostgresDSN != "" {
		persistSvc, err := persist.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer persistSvc.Close()
		if err := persistSvc.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		workers = append(workers,
			&bus.Worker{ServiceName: "persistence-news", InputStream: events.StreamNewsRaw, Handler: persistSvc.HandleNews},
			&bus.Worker{ServiceName: "persistence-intent", InputStream: events.StreamOrderIntent, Handler: persistSvc.HandleIntent},
			&bus.Worker{ServiceName: "persistence-rejected", InputStream: events.StreamOrderRejected, Handler: persistSvc.HandleRiskDecision},
			&bus.Worker{ServiceName: "persistence-execution", InputStream: events.StreamExecutionReport, Handler: persistSvc.HandleExecution},
			&bus.Worker{ServiceName: "persistence-pnl", InputStream: events.StreamPnLSnapshot, Handler: persistSvc.HandlePnL},
		)
	} else {
		log.Println("persistence disabled: POSTGRES_DSN is empty")
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		w.Bus = eventBus
		w.PollMs = cfg.ServicePollMs
		w.IdleSleep = cfg.ServiceIdleSleep
		wg.Add(1)
		go func(w *bus.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s: worker stopped: %v", w.ServiceName, err)
			}
		}(w)
	}

	// News ingest poller.
	feeds, err := ingest.LoadFeedsFile(cfg.FeedsFile)
	if err != nil {
		log.Fatalf("failed to load feeds file: %v", err)
	}
	ingestSvc := ingest.NewService(eventBus, dedupStore, feeds, time.Duration(cfg.DefaultEventTTLSec)*time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestSvc.Run(ctx, 30*time.Second); err != nil && ctx.Err() == nil {
			log.Printf("ingest stopped: %v", err)
		}
	}()

	// Exchange position sync.
	syncSvc := possync.New(possync.Config{
		ExecutionMode: cfg.ExecutionMode,
		EquityUSD:     cfg.AccountEquityUSD,
		Interval:      cfg.PositionSyncInterval,
		DriftAlertPct: cfg.PositionSyncDriftAlertPct,
	}, adapter, stateStore, eventBus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncSvc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("position sync stopped: %v", err)
		}
	}()

	// User-data stream from the venue, live mode only.
	if cfg.ExecutionMode == "live" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := executionSvc.RunAdapterStream(ctx, eventBus); err != nil && ctx.Err() == nil {
				log.Printf("adapter stream stopped: %v", err)
			}
		}()
	}

	// Health and Prometheus scrape endpoint.
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "env": cfg.Env})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	go func() {
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("pipeline shutting down")
	cancel()
	wg.Wait()
}
