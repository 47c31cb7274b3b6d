package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tradeguard/internal/api"
	"tradeguard/internal/events"
	"tradeguard/internal/monitor"
	"tradeguard/internal/netguard"
	"tradeguard/internal/order"
	"tradeguard/internal/risk"
	"tradeguard/pkg/config"
	"tradeguard/pkg/db"
	"tradeguard/pkg/exchanges/sim"
	"tradeguard/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// orderStore persists terminal order results through the query layer.
type orderStore struct {
	q *db.Queries
}

func (s *orderStore) AppendOrderRecord(ctx context.Context, res order.Result) error {
	return s.q.InsertOrderRecord(ctx, db.OrderRecord{
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: res.ExchangeOrderID,
		Status:          string(res.Status),
		FilledQty:       res.FilledQuantity,
		AvgPrice:        res.AveragePrice,
		Error:           res.Error,
		LatencyMS:       res.LatencyMS,
		CreatedAt:       res.CreatedAt,
	})
}

// persistAuditEvents copies every bus event into the audit_events table so the
// per-order trail survives restarts. Rows go through the batcher to keep the
// hot path off the SQLite writer. Runs until ctx is cancelled.
func persistAuditEvents(ctx context.Context, bus *events.Bus, batcher *db.AuditBatcher) {
	stream, unsub := bus.SubscribeAll(1024)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev.Payload)
				if err != nil {
					log.Printf("audit: marshal %s payload failed: %v", ev.Type, err)
					continue
				}
				batcher.Add(string(ev.Type), ev.CorrelationID, string(payload))
			}
		}
	}()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}
	log.Printf("tradeguard %s starting (dry_run=%v, exchanges=%v)", version, cfg.DryRun, cfg.Exchanges)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	queries := database.Queries()

	// Event bus and durable audit trail
	bus := events.NewBus()
	recorder := events.NewRecorder(bus, cfg.AuditLogPath)
	batcher := db.NewAuditBatcher(database, 64, 250*time.Millisecond)
	persistAuditEvents(ctx, bus, batcher)

	// Guard configuration. A missing endpoint is a deploy error, so every
	// configured exchange must resolve place_order before we serve traffic.
	endpointMap, err := netguard.LoadEndpointMap(cfg.EndpointMapPath)
	if err != nil {
		log.Fatalf("load endpoint map %s: %v", cfg.EndpointMapPath, err)
	}
	rateLimits, err := netguard.LoadRateLimits(cfg.RateLimitsPath)
	if err != nil {
		log.Fatalf("load rate limits %s: %v", cfg.RateLimitsPath, err)
	}
	resolver := netguard.NewResolver(endpointMap)
	required := make([]string, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		required = append(required, ex+":place_order")
	}
	if err := resolver.ValidateNames(required...); err != nil {
		log.Fatalf("endpoint map incomplete: %v", err)
	}

	// Metrics
	sys := monitor.NewSystemMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	sink := monitor.NewSink(registry, sys)

	guard := netguard.New(resolver, rateLimits, bus, sink, netguard.Config{
		AcquireTimeout: cfg.GuardAcquireTimeout,
		MaxRetries:     cfg.GuardMaxRetries,
		Backoff:        retry.DefaultPolicy(),
	})

	// Risk manager with persisted limits
	riskMgr, err := risk.NewManager(database.DB, bus)
	if err != nil {
		log.Fatalf("init risk manager: %v", err)
	}

	// Order execution service
	orders := order.NewService(riskMgr, guard, bus, &orderStore{q: queries})
	if cfg.DryRun {
		for _, ex := range cfg.Exchanges {
			orders.RegisterAdapter(ex, sim.New(sim.Config{
				Name:         ex,
				FeeRate:      cfg.SimFeeRate,
				SlippageBps:  cfg.SimSlippageBps,
				LatencyMinMs: cfg.SimLatencyMinMs,
				LatencyMaxMs: cfg.SimLatencyMaxMs,
			}))
		}
		log.Printf("dry run: simulated adapters registered for %v", cfg.Exchanges)
	} else {
		log.Printf("live mode: no adapters registered; wire real exchange gateways before submitting orders")
	}

	// Monitoring: tally order outcomes, surface risk alerts in the log.
	mon := &monitor.Monitor{
		Bus:     bus,
		Sink:    sink,
		AlertFn: func(msg string) { log.Printf("[ALERT] %s", msg) },
	}
	mon.Start(ctx)

	server := api.NewServer(bus, database, riskMgr, orders, guard, sys, registry,
		api.SystemMeta{DryRun: cfg.DryRun, Exchanges: cfg.Exchanges, Version: version},
		cfg.JWTSecret)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.Port)
		errCh <- server.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received %v, shutting down", sig)
	case err := <-errCh:
		log.Printf("http server stopped: %v", err)
	}

	cancel()
	if err := recorder.Close(); err != nil {
		log.Printf("close audit recorder: %v", err)
	}
	if err := batcher.Close(); err != nil {
		log.Printf("close audit batcher: %v", err)
	}
	log.Println("shutdown complete")
}
