package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/uhyunpark/tulipdesk/params"
	"github.com/uhyunpark/tulipdesk/pkg/api"
	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
	"github.com/uhyunpark/tulipdesk/pkg/events"
	"github.com/uhyunpark/tulipdesk/pkg/metrics"
	"github.com/uhyunpark/tulipdesk/pkg/storage"
	"github.com/uhyunpark/tulipdesk/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger(util.LogOptions{
		Level: cfg.LogLevel,
		Path:  cfg.LogFile,
		Fields: map[string]string{
			"env":     cfg.Build.Env,
			"version": cfg.Build.Version,
			"region":  cfg.Build.Region,
		},
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var (
		orderStore   orders.Store
		personaStore personas.Store
	)
	switch cfg.Orders.Store {
	case params.StorePebble:
		path := filepath.Join(cfg.Orders.DataDir, "orders")
		db, err := storage.NewPebbleStore(path, storage.PebbleOptions{IdempotencyIndex: cfg.Orders.IdempotencyIndex})
		if err != nil {
			sugar.Fatalw("store_open_failed", "path", path, "err", err)
		}
		defer db.Close()
		orderStore, personaStore = db, db
	case params.StoreMemory:
		mem := storage.NewMemoryStore(cfg.Orders.IdempotencyIndex)
		orderStore, personaStore = mem, mem
	}
	if !cfg.Personas.StoreEnabled {
		personaStore = nil
	}

	// ---- Personas ----
	var cache personas.Cache
	if cfg.Personas.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Personas.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			sugar.Warnw("redis_unreachable", "addr", cfg.Personas.RedisAddr, "err", err)
		}
		cache = personas.NewRedisCache(rdb, cfg.Personas.CacheTTL, sugar)
	} else {
		cache = personas.NewMemoryCache(cfg.Personas.CacheTTL, nil)
	}
	directory, err := personas.NewDirectory(personaStore, cache, nil, sugar)
	if err != nil {
		sugar.Fatalw("persona_directory_failed", "err", err)
	}

	// ---- Events ----
	var publisher orders.Publisher
	if len(cfg.Events.Brokers) > 0 {
		producer := events.NewProducer(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.DedupWindow, sugar)
		defer producer.Close()
		publisher = producer
	}

	if !cfg.OrdersConfigured() {
		sugar.Warnw("orders_not_configured",
			"store", cfg.Orders.Store,
			"brokers", cfg.Events.Brokers)
	}

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := orders.NewService(cfg, orderStore, publisher, directory, sugar)
	svc.Metrics = metrics.NewIntake(reg)

	apiServer := api.NewServer(cfg, svc, directory, reg, sugar)
	svc.OnAccepted = apiServer.BroadcastOrder

	sugar.Infow("server_starting",
		"addr", cfg.Server.Addr,
		"market", cfg.Orders.MarketSymbol,
		"store", cfg.Orders.Store,
		"log_file", cfg.LogFile)

	if err := apiServer.Start(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("api_server_failed", "err", err)
		return
	}
	sugar.Info("server_stopped")
}

