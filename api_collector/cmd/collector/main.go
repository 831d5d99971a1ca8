package main

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"billingstack/api_collector/internal/config"
	"billingstack/api_collector/internal/events"
	"billingstack/api_collector/internal/flows"
	"billingstack/api_collector/internal/handlers"
	"billingstack/api_collector/internal/idempotency"
	"billingstack/api_collector/internal/metrics"
	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/provider/dummy"
	"billingstack/api_collector/internal/provider/mollie"
	"billingstack/api_collector/internal/provider/stripe"
	"billingstack/api_collector/internal/rpcapi"
	"billingstack/api_collector/internal/service"
	"billingstack/api_collector/internal/store"
	"billingstack/api_collector/internal/worker"
	"billingstack/pkg/auth"
	"billingstack/pkg/clients"
	envconfig "billingstack/pkg/config"
	fieldcrypt "billingstack/pkg/crypto"
	"billingstack/pkg/database"
	"billingstack/pkg/kafka"
	"billingstack/pkg/logging"
	"billingstack/pkg/monitoring"
	"billingstack/pkg/redis"
	"billingstack/pkg/rpc"
	"billingstack/pkg/server"
	"billingstack/pkg/taskflow"
	"billingstack/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("collector")

	// Load environment variables
	envconfig.LoadEnv(logger)

	logger.WithField("version", version.Version).Info("Starting Collector (Payment Gateway API)")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("collector", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("collector", version.Version, version.GitCommit)
	m := metrics.New(metricsCollector)

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(cfg.RequiredSettings()))

	// Storage
	var storage service.Storage
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage; data is lost on restart")
		mem := store.NewMemory()
		healthChecker.AddCheck("storage", monitoring.PingHealthCheck("storage", mem, false))
		storage = mem
	default:
		dbConfig := database.DefaultConfig()
		dbConfig.URL = cfg.DatabaseURL
		db := database.MustConnect(dbConfig, logger)
		defer db.Close()

		var enc *fieldcrypt.FieldEncryptor
		if cfg.FieldEncryptionKey != "" {
			enc, err = fieldcrypt.DeriveFieldEncryptor([]byte(cfg.FieldEncryptionKey), "collector-properties")
			if err != nil {
				logger.WithError(err).Fatal("Failed to derive field encryptor")
			}
		} else {
			logger.Warn("FIELD_ENCRYPTION_KEY not set; gateway credentials are stored in plaintext")
		}

		pg := store.NewPostgres(db, enc)
		if err := pg.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to apply collector schema")
		}
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
		storage = pg
	}

	// Gateway providers, each call guarded per config
	breaker := clients.DefaultCircuitBreakerConfig()
	breaker.FailureRatio = cfg.BreakerFailureRatio
	breaker.MinRequests = uint32(cfg.BreakerMinRequests)
	breaker.Delay = cfg.BreakerDelay
	guards := provider.NewGuardSet(provider.GuardOptions{
		Timeout: cfg.ProviderTimeout,
		Breaker: breaker,
		Logger:  logger,
		OnStateChange: func(configID string, _, to clients.CircuitBreakerState) {
			open := 0.0
			if to == clients.StateOpen {
				open = 1
			}
			m.BreakerState.WithLabelValues(configID).Set(open)
		},
		Observe: m.ObserveProviderCall,
	})
	registry := provider.NewRegistry(guards.Decorator())
	for _, name := range cfg.Providers {
		switch name {
		case dummy.Name:
			registry.MustRegister(dummy.Factory(dummy.NewBackend()))
		case stripe.Name:
			registry.MustRegister(stripe.Factory(logger))
		case mollie.Name:
			registry.MustRegister(mollie.Factory(logger))
		default:
			logger.WithField("provider", name).Fatal("Unknown provider in COLLECTOR_PROVIDERS")
		}
	}
	logger.WithField("providers", registry.Names()).Info("Gateway providers registered")

	// State events
	var notifier flows.Notifier
	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		healthChecker.AddCheck("kafka", monitoring.PingHealthCheck("kafka", monitoring.PingFunc(producer.HealthCheck), true))
		notifier = events.NewPublisher(producer, cfg.EventsTopic, logger,
			events.WithCounter(m.EventsPublished),
			events.WithRequestID(func(ctx context.Context) string { return auth.FromContext(ctx).RequestID }),
		)
	} else {
		logger.Info("KAFKA_BROKERS not set; state events are not published")
	}
	notifier = m.Notifier(notifier)

	// Workflow engine
	engine := taskflow.NewEngine(
		taskflow.WithListener(taskflow.NewLogListener(logger)),
		taskflow.WithListener(m.FlowListener()),
	)

	svc := service.NewService(storage, registry, engine, notifier, logger)
	if cfg.SyncProvidersOnStart {
		syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
		catalog, err := svc.SyncProviders(syncCtx, service.SystemContext())
		syncCancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to sync provider catalog")
		}
		logger.WithField("count", len(catalog)).Info("Provider catalog synced")
	}

	// Idempotency keys
	var idem *idempotency.Store
	if cfg.RedisEnabled() {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
		healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", monitoring.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), true))
		idem = idempotency.NewStore(rdb, cfg.IdempotencyTTL, logger)
	} else {
		logger.Info("REDIS_URL not set; Idempotency-Key headers are ignored")
	}

	// NATS RPC
	if cfg.NATSEnabled() {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("collector"), nats.MaxReconnects(-1))
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer nc.Close()
		rpcServer := rpc.NewServer(cfg.RPCTopic, logger, rpc.WithErrorCodec(rpcapi.Codec{}), rpc.WithHandlerTimeout(cfg.ProviderTimeout*2), rpc.WithConcurrency(cfg.RPCConcurrency))
		rpcapi.Register(rpcServer, svc)
		if err := rpcServer.Start(nc); err != nil {
			logger.WithError(err).Fatal("Failed to start RPC server")
		}
		defer func() { _ = rpcServer.Stop() }()
		healthChecker.AddCheck("nats", monitoring.PingHealthCheck("nats", monitoring.PingFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}), true))
	}

	// Background reconciliation
	sweeper := worker.NewStuckSweeper(svc, m.StuckEntities, logger, cfg.SweepInterval, cfg.StuckThreshold)
	go sweeper.Start(ctx)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "collector", healthChecker, metricsCollector)
	authMW := auth.Middleware(auth.Config{JWTSecret: []byte(cfg.JWTSecret), ServiceToken: cfg.ServiceToken})
	h := handlers.New(svc, logger, cfg.StuckThreshold)
	if idem != nil {
		h.Register(router, authMW, idem.Middleware())
	} else {
		h.Register(router, authMW, nil)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("collector", cfg.Port)
	if err := server.Start(ctx, serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
