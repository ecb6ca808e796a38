package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/api"
	"github.com/ayo6706/merchant-settlement/internal/api/handler"
	"github.com/ayo6706/merchant-settlement/internal/config"
	"github.com/ayo6706/merchant-settlement/internal/db"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/ledger"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"github.com/ayo6706/merchant-settlement/internal/saga"
	"github.com/ayo6706/merchant-settlement/internal/service"
	"github.com/ayo6706/merchant-settlement/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	transferToMarketQueueKey   = "settlement:queue:transfer-to-market"
	transferToMerchantQueueKey = "settlement:queue:transfer-to-merchant"
)

// Run bootstraps the settlement pipeline and the ops HTTP server, blocking
// until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	payments := repository.NewPaymentRequestRepository(pool)
	work := repository.NewExchangeWorkRepository(pool)

	checks := []handler.Check{{Name: "postgres", Probe: pool.Ping}}

	var (
		toMarket   queue.BatchQueue[models.TransferToMarketMessage]
		toMerchant queue.BatchQueue[models.TransferToMerchantMessage]
	)
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		toMarket = queue.NewRedisQueue[models.TransferToMarketMessage](redisClient, transferToMarketQueueKey)
		toMerchant = queue.NewRedisQueue[models.TransferToMerchantMessage](redisClient, transferToMerchantQueueKey)
		checks = append(checks, handler.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_URL not set; settlement queues are in memory and lost on restart")
		toMarket = queue.NewMemoryQueue[models.TransferToMarketMessage]()
		toMerchant = queue.NewMemoryQueue[models.TransferToMerchantMessage]()
	}

	catalog := newCatalog(cfg.Catalog)
	balances := gateway.NewSimulatedBalances()
	for asset, amount := range cfg.Simulator.InitialBalances {
		balances.Credit(cfg.SettlementClientID, asset, amount)
	}
	chain := gateway.NewSimulatedChain(cfg.Simulator.ChainFee)
	chain.FailureRate = cfg.Simulator.ChainFailureRate
	chain.MaxDelay = cfg.Simulator.MaxDelay
	engine := gateway.NewSimulatedExchange(catalog, balances, cfg.SettlementClientID, cfg.Simulator.Prices)
	engine.FailureRate = cfg.Simulator.OrderFailureRate
	settlementLedger := ledger.New(cfg.SettlementClientID, balances)

	var (
		commands messaging.CommandSender
		events   messaging.EventPublisher
		rabbit   *messaging.RabbitBus
		memBus   *messaging.MemoryBus
	)
	if cfg.RabbitMQURL != "" {
		rabbit, err = messaging.NewRabbitBus(cfg.RabbitMQURL, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer rabbit.Close()
		commands, events = rabbit, rabbit
		checks = append(checks, handler.Check{Name: "rabbitmq", Probe: func(context.Context) error {
			if !rabbit.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		}})
	} else {
		logger.Warn("RABBITMQ_URL not set; using the in-process bus")
		memBus = messaging.NewMemoryBus()
		commands, events = memBus, memBus
	}

	var projection messaging.ProjectionSink = messaging.LogProjection{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProjection := messaging.NewKafkaProjection(messaging.KafkaProjectionConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.ProjectionTopic,
		})
		defer kafkaProjection.Close()
		projection = kafkaProjection
	}

	status := service.NewStatusService(payments, work, catalog, events, projection, toMarket, toMerchant)
	settlement := service.NewSettlementService(status, payments, catalog, catalog, chain, events, service.SettlementRules{
		PaymentAssets:    cfg.Catalog.PaymentAssets,
		SettlementAssets: cfg.Catalog.SettlementAssets,
		MinAmounts:       cfg.Catalog.MinAmounts,
	})
	orchestrator := saga.NewSettlementOrchestrator(commands, cfg.MarketWalletAddress)

	// The simulated chain credits the settlement account once a market
	// transfer lands and announces the confirmation like a chain watcher.
	chain.OnConfirmed = func(ctx context.Context, tx *gateway.Transaction) {
		creditMarketTransfer(balances, cfg.SettlementClientID, tx)
		if err := events.Publish(ctx, messaging.BlockchainTransferConfirmed{
			TransactionHash:    tx.Hash,
			DestinationAddress: tx.Destination,
			TransactionFee:     tx.Fee,
		}); err != nil {
			logger.Error("failed to publish transfer confirmation", zap.String("tx_hash", tx.Hash), zap.Error(err))
		}
	}

	if rabbit != nil {
		if err := rabbit.ConsumeCommands(ctx, cfg.CommandQueue, cfg.ConsumerPrefetch, settlement.HandleCommand); err != nil {
			return fmt.Errorf("consume commands: %w", err)
		}
		if err := rabbit.ConsumeEvents(ctx, cfg.EventQueue, saga.SubscribedEvents, cfg.ConsumerPrefetch, orchestrator.HandleEvent); err != nil {
			return fmt.Errorf("consume events: %w", err)
		}
	} else {
		memBus.HandleCommands(settlement.HandleCommand)
		memBus.HandleEvents(orchestrator.HandleEvent)
	}

	toMarketCoord := service.NewTransferToMarketCoordinator(toMarket, payments, status, chain, cfg.MarketWalletAddress).
		WithMaxTransfersPerTransaction(cfg.MaxTransfersPerTransaction)
	exchangeCoord := service.NewExchangeCoordinator(work, payments, status, engine, settlementLedger).
		WithAttemptInterval(cfg.ExchangeAttemptInterval)
	toMerchantCoord := service.NewTransferToMerchantCoordinator(toMerchant, payments, status, balances, catalog, settlementLedger)
	reconciliation := service.NewReconciliationService(payments, work, status, toMarket, toMerchant, chain, commands).
		WithGrace(cfg.ReconciliationGrace)

	workers := []*worker.Worker{
		worker.New("transfer_to_market", toMarketCoord.RunBatch).WithInterval(cfg.TransferToMarketInterval),
		worker.New("exchange", exchangeCoord.ExchangeOnce).WithInterval(cfg.ExchangeInterval),
		worker.New("transfer_to_merchant", toMerchantCoord.Drain).WithInterval(cfg.TransferToMerchantInterval),
	}
	for _, w := range workers {
		w.Run(ctx)
	}

	scheduler := worker.NewScheduler(ctx)
	if err := scheduler.Add("reconciliation", cfg.ReconciliationSchedule, reconciliation.Run); err != nil {
		return err
	}
	scheduler.Start()

	health := handler.NewHealthHandler(checks...)
	ops := handler.NewOpsHandler(map[string]handler.Depth{
		"transfer_to_market":   toMarket.Len,
		"exchange":             work.Count,
		"transfer_to_merchant": toMerchant.Len,
	}, settlementLedger)
	router := api.NewRouter(logger, health, ops, cfg.PublicRateLimitRPS)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("stopping workers")
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			logger.Warn("worker did not stop in time", zap.Stringer("worker", w))
		}
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs did not finish in time")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()

	logger.Info("shutdown complete")
	return nil
}

func newCatalog(c config.Catalog) *gateway.StaticCatalog {
	assets := make([]gateway.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, gateway.Asset{ID: a.ID, Accuracy: a.Accuracy})
	}
	pairs := make([]gateway.AssetPair, 0, len(c.AssetPairs))
	for _, p := range c.AssetPairs {
		pairs = append(pairs, gateway.AssetPair{ID: p.ID, BaseAssetID: p.BaseAssetID, QuotingAssetID: p.QuotingAssetID, Accuracy: p.Accuracy})
	}
	merchants := make([]gateway.Merchant, 0, len(c.Merchants))
	for _, m := range c.Merchants {
		merchants = append(merchants, gateway.Merchant{ID: m.ID, ClientID: m.ClientID})
	}
	return gateway.NewStaticCatalog(assets, pairs, merchants)
}

// creditMarketTransfer books the net amount of a confirmed market transfer
// on the settlement account. The fee is charged in the first source's asset.
func creditMarketTransfer(balances *gateway.SimulatedBalances, accountID string, tx *gateway.Transaction) {
	if len(tx.Sources) == 0 {
		return
	}
	totals := make(map[string]decimal.Decimal)
	for _, src := range tx.Sources {
		totals[src.AssetID] = totals[src.AssetID].Add(src.Amount)
	}
	feeAsset := tx.Sources[0].AssetID
	totals[feeAsset] = totals[feeAsset].Sub(tx.Fee)
	for asset, net := range totals {
		if net.IsPositive() {
			balances.Credit(accountID, asset, net)
		}
	}
}

// newLogger builds the production JSON logger. Unknown levels fall back to info.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return client, nil
}
