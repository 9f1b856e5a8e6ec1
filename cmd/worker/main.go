package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/aws"
	"github.com/dropship-labs/fulfillment/internal/clients"
	"github.com/dropship-labs/fulfillment/internal/config"
	"github.com/dropship-labs/fulfillment/internal/fulfillment"
	"github.com/dropship-labs/fulfillment/internal/idempotency"
	"github.com/dropship-labs/fulfillment/internal/jobs"
	"github.com/dropship-labs/fulfillment/internal/logging"
	"github.com/dropship-labs/fulfillment/internal/metrics"
	"github.com/dropship-labs/fulfillment/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsClients, err := aws.New(ctx)
	if err != nil {
		logger.Fatal("init aws clients", zap.Error(err))
	}

	var supplier clients.SupplierClient = &clients.StubSupplier{}
	if cfg.SupplierBaseURL != "" {
		supplier = clients.NewHTTPSupplier(cfg.SupplierBaseURL, nil)
	}
	var forwarder clients.ForwarderClient = &clients.StubForwarder{}
	if cfg.ForwarderBaseURL != "" {
		forwarder = clients.NewHTTPForwarder(cfg.ForwarderBaseURL, nil)
	}

	var cw aws.CloudWatchAPI
	if cfg.MetricsEnabled {
		cw = awsClients.CloudWatch
	}

	queue := jobs.NewQueue(awsClients.SQS, cfg.JobsQueueURL)
	svc := fulfillment.NewService(fulfillment.Deps{
		Orders:      orders.NewStore(awsClients.DynamoDB, cfg.OrdersTable),
		Jobs:        jobs.NewStore(awsClients.DynamoDB, cfg.JobsTable),
		Queue:       queue,
		Idem:        idempotency.NewStore(awsClients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Audit:       audit.NewStore(awsClients.DynamoDB, cfg.AuditTable),
		Supplier:    supplier,
		Forwarder:   forwarder,
		Metrics:     metrics.NewEmitter(cw, cfg.MetricsNamespace, logger),
		Policy:      jobs.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.RetryBackoff},
		CallTimeout: cfg.ExternalCallTimeout,
		Logger:      logger,
	})

	pool := jobs.NewPool(queue, cfg.WorkerConcurrency, logger)
	pool.Register(jobs.TypePurchase, svc.Handler(jobs.TypePurchase))
	pool.Register(jobs.TypeForward, svc.Handler(jobs.TypeForward))

	logger.Info("worker starting",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("queue", cfg.JobsQueueURL))
	pool.Run(ctx)
	logger.Info("worker stopped")
}
