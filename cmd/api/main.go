package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/audit"
	"github.com/dropship-labs/fulfillment/internal/aws"
	"github.com/dropship-labs/fulfillment/internal/clients"
	"github.com/dropship-labs/fulfillment/internal/config"
	"github.com/dropship-labs/fulfillment/internal/fulfillment"
	"github.com/dropship-labs/fulfillment/internal/handlers"
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

	svc := buildService(cfg, awsClients, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterRoutes(r, handlers.HandlerConfig{Service: svc, Logger: logger})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func buildService(cfg config.Config, awsClients *aws.Clients, logger *zap.Logger) *fulfillment.Service {
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

	return fulfillment.NewService(fulfillment.Deps{
		Orders:      orders.NewStore(awsClients.DynamoDB, cfg.OrdersTable),
		Jobs:        jobs.NewStore(awsClients.DynamoDB, cfg.JobsTable),
		Queue:       jobs.NewQueue(awsClients.SQS, cfg.JobsQueueURL),
		Idem:        idempotency.NewStore(awsClients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Audit:       audit.NewStore(awsClients.DynamoDB, cfg.AuditTable),
		Supplier:    supplier,
		Forwarder:   forwarder,
		Metrics:     metrics.NewEmitter(cw, cfg.MetricsNamespace, logger),
		Policy:      jobs.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.RetryBackoff},
		CallTimeout: cfg.ExternalCallTimeout,
		Logger:      logger,
	})
}
