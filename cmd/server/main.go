package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/inventory-engine/internal/adapter/handler"
	"github.com/rl1809/inventory-engine/internal/adapter/notifier"
	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/config"
	"github.com/rl1809/inventory-engine/internal/core/service"
	"github.com/rl1809/inventory-engine/internal/observability"
	"github.com/rl1809/inventory-engine/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notify, closeNotifier, err := openNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	coordinator := service.NewRetryCoordinator(logger.Named("coordinator"),
		service.WithMaxAttempts(cfg.MaxCommitAttempts))
	inventory := service.NewInventoryService(store, coordinator, logger.Named("inventory"),
		service.WithTerminalOrderGuard(cfg.RejectTerminalOrder))
	products := service.NewProductService(store, coordinator, logger.Named("products"))

	grpcHandler := handler.NewGRPCHandler(logger.Named("grpc"))
	scheduler := service.NewFulfillmentScheduler(inventory, notify, logger.Named("fulfillment"),
		service.WithProcessingDelay(cfg.ProcessingDelay),
		service.WithIdleDelay(cfg.IdleDelay),
		service.WithStateListener(grpcHandler.SchedulerStateChanged),
	)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	grpcServer := grpc.NewServer()
	grpcHandler.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		scheduler.Stop()
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	var httpOpts []handler.HTTPOption
	if history, ok := notify.(handler.NotificationHistory); ok {
		httpOpts = append(httpOpts, handler.WithNotificationHistory(history))
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(inventory, products, logger.Named("http"), httpOpts...).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcHandler.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	scheduler.Stop()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, func(), error) {
	if cfg.StoreDriver != config.StoreMySQL {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}

	db, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureMySQLSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to mysql")
	return storage.NewMySQLAdapter(db), func() { db.Close() }, nil
}

func openNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Notifier, func(), error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 10})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("notifications via redis", zap.String("channel", cfg.RedisChannel))
		return notifier.NewRedisNotifier(rdb, cfg.RedisChannel), func() { rdb.Close() }, nil
	case config.NotifierKafka:
		k := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("notifications via kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
		return k, func() {
			if err := k.Close(); err != nil {
				logger.Warn("kafka writer close failed", zap.Error(err))
			}
		}, nil
	default:
		return notifier.NewLogNotifier(logger.Named("notifier")), func() {}, nil
	}
}
