package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"onlineshop/internal/config"
	"onlineshop/internal/gateway"
	"onlineshop/internal/logger"
	"onlineshop/internal/model"
	"onlineshop/internal/payment"
	"onlineshop/internal/queue"
	"onlineshop/internal/router"
	rediskey "onlineshop/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.SQLiteDSN()), &gorm.Config{})
	if err != nil {
		lg.Fatal("db open", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&model.Product{},
		&model.Coupon{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderTransaction{},
	); err != nil {
		lg.Fatal("db migrate", zap.Error(err))
	}

	// 2. 连接 Redis
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		lg.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()

	// 3. 支付核心：网关 -> 校验钩子 -> 交易存储 -> 工厂 / 结算 / 对账
	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayURL,
		APIKey:      cfg.GatewayKey,
		APISecret:   cfg.GatewaySecret,
		Timeout:     cfg.GatewayTimeout,
		MaxFailures: uint32(cfg.GatewayMaxFailures),
	}, rdb, lg.Named("gateway"))

	validator := payment.NewValidator(gw, lg.Named("validator"))
	store := payment.NewGormStore(db, validator.Check)
	ledger := rediskey.NewPrepareLedger(rdb)
	factory := payment.NewFactory(store, gw, payment.NewIDGenerator(), ledger, lg.Named("factory"))
	settler := payment.NewSettler(store, queue.NewOutbox(rdb, cfg.SettlementStream), lg.Named("settler"))

	host, _ := os.Hostname()
	lock := rediskey.NewSweepLock(rdb, host+"-"+uuid.NewString(), cfg.SweepLockTTL())
	reconciler := payment.NewReconciler(store, gw, settler, ledger, lock, payment.ReconcilerConfig{
		Interval:  cfg.ReconcileInterval,
		Grace:     cfg.ReconcileGrace,
		MaxAge:    cfg.ReconcileMaxAge,
		BatchSize: cfg.ReconcileBatch,
	}, lg.Named("reconciler"))

	// 4. 结算事件：Stream -> Kafka -> 订单置为已支付
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.SettlementStream, cfg.SettlementGroup, cfg.SettlementConsumer, lg.Named("relay"))
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db, lg.Named("consumer"))
	defer consumer.Close()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){relay.Run, consumer.Run, reconciler.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	// 5. HTTP
	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		DB:      db,
		RDB:     rdb,
		Factory: factory,
		Settler: settler,
		Store:   store,
		Config:  cfg,
		Logger:  lg.Named("http"),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		lg.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()
}
