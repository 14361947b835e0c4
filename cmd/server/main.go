package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"live_auction/internal/account"
	"live_auction/internal/config"
	"live_auction/internal/engine"
	"live_auction/internal/model"
	"live_auction/internal/money"
	"live_auction/internal/queue"
	"live_auction/internal/realtime"
	"live_auction/internal/router"
	"live_auction/internal/store"
	rediskey "live_auction/pkg/redis"
)

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	// 1. SQLite 持久层：拍卖目录 + 竞价审计
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(&model.Auction{}, &model.ProxyBid{}, &model.BidRecord{}); err != nil {
		logger.Fatalf("db migrate: %v", err)
	}

	// 2. Redis：权威状态存储 / 汇率快照 / outbox / 限流
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatalf("redis ping: %v", err)
	}
	pingCancel()

	stateStore := store.NewRedisStore(rdb)
	infoFn := auctionInfoFn(db, rdb, cfg)

	// 3. 竞价引擎：每个拍卖一条 FIFO 泳道
	seq := engine.NewSequencer(stateStore, infoFn, cfg.BidQueueSize, cfg.BidQueueTimeout, logger)

	// 4. 实时扇出 + outbox 钩子（在定序回合内按注册顺序执行）
	hub := realtime.NewHub(infoFn, stateStore.Read, logger)
	outbox := queue.NewOutbox(rdb, cfg.BidEventStream, logger)
	seq.OnCommit(hub.BroadcastFinal)
	seq.OnCommit(outbox.Append)

	// 5. 异步审计链路：Stream → Kafka → DB
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	relay := queue.NewRelay(rdb, producer, cfg.BidEventStream, cfg.BidEventGroup, cfg.BidEventConsumer)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db)

	ctx, cancel := context.WithCancel(context.Background())
	go relay.Run(ctx)
	go consumer.Run(ctx)
	go hub.Run(ctx)

	accounts := account.NewStaticDirectory(cfg.CanonicalCurrency, nil)

	r := gin.Default()
	router.Setup(r, db, rdb, stateStore, seq, cfg)
	r.GET("/ws", realtime.ServeWS(hub, seq, accounts, logger))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket 长连接不能设写超时
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Fatalf("server error: %v", err)
	case sig := <-quit:
		logger.Printf("received signal %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	cancel()
	seq.Close()
	if err := producer.Close(); err != nil {
		logger.Printf("producer close: %v", err)
	}
	if err := consumer.Close(); err != nil {
		logger.Printf("consumer close: %v", err)
	}
	if err := rdb.Close(); err != nil {
		logger.Printf("redis close: %v", err)
	}
	logger.Println("shutdown complete")
}

// auctionInfoFn 聚合拍卖静态参数：目录（DB）+ 汇率快照（Redis 缓存，
// 缺失时从配置现场冻结一份并回填）。
func auctionInfoFn(db *gorm.DB, rdb *rd.Client, cfg config.AppConfig) engine.InfoFunc {
	return func(ctx context.Context, auctionID uint) (engine.AuctionInfo, error) {
		var a model.Auction
		if err := db.WithContext(ctx).First(&a, auctionID).Error; err != nil {
			return engine.AuctionInfo{}, err
		}

		snap, found, err := rediskey.GetRateSnapshot(ctx, rdb, auctionID)
		if err != nil {
			return engine.AuctionInfo{}, err
		}
		if !found {
			snap, err = money.NewSnapshot(cfg.CanonicalCurrency, cfg.ExchangeRates, time.Now())
			if err != nil {
				return engine.AuctionInfo{}, err
			}
			// 回填失败不阻断出价，下次再冻结。
			_ = rediskey.PutRateSnapshot(ctx, rdb, auctionID, snap, cfg.RateSnapshotTTL)
		}

		return engine.AuctionInfo{
			ID:            a.ID,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
			StartingPrice: a.StartingPrice,
			BidIncrement:  a.BidIncrement,
			Snapshot:      snap,
		}, nil
	}
}
