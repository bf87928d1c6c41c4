package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fengze/stockcore/internal/application/engine"
	"github.com/fengze/stockcore/internal/infrastructure/config"
	"github.com/fengze/stockcore/internal/infrastructure/notify"
	"github.com/fengze/stockcore/internal/infrastructure/persistence/mysql"
	redisStore "github.com/fengze/stockcore/internal/infrastructure/persistence/redis"
	"github.com/fengze/stockcore/pkg/metrics"
	"github.com/fengze/stockcore/pkg/mq"
)

// main 库存预留引擎守护进程
//
// 教学要点：
// 1. 启动流程
//   - 配置 → MySQL → Redis → RabbitMQ → 引擎
//   - 对外服务之前必须先完成启动清扫：
//     进程重启后已过期的预留立即回收，避免复活过期占用
//
// 2. 职责划分
//   - 本进程负责后台清扫、事件投递与指标暴露
//   - 订单流程、后台工具作为调用方使用engine包
//
// 3. 优雅关闭
//   - 停止清扫循环 → 停止事件重投 → 关闭连接池
func main() {
	// 步骤1：加载配置
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 步骤2：初始化指标
	metrics.InitMetrics()

	// 步骤3：初始化MySQL连接（自动迁移库存、预留、流水表）
	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	log.Println("✅ 数据库连接成功")

	// 步骤4：初始化Redis连接
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Redis连接失败: %v", err)
	}

	log.Println("✅ Redis连接成功")

	// 步骤5：初始化RabbitMQ发布者与通知器
	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange, "topic")
	if err != nil {
		log.Fatalf("初始化消息发布者失败: %v", err)
	}
	defer publisher.Close()

	notifier := notify.NewNotifier(publisher, cfg.MQ.Buffer)
	defer notifier.Close()

	// 步骤6：组装引擎
	stockRepo := mysql.NewStockRepository(db)
	reservationRepo := mysql.NewReservationRepository(db)
	logRepo := mysql.NewLogRepository(db)
	cache := redisStore.NewAvailabilityStore(redisClient, cfg.Redis.GetCacheTTL())

	eng := engine.New(stockRepo, reservationRepo, engine.Options{
		MaxRetries: cfg.Engine.MaxRetries,
		DefaultTTL: cfg.Engine.GetDefaultTTL(),
		Cache:      cache,
		Publisher:  notifier,
		Logs:       logRepo,
	})

	// 步骤7：启动清扫器（内部先做一轮启动清扫）
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sweeper := engine.NewSweeper(eng, cfg.Engine.GetSweepInterval(), cfg.Engine.GetRetention())

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("清扫器异常退出: %v", err)
		}
	}()

	// 步骤8：暴露/metrics端点
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Printf("📊 指标端点已启动: %s/metrics", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("指标服务启动失败: %v", err)
		}
	}()

	log.Println("🚀 stockcore 启动成功（乐观并发库存预留引擎）")

	// 步骤9：优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("📴 收到关闭信号，开始优雅关闭...")

	stop()
	<-sweeperDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Println("✅ stockcore 已安全关闭")
}
