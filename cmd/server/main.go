package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pspgateway/internal/auth"
	"pspgateway/internal/config"
	"pspgateway/internal/handler"
	"pspgateway/internal/infrastructure/cache"
	"pspgateway/internal/infrastructure/database"
	"pspgateway/internal/infrastructure/mq"
	"pspgateway/internal/job"
	"pspgateway/pkg/idgen"
	"pspgateway/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法 worker id")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	zlog, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		zlog.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, zlog)
	if err != nil {
		zlog.Fatal("初始化 MySQL 失败", zap.Error(err))
	}

	// 初始化 Redis，可选
	redisClient, err := cache.InitRedis(&cfg.Redis, zlog)
	if err != nil {
		zlog.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Kafka，未配置 broker 时事件只落 outbox 表
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			zlog.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(db, publisher, cfg, zlog)
		go outboxSender.Start(ctx)
	} else {
		zlog.Warn("未配置 Kafka broker，状态事件只写入 outbox 表")
	}

	// 身份校验
	verifier, err := auth.NewVerifier(ctx, &cfg.Auth)
	if errors.Is(err, auth.ErrNotConfigured) {
		zlog.Warn("未配置 token 校验，账户激活接口将拒绝所有请求")
	} else if err != nil {
		zlog.Fatal("初始化 token 校验失败", zap.Error(err))
	}

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, verifier, zlog)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("base_url", cfg.Server.BaseURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("服务关闭异常", zap.Error(err))
	}

	zlog.Info("服务已关闭")
}
