package main

import (
	"fmt"
	"os"

	"pspgateway/internal/config"
	"pspgateway/internal/infrastructure/cache"
	"pspgateway/internal/infrastructure/database"
	"pspgateway/internal/service"
	"pspgateway/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "pspctl",
		Short:        "pspctl - PSP 目录与数据库运维工具",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(deactivateCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env 命令共用的依赖
type env struct {
	cfg *config.Config
	db  *gorm.DB
	rdb *redis.Client
	log *zap.Logger
}

func (e *env) close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Sync()
}

func (e *env) registry() *service.RegistryService {
	return service.NewRegistryService(e.db, e.rdb, e.cfg.Business.CatalogCacheTTL(), e.log)
}

func loadEnv() (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	// 命令行工具不写日志文件
	cfg.Log.Filename = ""
	cfg.Log.Level = "WARN"
	log, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return nil, err
	}

	// 迁移由 migrate 子命令显式执行
	cfg.MySQL.AutoMigrate = false
	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		return nil, err
	}

	// Redis 不可用时照常写库，目录缓存按 TTL 自然过期
	rdb, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.Warn("Redis 不可用，跳过缓存失效", zap.Error(err))
		rdb = nil
	}

	return &env{cfg: cfg, db: db, rdb: rdb, log: log}, nil
}
