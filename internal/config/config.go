package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pspgateway/pkg/logger"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Provider ProviderConfig `mapstructure:"provider"`
	Log      logger.Config  `mapstructure:"log"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"` // 用于拼接支付回跳地址
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"` // 设置后忽略下面的分项
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

func (c *MySQLConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"` // 为空时不启用缓存与分布式锁
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"` // 为空时 outbox 只落库不投递
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionStatus string `mapstructure:"transaction_status"`
}

type BusinessConfig struct {
	MaxRetryCount        int `mapstructure:"max_retry_count"`
	CatalogCacheSeconds  int `mapstructure:"catalog_cache_seconds"`
	ReconcileLockSeconds int `mapstructure:"reconcile_lock_seconds"`
}

func (c *BusinessConfig) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheSeconds) * time.Second
}

func (c *BusinessConfig) ReconcileLockTTL() time.Duration {
	return time.Duration(c.ReconcileLockSeconds) * time.Second
}

// AuthConfig 外部身份提供方签发的 token 校验参数
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // HS256 共享密钥
	JWKSURL   string `mapstructure:"jwks_url"`   // 设置后优先使用公钥集校验
	Audience  string `mapstructure:"audience"`
}

type ProviderConfig struct {
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
	Stripe         StripeConfig `mapstructure:"stripe"`
	PayPal         PayPalConfig `mapstructure:"paypal"`
}

func (c *ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StripeConfig 全局 Stripe 凭证，用户未配置自有凭证时使用
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	APIBase   string `mapstructure:"api_base"`
}

type PayPalConfig struct {
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
	Mode     string `mapstructure:"mode"` // sandbox 或 live
	APIBase  string `mapstructure:"api_base"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "pspgateway")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("mysql.auto_migrate", true)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.transaction_status", "psp.transaction.status")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.catalog_cache_seconds", 60)
	v.SetDefault("business.reconcile_lock_seconds", 15)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("provider.timeout_seconds", 10)
	v.SetDefault("provider.stripe.secret_key", "")
	v.SetDefault("provider.stripe.api_base", "https://api.stripe.com")
	v.SetDefault("provider.paypal.client_id", "")
	v.SetDefault("provider.paypal.secret", "")
	v.SetDefault("provider.paypal.mode", "sandbox")
	v.SetDefault("provider.paypal.api_base", "")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.filename", "logs/app.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// LoadConfig 加载配置文件
//
// 读取顺序：.env -> 配置文件 -> 环境变量（PSP_ 前缀，例如 PSP_MYSQL_DSN）。
// 配置文件不存在时只使用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}
