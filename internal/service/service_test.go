package service_test

import (
	"testing"

	"pspgateway/internal/config"
	"pspgateway/internal/provider"
	"pspgateway/internal/provider/paypal"
	"pspgateway/internal/provider/simulated"
	"pspgateway/internal/provider/stripe"
	"pspgateway/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testUser = "user-1"

func testConfig(providerBase string) *config.Config {
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Kafka.Topic.TransactionStatus = "psp.transaction.status"
	cfg.Business.ReconcileLockSeconds = 5
	cfg.Business.CatalogCacheSeconds = 60
	cfg.Provider.Stripe.SecretKey = "sk_test_global"
	cfg.Provider.Stripe.APIBase = providerBase
	cfg.Provider.PayPal.ClientID = "client-global"
	cfg.Provider.PayPal.Secret = "secret-global"
	cfg.Provider.PayPal.APIBase = providerBase
	return cfg
}

func testRegistry() *provider.Registry {
	client := provider.NewHTTPClient(0, nil)
	return provider.NewRegistry(stripe.New(client), paypal.New(client), simulated.New())
}

func newEngine(t *testing.T, db *gorm.DB, rdb *redis.Client, cfg *config.Config) *service.TransactionService {
	t.Helper()
	return service.NewTransactionService(db, rdb, cfg, testRegistry(), zap.NewNop())
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}
