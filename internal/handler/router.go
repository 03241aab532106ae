package handler

import (
	"pspgateway/internal/auth"
	"pspgateway/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, verifier auth.Verifier, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, log)

	api := r.Group("/api")
	{
		api.GET("/psps", h.ListPSPs)

		api.POST("/create-transaction", h.CreateTransaction)
		api.GET("/transaction-status/:id", h.TransactionStatus)
		api.POST("/create-stripe-session", h.CreateStripeSession)
		api.POST("/create-paypal-order", h.CreatePayPalOrder)
		api.POST("/simulate-payment", h.SimulatePayment)

		// 需要身份提供方签发的 token
		authed := api.Group("", AuthMiddleware(verifier))
		{
			authed.POST("/activate", h.Activate)
			authed.GET("/me/psps", h.MyPSPs)
			authed.PUT("/me/credentials/:psp_id", h.SaveCredentials)
			authed.GET("/me/transactions", h.MyTransactions)
		}
	}

	r.POST("/webhook/:psp_name", h.Webhook)
	r.GET("/payment-return", h.PaymentReturn)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
