package handler

import (
	"net/http"
	"strconv"
	"time"

	"pspgateway/internal/config"
	"pspgateway/internal/provider"
	"pspgateway/internal/provider/paypal"
	"pspgateway/internal/provider/simulated"
	"pspgateway/internal/provider/stripe"
	"pspgateway/internal/service"
	"pspgateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	registryService    *service.RegistryService
	activationService  *service.ActivationService
	transactionService *service.TransactionService
	reconcileService   *service.ReconcileService
	log                *zap.Logger
}

// NewProviderRegistry 按配置的超时创建各渠道适配器，共用一个 HTTP 客户端
func NewProviderRegistry(cfg *config.Config, log *zap.Logger) *provider.Registry {
	client := provider.NewHTTPClient(cfg.Provider.Timeout(), log)
	return provider.NewRegistry(
		stripe.New(client),
		paypal.New(client),
		simulated.New(),
	)
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger) *Handler {
	providers := NewProviderRegistry(cfg, log)
	transactionService := service.NewTransactionService(db, rdb, cfg, providers, log)
	return &Handler{
		registryService:    service.NewRegistryService(db, rdb, cfg.Business.CatalogCacheTTL(), log),
		activationService:  service.NewActivationService(db, log),
		transactionService: transactionService,
		reconcileService:   service.NewReconcileService(transactionService, providers, log),
		log:                log,
	}
}

// fail 按错误类型输出状态码；渠道和存储错误只记日志，对外返回通用提示
func (h *Handler) fail(c *gin.Context, err error) {
	msg := err.Error()
	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, msg)
	case service.KindAuth:
		response.Unauthorized(c, msg)
	case service.KindNotFound:
		response.NotFound(c, msg)
	case service.KindConflict:
		response.Conflict(c, msg)
	case service.KindConfiguration:
		h.log.Error("configuration error", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "payment provider not configured")
	case service.KindProvider:
		h.log.Error("provider error", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "payment provider error")
	default:
		h.log.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "internal server error")
	}
}

// ============================================================
// PSP 目录与激活
// ============================================================

type pspView struct {
	ID            string          `json:"id"`
	PSPName       string          `json:"psp_name"`
	FixedFee      decimal.Decimal `json:"fixed_fee"`
	PercentageFee decimal.Decimal `json:"percentage_fee"`
	Currency      string          `json:"currency"`
}

// ListPSPs 启用中的 PSP，按名称排序
// GET /api/psps
func (h *Handler) ListPSPs(c *gin.Context) {
	psps, err := h.registryService.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]pspView, 0, len(psps))
	for _, p := range psps {
		views = append(views, pspView{
			ID:            p.ID,
			PSPName:       p.PSPName,
			FixedFee:      p.FixedFee,
			PercentageFee: p.PercentageFee,
			Currency:      p.Currency,
		})
	}
	response.Success(c, views)
}

// Activate 激活账户并开通 PSP
// POST /api/activate
func (h *Handler) Activate(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "missing bearer token")
		return
	}

	var req service.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	identity := service.Identity{Subject: claims.Subject, Email: claims.Email}
	if err := h.activationService.Activate(c.Request.Context(), identity, &req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// MyPSPs 当前用户已开通的卡组织
// GET /api/me/psps
func (h *Handler) MyPSPs(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "missing bearer token")
		return
	}

	enabled, err := h.activationService.ListEnabled(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, enabled)
}

// SaveCredentials 保存用户自有的渠道凭证，响应里不回显
// PUT /api/me/credentials/:psp_id
func (h *Handler) SaveCredentials(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "missing bearer token")
		return
	}

	var req service.CredentialInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	if err := h.activationService.SaveCredentials(c.Request.Context(), claims.Subject, c.Param("psp_id"), &req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// MyTransactions 当前用户的交易列表
// GET /api/me/transactions?page=1&page_size=20
func (h *Handler) MyTransactions(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "missing bearer token")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.transactionService.ListByUser(c.Request.Context(), claims.Subject, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": list,
		"total": total,
	})
}

// ============================================================
// 交易
// ============================================================

type CreateTransactionRequest struct {
	UserID      string              `json:"user_id"`
	PSPID       string              `json:"psp_id"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency"`
	Description string              `json:"description"`
}

func (r *CreateTransactionRequest) toService(method service.Method) *service.InitiateRequest {
	return &service.InitiateRequest{
		UserID:      r.UserID,
		PSPID:       r.PSPID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Description: r.Description,
		Method:      method,
	}
}

// CreateTransaction 只记账的交易，状态后续由 webhook 推进
// POST /api/create-transaction
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	result, err := h.transactionService.Initiate(c.Request.Context(), req.toService(service.MethodRecord))
	if err != nil {
		h.fail(c, err)
		return
	}

	body := gin.H{"transaction_id": result.TransactionID}
	if result.Status != "" {
		body["status"] = result.Status
	}
	if result.Warning != "" {
		body["warning"] = result.Warning
	}
	response.Created(c, body)
}

// TransactionStatus 查询交易状态，供客户端轮询
// GET /api/transaction-status/:id
func (h *Handler) TransactionStatus(c *gin.Context) {
	trans, err := h.transactionService.Query(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	body := gin.H{
		"id":         trans.ID,
		"created_at": trans.CreatedAt.UTC().Format(time.RFC3339),
	}
	if trans.Status != "" {
		body["status"] = trans.Status
	}
	response.Success(c, body)
}

// CreateStripeSession 创建 Stripe checkout session
// POST /api/create-stripe-session
func (h *Handler) CreateStripeSession(c *gin.Context) {
	h.beginProvider(c, service.MethodHosted)
}

// CreatePayPalOrder 创建 PayPal 订单
// POST /api/create-paypal-order
func (h *Handler) CreatePayPalOrder(c *gin.Context) {
	h.beginProvider(c, service.MethodOrder)
}

func (h *Handler) beginProvider(c *gin.Context, method service.Method) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	result, err := h.transactionService.Initiate(c.Request.Context(), req.toService(method))
	if err != nil {
		h.fail(c, err)
		return
	}

	body := gin.H{
		"url":            result.RedirectURL,
		"id":             result.ProviderRef,
		"transaction_id": result.TransactionID,
	}
	if result.Warning != "" {
		body["warning"] = result.Warning
	}
	response.Success(c, body)
}

type SimulatePaymentRequest struct {
	UserID  string              `json:"user_id"`
	PSPID   string              `json:"psp_id"`
	Circuit string              `json:"circuit"`
	Amount  decimal.NullDecimal `json:"amount"`
	Card    string              `json:"card"`
}

// SimulatePayment 模拟刷卡
// POST /api/simulate-payment
func (h *Handler) SimulatePayment(c *gin.Context) {
	var req SimulatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	result, err := h.transactionService.Initiate(c.Request.Context(), &service.InitiateRequest{
		UserID:  req.UserID,
		PSPID:   req.PSPID,
		Amount:  req.Amount,
		Method:  service.MethodSimulated,
		Circuit: req.Circuit,
		Card:    req.Card,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	body := gin.H{
		"transaction_id": result.TransactionID,
		"status":         result.Status,
		"fee":            result.Fee,
	}
	if result.Warning != "" {
		body["warning"] = result.Warning
	}
	response.Success(c, body)
}

// ============================================================
// 异步通知与回跳
// ============================================================

// Webhook 负载完整就返回 200，不论是否真的改了状态
// POST /webhook/:psp_name
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "invalid request body")
		return
	}

	ack, err := h.reconcileService.HandleWebhook(c.Request.Context(), c.Param("psp_name"), payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, ack)
}

// PaymentReturn 支付回跳页面，纯文本
// GET /payment-return?psp=stripe&session_id=...&tx=...
func (h *Handler) PaymentReturn(c *gin.Context) {
	params := service.ReturnParams{
		SessionID:     c.Query("session_id"),
		Token:         c.Query("token"),
		TransactionID: c.Query("tx"),
		Cancelled:     c.Query("cancelled") == "true",
	}

	outcome, err := h.reconcileService.HandleReturn(c.Request.Context(), c.Query("psp"), params)
	if err != nil {
		if service.KindOf(err) == service.KindValidation {
			response.Text(c, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("payment return failed", zap.Error(err))
		response.Text(c, http.StatusInternalServerError, "payment verification failed")
		return
	}

	if outcome.Success || params.Cancelled {
		response.Text(c, http.StatusOK, outcome.Message)
		return
	}
	response.Text(c, http.StatusBadRequest, outcome.Message)
}
