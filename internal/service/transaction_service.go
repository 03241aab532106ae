package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pspgateway/internal/config"
	"pspgateway/internal/infrastructure/lock"
	"pspgateway/internal/metrics"
	"pspgateway/internal/model"
	"pspgateway/internal/provider"
	"pspgateway/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Method 交易发起方式，决定初始状态和走哪个渠道
type Method string

const (
	MethodRecord    Method = "record"    // 只记账，不调用渠道
	MethodHosted    Method = "hosted"    // Stripe 托管收银台
	MethodOrder     Method = "order"     // PayPal 订单/扣款
	MethodSimulated Method = "simulated" // 模拟刷卡，同步确认
)

const (
	OutcomeApplied     = "applied"
	OutcomeUnchanged   = "unchanged"
	OutcomeRejected    = "rejected"
	OutcomeIgnored     = "ignored"
	OutcomeUnsupported = "unsupported"

	WarningStatusUnsupported = "status tracking unavailable"
	WarningFeeUnavailable    = "fee unavailable"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	completedVocabulary = []string{"completed", "complete", "paid", "succeeded", "success", "captured"}
	failedVocabulary    = []string{"failed", "failure", "canceled", "cancelled", "denied", "declined", "expired", "voided"}
)

// MapProviderStatus 渠道状态词映射为内部状态，不认识的返回空串（保持不变）
func MapProviderStatus(providerStatus string) string {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	for _, v := range completedVocabulary {
		if s == v {
			return model.TransactionStatusCompleted
		}
	}
	for _, v := range failedVocabulary {
		if s == v {
			return model.TransactionStatusFailed
		}
	}
	return ""
}

type InitiateRequest struct {
	UserID      string              `json:"user_id"`
	PSPID       string              `json:"psp_id"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency"`
	Description string              `json:"description"`
	Method      Method              `json:"method"`
	Circuit     string              `json:"circuit"`
	Card        string              `json:"card"`
}

type InitiateResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status,omitempty"`
	RedirectURL   string `json:"url,omitempty"`
	ProviderRef   string `json:"id,omitempty"`
	Fee           string `json:"fee,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

type ReconcileResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status,omitempty"`
	Outcome       string `json:"outcome"`
	Warning       string `json:"warning,omitempty"`
}

// TransactionService 交易生命周期引擎
//
// 状态机：pending -> ok | failed | completed，ok -> completed。
// 每次发起都会落一行记录，失败的尝试也不例外。
// 渠道调用期间不持有数据库事务。
type TransactionService struct {
	ledger         *repository.TransactionRepository
	eligibility    *EligibilityService
	enablementRepo *repository.EnablementRepository
	providers      *provider.Registry
	resolver       *provider.Resolver
	redisClient    *redis.Client
	lockTTL        time.Duration
	baseURL        string
	log            *zap.Logger
}

func NewTransactionService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, providers *provider.Registry, log *zap.Logger) *TransactionService {
	enablementRepo := repository.NewEnablementRepository(db)
	lockTTL := cfg.Business.ReconcileLockTTL()
	if lockTTL <= 0 {
		lockTTL = 15 * time.Second
	}
	return &TransactionService{
		ledger:         repository.NewTransactionRepository(db, cfg.Kafka.Topic.TransactionStatus),
		eligibility:    NewEligibilityService(db),
		enablementRepo: enablementRepo,
		providers:      providers,
		resolver:       provider.NewResolver(enablementRepo, &cfg.Provider),
		redisClient:    redisClient,
		lockTTL:        lockTTL,
		baseURL:        strings.TrimRight(cfg.Server.BaseURL, "/"),
		log:            log,
	}
}

// Ledger 账本，供对账和后台任务共用同一个能力探测结果
func (s *TransactionService) Ledger() *repository.TransactionRepository {
	return s.ledger
}

func (s *TransactionService) validate(req *InitiateRequest) error {
	if req.Method == "" {
		req.Method = MethodRecord
	}
	switch req.Method {
	case MethodRecord, MethodHosted, MethodOrder, MethodSimulated:
	default:
		return ValidationError("unknown method " + string(req.Method))
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.PSPID = strings.TrimSpace(req.PSPID)
	if req.UserID == "" {
		return ValidationError("user_id required")
	}
	if req.PSPID == "" {
		return ValidationError("psp_id required")
	}
	if !req.Amount.Valid {
		return ValidationError("amount required")
	}
	if !req.Amount.Decimal.IsPositive() {
		return ValidationError("amount must be a positive number")
	}
	// 账本金额为两位小数
	if !req.Amount.Decimal.Equal(req.Amount.Decimal.Round(2)) {
		return ValidationError("amount must have at most 2 decimal places")
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = model.DefaultCurrency
	}
	if len(req.Currency) != 3 {
		return ValidationError("currency must be a 3-letter code")
	}
	if len(req.Description) > 255 {
		return ValidationError("description too long")
	}

	if req.Method == MethodSimulated {
		if strings.TrimSpace(req.Card) == "" {
			return ValidationError("card required")
		}
		if req.Circuit == "" {
			return ValidationError("circuit required")
		}
	}
	return nil
}

// Initiate 发起一笔交易
func (s *TransactionService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var (
		eligible bool
		err      error
	)
	if req.Method == MethodSimulated {
		eligible, err = s.eligibility.IsCircuitEnabled(ctx, req.UserID, req.PSPID, req.Circuit)
	} else {
		eligible, err = s.eligibility.IsEnabled(ctx, req.UserID, req.PSPID)
	}
	if err != nil {
		s.log.Error("开通校验失败", zap.String("user_id", req.UserID), zap.String("psp_id", req.PSPID), zap.Error(err))
		s.recordFailed(ctx, req)
		return nil, err
	}
	if !eligible {
		txID := s.recordFailed(ctx, req)
		metrics.TransactionsInitiated.WithLabelValues(string(req.Method), model.TransactionStatusFailed).Inc()
		s.log.Info("PSP 未开通，已记录失败交易",
			zap.String("transaction_id", txID),
			zap.String("user_id", req.UserID),
			zap.String("psp_id", req.PSPID),
		)
		if req.Method == MethodSimulated {
			return nil, NotFoundError("psp not enabled for user")
		}
		return nil, ValidationError("psp not enabled for user")
	}

	// 模拟支付同样先落 pending，适配器确认后再推进到 ok
	trans := s.newTransaction(req, model.TransactionStatusPending)
	txID, err := s.ledger.Create(ctx, trans)
	if err != nil {
		s.log.Error("写入交易失败", zap.String("user_id", req.UserID), zap.Error(err))
		s.recordFailed(ctx, req)
		return nil, PersistenceError("failed to record transaction", err)
	}

	result := &InitiateResult{TransactionID: txID, Status: trans.Status}
	if trans.Status == "" {
		result.Warning = WarningStatusUnsupported
	}

	switch req.Method {
	case MethodHosted:
		err = s.dispatch(ctx, provider.NameStripe, req, result)
	case MethodOrder:
		err = s.dispatch(ctx, provider.NamePayPal, req, result)
	case MethodSimulated:
		err = s.simulate(ctx, req, result)
	}
	if err != nil {
		return nil, err
	}

	metrics.TransactionsInitiated.WithLabelValues(string(req.Method), result.Status).Inc()
	s.log.Info("交易已创建",
		zap.String("transaction_id", txID),
		zap.String("method", string(req.Method)),
		zap.String("status", result.Status),
	)
	return result, nil
}

func (s *TransactionService) newTransaction(req *InitiateRequest, status string) *model.Transaction {
	return &model.Transaction{
		UserID:      req.UserID,
		PSPID:       req.PSPID,
		Amount:      req.Amount.Decimal.Round(2),
		Currency:    req.Currency,
		Description: req.Description,
		Status:      status,
	}
}

// recordFailed 尽力落一行 failed 记录用于审计，失败只记日志
func (s *TransactionService) recordFailed(ctx context.Context, req *InitiateRequest) string {
	txID, err := s.ledger.Create(ctx, s.newTransaction(req, model.TransactionStatusFailed))
	if err != nil {
		s.log.Error("记录失败交易失败", zap.String("user_id", req.UserID), zap.String("psp_id", req.PSPID), zap.Error(err))
		return ""
	}
	return txID
}

// markFailed 渠道调用失败后把已落库的交易推进到 failed
func (s *TransactionService) markFailed(ctx context.Context, txID string) {
	change, err := s.ledger.UpdateStatus(ctx, txID, model.TransactionStatusFailed)
	switch {
	case errors.Is(err, repository.ErrStatusUnsupported):
	case err != nil:
		s.log.Error("标记交易失败状态失败", zap.String("transaction_id", txID), zap.Error(err))
	case change.Outcome == repository.UpdateRejected:
		s.log.Warn("交易状态不允许转为 failed", zap.String("transaction_id", txID), zap.String("status", change.From))
	}
}

func (s *TransactionService) returnURLs(pspName, txID string) (string, string) {
	base := fmt.Sprintf("%s/payment-return?psp=%s&tx=%s", s.baseURL, pspName, txID)
	if pspName == provider.NameStripe {
		// Stripe 在跳转时替换占位符，不能转义
		return base + "&session_id={CHECKOUT_SESSION_ID}", base + "&cancelled=true"
	}
	return base, base + "&cancelled=true"
}

func (s *TransactionService) dispatch(ctx context.Context, name string, req *InitiateRequest, result *InitiateResult) error {
	adapter, err := s.providers.Get(name)
	if err != nil {
		s.markFailed(ctx, result.TransactionID)
		return ConfigurationError("payment provider not configured", err)
	}

	creds, err := s.resolver.Resolve(ctx, name, req.UserID, req.PSPID)
	if err == nil {
		err = adapter.CheckCredentials(creds)
	}
	if err != nil {
		s.markFailed(ctx, result.TransactionID)
		s.log.Warn("渠道凭证不可用", zap.String("provider", name), zap.String("transaction_id", result.TransactionID), zap.Error(err))
		return ConfigurationError("payment provider credentials missing", err)
	}

	returnURL, cancelURL := s.returnURLs(name, result.TransactionID)
	session, err := adapter.Begin(ctx, creds, &provider.BeginRequest{
		TransactionID: result.TransactionID,
		Amount:        req.Amount.Decimal.Round(2),
		Currency:      req.Currency,
		Description:   req.Description,
		ReturnURL:     returnURL,
		CancelURL:     cancelURL,
	})
	if err != nil {
		s.markFailed(ctx, result.TransactionID)
		s.log.Error("渠道下单失败", zap.String("provider", name), zap.String("transaction_id", result.TransactionID), zap.Error(err))
		if errors.Is(err, provider.ErrMissingCredentials) {
			return ConfigurationError("payment provider credentials missing", err)
		}
		return ProviderError("payment provider error", err)
	}

	result.RedirectURL = session.RedirectURL
	result.ProviderRef = session.ProviderRef
	return nil
}

func (s *TransactionService) simulate(ctx context.Context, req *InitiateRequest, result *InitiateResult) error {
	adapter, err := s.providers.Get(provider.NameSimulated)
	if err != nil {
		s.markFailed(ctx, result.TransactionID)
		return ConfigurationError("simulated provider not configured", err)
	}

	session, err := adapter.Begin(ctx, provider.Credentials{}, &provider.BeginRequest{
		TransactionID: result.TransactionID,
		Amount:        req.Amount.Decimal,
		Currency:      req.Currency,
	})
	if err != nil {
		s.markFailed(ctx, result.TransactionID)
		return ProviderError("payment provider error", err)
	}
	result.ProviderRef = session.ProviderRef

	if result.Status != "" {
		change, err := s.ledger.UpdateStatus(ctx, result.TransactionID, model.TransactionStatusOK)
		switch {
		case errors.Is(err, repository.ErrStatusUnsupported):
			result.Status = ""
			result.Warning = WarningStatusUnsupported
		case err != nil:
			s.log.Error("模拟支付状态写入失败", zap.String("transaction_id", result.TransactionID), zap.Error(err))
			return PersistenceError("failed to update transaction", err)
		default:
			if change.Outcome == repository.UpdateRejected {
				s.log.Warn("模拟支付确认时交易已终结",
					zap.String("transaction_id", result.TransactionID),
					zap.String("status", change.From),
				)
			}
			result.Status = change.Transaction.Status
		}
	}

	cond, err := s.enablementRepo.GetCondition(ctx, req.UserID, req.PSPID, req.Circuit)
	if err != nil {
		s.log.Warn("读取费率失败", zap.String("transaction_id", result.TransactionID), zap.Error(err))
		result.Warning = WarningFeeUnavailable
		return nil
	}
	result.Fee = cond.Fee(req.Amount.Decimal).StringFixed(2)
	return nil
}

// Reconcile 按渠道状态推进交易，只进不退，重复调用幂等
func (s *TransactionService) Reconcile(ctx context.Context, txID, providerStatus string) (*ReconcileResult, error) {
	if txID == "" || strings.TrimSpace(providerStatus) == "" {
		return nil, ValidationError("transaction_id and status required")
	}

	target := MapProviderStatus(providerStatus)
	if target == "" {
		trans, err := s.Query(ctx, txID)
		if err != nil {
			return nil, err
		}
		metrics.TransactionsReconciled.WithLabelValues("none", OutcomeIgnored).Inc()
		return &ReconcileResult{TransactionID: txID, Status: trans.Status, Outcome: OutcomeIgnored}, nil
	}

	if release := s.acquireLock(ctx, txID); release != nil {
		defer release()
	}

	change, err := s.ledger.UpdateStatus(ctx, txID, target)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTransactionNotFound):
			return nil, NotFoundError("transaction not found")
		case errors.Is(err, repository.ErrStatusUnsupported):
			s.log.Warn("账本不支持状态跟踪，跳过对账", zap.String("transaction_id", txID))
			metrics.TransactionsReconciled.WithLabelValues(target, OutcomeUnsupported).Inc()
			return &ReconcileResult{TransactionID: txID, Outcome: OutcomeUnsupported, Warning: WarningStatusUnsupported}, nil
		default:
			s.log.Error("对账写入失败", zap.String("transaction_id", txID), zap.Error(err))
			return nil, PersistenceError("failed to update transaction", err)
		}
	}

	outcome := change.Outcome.String()
	metrics.TransactionsReconciled.WithLabelValues(target, outcome).Inc()
	s.log.Info("交易对账",
		zap.String("transaction_id", txID),
		zap.String("provider_status", providerStatus),
		zap.String("from", change.From),
		zap.String("to", target),
		zap.String("outcome", outcome),
	)
	return &ReconcileResult{
		TransactionID: txID,
		Status:        change.Transaction.Status,
		Outcome:       outcome,
	}, nil
}

// acquireLock 同一笔交易的对账串行化；拿不到锁照常执行，正确性由条件更新保证
func (s *TransactionService) acquireLock(ctx context.Context, txID string) func() {
	if s.redisClient == nil {
		return nil
	}

	l := lock.NewReconcileLock(s.redisClient, txID, uuid.NewString(), s.lockTTL)
	if err := l.Lock(ctx, 50*time.Millisecond, 40); err != nil {
		s.log.Warn("获取对账锁失败，继续执行", zap.String("transaction_id", txID), zap.Error(err))
		return nil
	}
	return func() {
		if err := l.Unlock(context.Background()); err != nil {
			s.log.Warn("释放对账锁失败", zap.String("transaction_id", txID), zap.Error(err))
		}
	}
}

// ListByUser 分页查询用户的交易，按创建时间倒序
func (s *TransactionService) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if userID == "" {
		return nil, 0, ValidationError("user_id required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	list, total, err := s.ledger.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, PersistenceError("failed to list transactions", err)
	}
	return list, total, nil
}

// Query 只读查询
func (s *TransactionService) Query(ctx context.Context, txID string) (*model.Transaction, error) {
	trans, err := s.ledger.Get(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, NotFoundError("transaction not found")
		}
		return nil, PersistenceError("failed to load transaction", err)
	}
	return trans, nil
}
