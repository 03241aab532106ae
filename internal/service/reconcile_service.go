package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pspgateway/internal/provider"

	"go.uber.org/zap"
)

// 事件来源
const (
	EventSourceGeneric = "generic"
	EventSourceStripe  = "stripe"
	EventSourcePayPal  = "paypal"
)

const verificationFailed = "payment verification failed"

// ReconciliationEvent 各渠道 webhook 归一化后的事件
type ReconciliationEvent struct {
	Source        string
	Type          string
	TransactionID string
	Status        string
}

type stripeObject struct {
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type paypalResource struct {
	Status        string `json:"status"`
	CustomID      string `json:"custom_id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
	} `json:"purchase_units"`
}

type webhookEnvelope struct {
	// 通用格式
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`

	// Stripe event
	Type string `json:"type"`
	Data *struct {
		Object *stripeObject `json:"object"`
	} `json:"data"`

	// PayPal event
	EventType string          `json:"event_type"`
	Resource  *paypalResource `json:"resource"`
}

// stripeEventStatus 部分事件类型本身就说明了结果
var stripeEventStatus = map[string]string{
	"checkout.session.expired":                 "expired",
	"checkout.session.async_payment_failed":    "failed",
	"checkout.session.async_payment_succeeded": "paid",
	"payment_intent.succeeded":                 "succeeded",
	"payment_intent.payment_failed":            "failed",
	"payment_intent.canceled":                  "canceled",
}

// ParseEvent 按负载结构识别通用、Stripe、PayPal 三种格式，缺少交易号或状态时返回 ValidationError
func ParseEvent(pspName string, payload []byte) (*ReconciliationEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ValidationError("invalid payload")
	}

	event := &ReconciliationEvent{Source: EventSourceGeneric}
	switch {
	case env.TransactionID != "" || env.Status != "":
		event.TransactionID = env.TransactionID
		event.Status = env.Status

	case env.Type != "" && env.Data != nil && env.Data.Object != nil:
		obj := env.Data.Object
		event.Source = EventSourceStripe
		event.Type = env.Type
		event.TransactionID = obj.Metadata["transaction_id"]
		if event.TransactionID == "" {
			event.TransactionID = obj.ClientReferenceID
		}
		event.Status = stripeEventStatus[env.Type]
		if event.Status == "" {
			event.Status = obj.PaymentStatus
		}
		if event.Status == "" {
			event.Status = obj.Status
		}

	case env.EventType != "" && env.Resource != nil:
		res := env.Resource
		event.Source = EventSourcePayPal
		event.Type = env.EventType
		event.TransactionID = res.CustomID
		if event.TransactionID == "" && len(res.PurchaseUnits) > 0 {
			event.TransactionID = res.PurchaseUnits[0].CustomID
		}
		event.Status = res.Status
	}

	event.TransactionID = strings.TrimSpace(event.TransactionID)
	event.Status = strings.TrimSpace(event.Status)
	if event.TransactionID == "" || event.Status == "" {
		return nil, ValidationError(fmt.Sprintf("%s webhook missing transaction_id or status", pspName))
	}
	return event, nil
}

// Ack webhook 回执
type Ack struct {
	Received      bool   `json:"received"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

type ReturnParams struct {
	SessionID     string
	Token         string
	TransactionID string
	Cancelled     bool
}

type ReturnOutcome struct {
	Success       bool
	TransactionID string
	Message       string
}

// ReconcileService webhook 推送和回跳拉取都归一到 TransactionService.Reconcile
type ReconcileService struct {
	engine    *TransactionService
	providers *provider.Registry
	log       *zap.Logger
}

func NewReconcileService(engine *TransactionService, providers *provider.Registry, log *zap.Logger) *ReconcileService {
	return &ReconcileService{
		engine:    engine,
		providers: providers,
		log:       log,
	}
}

// HandleWebhook 负载合法就确认收到，不论账本是否真的发生变化
func (s *ReconcileService) HandleWebhook(ctx context.Context, pspName string, payload []byte) (*Ack, error) {
	event, err := ParseEvent(pspName, payload)
	if err != nil {
		s.log.Warn("webhook 负载不完整", zap.String("psp", pspName), zap.Error(err))
		return nil, err
	}

	ack := &Ack{Received: true, TransactionID: event.TransactionID}
	result, err := s.engine.Reconcile(ctx, event.TransactionID, event.Status)
	if err != nil {
		s.log.Warn("webhook 对账未生效",
			zap.String("psp", pspName),
			zap.String("source", event.Source),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
		switch KindOf(err) {
		case KindNotFound:
			ack.Warning = "unknown transaction"
		default:
			ack.Warning = "status update not applied"
		}
		return ack, nil
	}

	ack.Outcome = result.Outcome
	ack.Warning = result.Warning
	s.log.Info("webhook 已处理",
		zap.String("psp", pspName),
		zap.String("source", event.Source),
		zap.String("event_type", event.Type),
		zap.String("transaction_id", event.TransactionID),
		zap.String("outcome", result.Outcome),
	)
	return ack, nil
}

// HandleReturn 支付回跳：Stripe 查询 session，PayPal 执行扣款，成功后推进到 completed
//
// 渠道侧的错误细节只写日志，返回给用户的是统一的验证失败提示。
func (s *ReconcileService) HandleReturn(ctx context.Context, pspName string, params ReturnParams) (*ReturnOutcome, error) {
	var ref string
	switch pspName {
	case provider.NameStripe:
		ref = params.SessionID
	case provider.NamePayPal:
		ref = params.Token
	default:
		return nil, ValidationError("unsupported psp")
	}

	if params.Cancelled {
		return &ReturnOutcome{TransactionID: params.TransactionID, Message: "Payment was cancelled."}, nil
	}
	if ref == "" {
		return nil, ValidationError("missing payment reference")
	}

	adapter, err := s.providers.Get(pspName)
	if err != nil {
		s.log.Error("回跳渠道未注册", zap.String("psp", pspName), zap.Error(err))
		return s.failed(params.TransactionID), nil
	}

	creds, err := s.credentialsFor(ctx, pspName, params.TransactionID)
	if err != nil {
		s.log.Error("回跳凭证解析失败", zap.String("psp", pspName), zap.Error(err))
		return s.failed(params.TransactionID), nil
	}

	conf, err := adapter.Confirm(ctx, creds, ref)
	if err != nil {
		s.log.Error("回跳确认失败", zap.String("psp", pspName), zap.String("ref", ref), zap.Error(err))
		return s.failed(params.TransactionID), nil
	}
	if conf.TransactionID == "" {
		s.log.Error("渠道未返回关联交易号", zap.String("psp", pspName), zap.String("ref", ref))
		return s.failed(params.TransactionID), nil
	}
	if params.TransactionID != "" && params.TransactionID != conf.TransactionID {
		s.log.Error("回跳交易号与渠道关联键不一致",
			zap.String("psp", pspName),
			zap.String("tx", params.TransactionID),
			zap.String("correlation", conf.TransactionID),
		)
		return s.failed(params.TransactionID), nil
	}

	if !conf.Paid {
		return &ReturnOutcome{
			TransactionID: conf.TransactionID,
			Message:       fmt.Sprintf("Payment not completed (status: %s).", conf.Status),
		}, nil
	}

	result, err := s.engine.Reconcile(ctx, conf.TransactionID, "completed")
	if err != nil {
		s.log.Error("回跳对账失败", zap.String("transaction_id", conf.TransactionID), zap.Error(err))
		if KindOf(err) == KindNotFound {
			return s.failed(conf.TransactionID), nil
		}
		return &ReturnOutcome{
			Success:       true,
			TransactionID: conf.TransactionID,
			Message:       "Payment received. Confirmation is pending.",
		}, nil
	}

	if result.Outcome == OutcomeRejected {
		// 渠道已扣款但本地交易已终结，需要人工核对
		s.log.Error("渠道确认已支付，但交易状态不可推进",
			zap.String("psp", pspName),
			zap.String("transaction_id", conf.TransactionID),
			zap.String("status", result.Status),
		)
		return &ReturnOutcome{
			TransactionID: conf.TransactionID,
			Message: fmt.Sprintf("Payment received, but transaction %s is already %s. Please contact support.",
				conf.TransactionID, result.Status),
		}, nil
	}

	return &ReturnOutcome{
		Success:       true,
		TransactionID: conf.TransactionID,
		Message:       "Payment completed. Transaction " + conf.TransactionID + ".",
	}, nil
}

// credentialsFor 带 tx 参数时按交易所属用户解析凭证，否则用全局凭证
func (s *ReconcileService) credentialsFor(ctx context.Context, pspName, txID string) (provider.Credentials, error) {
	if txID == "" {
		return s.engine.resolver.Resolve(ctx, pspName, "", "")
	}
	trans, err := s.engine.Query(ctx, txID)
	if err != nil {
		return provider.Credentials{}, err
	}
	return s.engine.resolver.Resolve(ctx, pspName, trans.UserID, trans.PSPID)
}

func (s *ReconcileService) failed(txID string) *ReturnOutcome {
	return &ReturnOutcome{TransactionID: txID, Message: verificationFailed}
}
