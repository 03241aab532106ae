// Package provider 支付渠道适配器
//
// 每个渠道说不同的外部协议，但对交易引擎暴露同一套接口：
// Begin 创建远端会话/订单并带上内部交易号，Confirm 按渠道引用查询或扣款并取回内部交易号。
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	NameStripe    = "stripe"
	NamePayPal    = "paypal"
	NameSimulated = "simulated"
)

var (
	// ErrMissingCredentials 凭证缺失或不完整，属于配置问题而不是支付失败
	ErrMissingCredentials = errors.New("provider credentials missing")
	ErrUnknownProvider    = errors.New("unknown provider")
)

// Credentials 渠道凭证，可以来自用户自有配置或全局配置
type Credentials struct {
	SecretKey    string `json:"secret_key,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Mode         string `json:"mode,omitempty"`
	APIBase      string `json:"api_base,omitempty"`
}

type BeginRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ReturnURL     string
	CancelURL     string
}

// Session Begin 的结果
type Session struct {
	RedirectURL string
	ProviderRef string // Stripe session id / PayPal order id
}

// Confirmation Confirm 的结果
type Confirmation struct {
	ProviderRef   string
	TransactionID string // 从 metadata / custom_id 取回的关联键
	Status        string // 渠道原始状态
	Paid          bool
}

type Adapter interface {
	Name() string
	// CheckCredentials 在发起网络调用前校验凭证是否齐全
	CheckCredentials(creds Credentials) error
	Begin(ctx context.Context, creds Credentials, req *BeginRequest) (*Session, error)
	Confirm(ctx context.Context, creds Credentials, providerRef string) (*Confirmation, error)
}

// Registry 按名称查找适配器
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// MissingCredentials 包装 ErrMissingCredentials，带上缺失的字段
func MissingCredentials(provider string, fields ...string) error {
	return fmt.Errorf("%w: %s requires %v", ErrMissingCredentials, provider, fields)
}

// APIError 渠道返回的非 2xx 响应
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}
