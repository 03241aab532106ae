package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"pspgateway/internal/config"
	"pspgateway/internal/model"
)

// CredentialStore 用户自有凭证的存储，由 EnablementRepository 实现
type CredentialStore interface {
	GetCredential(ctx context.Context, userID, pspID string) (*model.ProviderCredential, error)
}

// Resolver 每次请求解析凭证：先查用户自有配置，再回落到全局配置
type Resolver struct {
	store  CredentialStore
	global map[string]Credentials
}

func NewResolver(store CredentialStore, cfg *config.ProviderConfig) *Resolver {
	return &Resolver{
		store: store,
		global: map[string]Credentials{
			NameStripe: {
				SecretKey: cfg.Stripe.SecretKey,
				APIBase:   cfg.Stripe.APIBase,
			},
			NamePayPal: {
				ClientID:     cfg.PayPal.ClientID,
				ClientSecret: cfg.PayPal.Secret,
				Mode:         cfg.PayPal.Mode,
				APIBase:      cfg.PayPal.APIBase,
			},
		},
	}
}

// Resolve 用户配置里没填的字段用全局配置补齐
func (r *Resolver) Resolve(ctx context.Context, providerName, userID, pspID string) (Credentials, error) {
	creds := r.global[providerName]
	if r.store == nil || userID == "" || pspID == "" {
		return creds, nil
	}

	row, err := r.store.GetCredential(ctx, userID, pspID)
	if err != nil {
		return Credentials{}, fmt.Errorf("查询用户凭证失败: %w", err)
	}
	if row == nil || len(row.Config) == 0 {
		return creds, nil
	}

	var own Credentials
	if err := json.Unmarshal(row.Config, &own); err != nil {
		return Credentials{}, fmt.Errorf("%w: malformed credential config", ErrMissingCredentials)
	}
	return merge(own, creds), nil
}

func merge(own, fallback Credentials) Credentials {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	// 用户自带 client_id 时不能混用全局 secret
	if own.ClientID != "" {
		fallback.ClientSecret = ""
	}
	return Credentials{
		SecretKey:    pick(own.SecretKey, fallback.SecretKey),
		ClientID:     pick(own.ClientID, fallback.ClientID),
		ClientSecret: pick(own.ClientSecret, fallback.ClientSecret),
		Mode:         pick(own.Mode, fallback.Mode),
		APIBase:      pick(own.APIBase, fallback.APIBase),
	}
}
