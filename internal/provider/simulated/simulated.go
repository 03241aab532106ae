// Package simulated 模拟刷卡，不发网络请求，同步确认
package simulated

import (
	"context"
	"fmt"
	"strings"

	"pspgateway/internal/provider"
)

const (
	StatusOK  = "ok"
	refPrefix = "sim_"
)

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string {
	return provider.NameSimulated
}

func (a *Adapter) CheckCredentials(provider.Credentials) error {
	return nil
}

// Begin 卡号与开通校验由交易引擎完成，这里只回传引用
func (a *Adapter) Begin(_ context.Context, _ provider.Credentials, req *provider.BeginRequest) (*provider.Session, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("simulated: transaction id required")
	}
	return &provider.Session{ProviderRef: refPrefix + req.TransactionID}, nil
}

func (a *Adapter) Confirm(_ context.Context, _ provider.Credentials, providerRef string) (*provider.Confirmation, error) {
	return &provider.Confirmation{
		ProviderRef:   providerRef,
		TransactionID: strings.TrimPrefix(providerRef, refPrefix),
		Status:        StatusOK,
		Paid:          true,
	}, nil
}
