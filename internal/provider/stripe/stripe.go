// Package stripe 托管收银台（Checkout Session）
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pspgateway/internal/metrics"
	"pspgateway/internal/provider"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type Adapter struct {
	httpClient *http.Client
}

func New(httpClient *http.Client) *Adapter {
	return &Adapter{httpClient: httpClient}
}

func (a *Adapter) Name() string {
	return provider.NameStripe
}

func (a *Adapter) CheckCredentials(creds provider.Credentials) error {
	if creds.SecretKey == "" {
		return provider.MissingCredentials(provider.NameStripe, "secret_key")
	}
	return nil
}

// api 每次调用按凭证构造客户端，不使用 stripe-go 的全局 Key
func (a *Adapter) api(creds provider.Credentials) *client.API {
	cfg := &stripego.BackendConfig{
		HTTPClient:        a.httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	}
	if creds.APIBase != "" {
		cfg.URL = stripego.String(strings.TrimRight(creds.APIBase, "/"))
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, cfg)

	sc := &client.API{}
	sc.Init(creds.SecretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})
	return sc
}

// Begin 创建 checkout session，metadata[transaction_id] 是回跳时唯一的关联键，必须带上
func (a *Adapter) Begin(ctx context.Context, creds provider.Credentials, req *provider.BeginRequest) (*provider.Session, error) {
	if err := a.CheckCredentials(creds); err != nil {
		return nil, err
	}
	if req.TransactionID == "" {
		return nil, fmt.Errorf("stripe: transaction id required")
	}

	// Stripe 金额单位为分
	unitAmount := req.Amount.Shift(2).Round(0).IntPart()
	if unitAmount <= 0 {
		return nil, fmt.Errorf("stripe: amount must be at least one minor unit")
	}
	name := req.Description
	if name == "" {
		name = "Payment " + req.TransactionID
	}

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(req.ReturnURL),
		CancelURL:         stripego.String(req.CancelURL),
		ClientReferenceID: stripego.String(req.TransactionID),
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{},
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			Quantity: stripego.Int64(1),
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(strings.ToLower(req.Currency)),
				UnitAmount: stripego.Int64(unitAmount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(name),
				},
			},
		}},
	}
	params.Context = ctx
	params.AddMetadata("transaction_id", req.TransactionID)
	params.PaymentIntentData.AddMetadata("transaction_id", req.TransactionID)

	start := time.Now()
	session, err := a.api(creds).CheckoutSessions.New(params)
	err = wrapError(err)
	metrics.ObserveProvider(provider.NameStripe, "begin", start, err)
	if err != nil {
		return nil, err
	}

	return &provider.Session{RedirectURL: session.URL, ProviderRef: session.ID}, nil
}

// Confirm 查询 session，payment_status == paid 视为支付成功
func (a *Adapter) Confirm(ctx context.Context, creds provider.Credentials, sessionID string) (*provider.Confirmation, error) {
	if err := a.CheckCredentials(creds); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("stripe: session id required")
	}

	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	start := time.Now()
	session, err := a.api(creds).CheckoutSessions.Get(sessionID, params)
	err = wrapError(err)
	metrics.ObserveProvider(provider.NameStripe, "confirm", start, err)
	if err != nil {
		return nil, err
	}

	txID := session.Metadata["transaction_id"]
	if txID == "" {
		txID = session.ClientReferenceID
	}
	return &provider.Confirmation{
		ProviderRef:   session.ID,
		TransactionID: txID,
		Status:        string(session.PaymentStatus),
		Paid:          session.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
	}, nil
}

// wrapError 把 stripe-go 的错误转成统一的 APIError，只保留状态码和提示
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return &provider.APIError{Provider: provider.NameStripe, StatusCode: stripeErr.HTTPStatusCode, Body: stripeErr.Msg}
	}
	return fmt.Errorf("stripe request failed: %w", err)
}
