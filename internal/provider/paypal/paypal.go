// Package paypal 订单/扣款两段式流程
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pspgateway/internal/metrics"
	"pspgateway/internal/provider"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	sandboxAPIBase = "https://api-m.sandbox.paypal.com"
	liveAPIBase    = "https://api-m.paypal.com"

	StatusCompleted = "COMPLETED"
)

type Adapter struct {
	httpClient *http.Client
}

func New(httpClient *http.Client) *Adapter {
	return &Adapter{httpClient: httpClient}
}

func (a *Adapter) Name() string {
	return provider.NamePayPal
}

func (a *Adapter) CheckCredentials(creds provider.Credentials) error {
	var missing []string
	if creds.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if creds.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return provider.MissingCredentials(provider.NamePayPal, missing...)
	}
	return nil
}

func baseURL(creds provider.Credentials) string {
	if creds.APIBase != "" {
		return strings.TrimRight(creds.APIBase, "/")
	}
	if creds.Mode == "live" {
		return liveAPIBase
	}
	return sandboxAPIBase
}

// getAccessToken client_credentials 换取访问令牌，令牌请求同样走带日志的 HTTP 客户端
func (a *Adapter) getAccessToken(ctx context.Context, creds provider.Credentials) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     baseURL(creds) + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	token, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			err = &provider.APIError{
				Provider:   provider.NamePayPal,
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       retrieveErr.ErrorCode,
			}
		}
		return nil, fmt.Errorf("paypal token exchange failed: %w", err)
	}
	return token, nil
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string  `json:"reference_id,omitempty"`
	CustomID    string  `json:"custom_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      *amount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []link         `json:"links"`
}

type createOrderRequest struct {
	Intent             string         `json:"intent"`
	PurchaseUnits      []purchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url,omitempty"`
		CancelURL string `json:"cancel_url,omitempty"`
	} `json:"application_context"`
}

// Begin 创建订单，custom_id 等于内部交易号，返回 approve 链接
func (a *Adapter) Begin(ctx context.Context, creds provider.Credentials, req *provider.BeginRequest) (*provider.Session, error) {
	if err := a.CheckCredentials(creds); err != nil {
		return nil, err
	}
	if req.TransactionID == "" {
		return nil, fmt.Errorf("paypal: transaction id required")
	}

	start := time.Now()
	session, err := a.createOrder(ctx, creds, req)
	metrics.ObserveProvider(provider.NamePayPal, "begin", start, err)
	return session, err
}

func (a *Adapter) createOrder(ctx context.Context, creds provider.Credentials, req *provider.BeginRequest) (*provider.Session, error) {
	token, err := a.getAccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.TransactionID,
			CustomID:    req.TransactionID,
			Description: req.Description,
			Amount: &amount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}
	body.ApplicationContext.ReturnURL = req.ReturnURL
	body.ApplicationContext.CancelURL = req.CancelURL

	var created order
	if err := a.call(ctx, creds, token, http.MethodPost, "/v2/checkout/orders", body, &created); err != nil {
		return nil, err
	}

	session := &provider.Session{ProviderRef: created.ID}
	for _, l := range created.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			session.RedirectURL = l.Href
			break
		}
	}
	return session, nil
}

// Confirm 对订单扣款，从扣款结果取回 custom_id
func (a *Adapter) Confirm(ctx context.Context, creds provider.Credentials, orderID string) (*provider.Confirmation, error) {
	if err := a.CheckCredentials(creds); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("paypal: order id required")
	}

	start := time.Now()
	confirmation, err := a.capture(ctx, creds, orderID)
	metrics.ObserveProvider(provider.NamePayPal, "confirm", start, err)
	return confirmation, err
}

func (a *Adapter) capture(ctx context.Context, creds provider.Credentials, orderID string) (*provider.Confirmation, error) {
	token, err := a.getAccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	var captured order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := a.call(ctx, creds, token, http.MethodPost, path, struct{}{}, &captured); err != nil {
		return nil, err
	}

	return &provider.Confirmation{
		ProviderRef:   captured.ID,
		TransactionID: customID(captured),
		Status:        captured.Status,
		Paid:          captured.Status == StatusCompleted,
	}, nil
}

func customID(o order) string {
	if len(o.PurchaseUnits) == 0 {
		return ""
	}
	unit := o.PurchaseUnits[0]
	if unit.Payments != nil && len(unit.Payments.Captures) > 0 && unit.Payments.Captures[0].CustomID != "" {
		return unit.Payments.Captures[0].CustomID
	}
	return unit.CustomID
}

func (a *Adapter) call(ctx context.Context, creds provider.Credentials, token *oauth2.Token, method, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL(creds)+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")
	return a.send(req, out)
}

func (a *Adapter) send(req *http.Request, out interface{}) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("paypal read response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.APIError{Provider: provider.NamePayPal, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("paypal decode response failed: %w", err)
	}
	return nil
}
