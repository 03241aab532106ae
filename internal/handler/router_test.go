package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pspgateway/internal/auth"
	"pspgateway/internal/config"
	"pspgateway/internal/handler"
	"pspgateway/internal/model"
	"pspgateway/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jwtSecret = "handler-test-secret-with-enough-length"

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Kafka.Topic.TransactionStatus = "psp.transaction.status"
	cfg.Provider.TimeoutSeconds = 2

	verifier := auth.NewHMACVerifier(jwtSecret, "authenticated")
	return handler.SetupRouter(db, nil, cfg, verifier, zap.NewNop()), db
}

func doJSON(r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, sub, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"aud":   "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestStripeScenario_CreateThenQuery(t *testing.T) {
	r, db := setupRouter(t)
	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, "U", stripe, "Visa")

	w := doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "U",
		"psp_id":  stripe.ID,
		"amount":  10.00,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	txID, _ := created["transaction_id"].(string)
	require.NotEmpty(t, txID)
	assert.Equal(t, model.TransactionStatusPending, created["status"])

	w = doJSON(r, http.MethodGet, "/api/transaction-status/"+txID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, txID, status["id"])
	assert.Equal(t, model.TransactionStatusPending, status["status"])
	assert.NotEmpty(t, status["created_at"])
}

func TestCreateTransaction_UnknownPSP(t *testing.T) {
	r, db := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "U",
		"psp_id":  "UnknownPSP",
		"amount":  5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 400, body["code"])
	assert.Equal(t, "psp not enabled for user", body["message"])

	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, ""))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusFailed))
}

func TestCreateTransaction_BadBody(t *testing.T) {
	r, db := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "U",
		"psp_id":  "p",
		"amount":  "ten",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "U",
		"psp_id":  "p",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "amount required", decode(t, w)["message"])

	assert.Zero(t, testutil.CountTransactions(t, db, ""))
}

func TestSimulatePayment(t *testing.T) {
	r, db := setupRouter(t)
	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, "U", stripe, "Visa")

	w := doJSON(r, http.MethodPost, "/api/simulate-payment", map[string]interface{}{
		"user_id": "U", "psp_id": stripe.ID, "circuit": "Visa", "amount": 10, "card": "",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "card required", decode(t, w)["message"])
	assert.Zero(t, testutil.CountTransactions(t, db, ""))

	w = doJSON(r, http.MethodPost, "/api/simulate-payment", map[string]interface{}{
		"user_id": "U", "psp_id": stripe.ID, "circuit": "Visa", "amount": 10, "card": "4242",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "0.39", body["fee"])

	w = doJSON(r, http.MethodPost, "/api/simulate-payment", map[string]interface{}{
		"user_id": "U", "psp_id": stripe.ID, "circuit": "Diners", "amount": 10, "card": "4242",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook(t *testing.T) {
	r, db := setupRouter(t)
	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, "U", stripe, "Visa")

	w := doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "U", "psp_id": stripe.ID, "amount": "10.00",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	txID := decode(t, w)["transaction_id"].(string)

	w = doJSON(r, http.MethodPost, "/webhook/stripe", map[string]interface{}{"transaction_id": txID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodPost, "/webhook/stripe", map[string]interface{}{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusPending))

	for i := 0; i < 2; i++ {
		w = doJSON(r, http.MethodPost, "/webhook/stripe", map[string]interface{}{"transaction_id": txID, "status": "completed"})
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(r, http.MethodPost, "/webhook/generic", map[string]interface{}{"transaction_id": "TXNNOPE", "status": "completed"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/transaction-status/"+txID, nil)
	assert.Equal(t, model.TransactionStatusCompleted, decode(t, w)["status"])
}

func TestTransactionStatus_NotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/api/transaction-status/TXNMISSING", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 404, decode(t, w)["code"])
}

func TestListPSPs(t *testing.T) {
	r, db := setupRouter(t)
	testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedPSP(t, db, "PayPal", "0.35", "3.4")

	w := doJSON(r, http.MethodGet, "/api/psps", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var psps []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &psps))
	require.Len(t, psps, 2)
	assert.Equal(t, "PayPal", psps[0]["psp_name"])
	assert.Equal(t, "Stripe", psps[1]["psp_name"])
	assert.Equal(t, "EUR", psps[1]["currency"])
	assert.NotEmpty(t, psps[1]["id"])
}

func TestActivate(t *testing.T) {
	r, db := setupRouter(t)
	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")

	body := map[string]interface{}{
		"profile":    map[string]string{"name": "Mario", "business_name": "Mario Srl"},
		"selections": []map[string]string{{"psp_id": stripe.ID, "circuit": "Visa"}},
	}

	w := doJSON(r, http.MethodPost, "/api/activate", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/activate", body, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := bearer(t, "sub-1", "m@example.com")
	w = doJSON(r, http.MethodPost, "/api/activate", body, "Authorization", token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = doJSON(r, http.MethodPost, "/api/activate", body, "Authorization", token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodGet, "/api/me/psps", nil, "Authorization", token)
	require.Equal(t, http.StatusOK, w.Code)
	var enabled []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &enabled))
	require.Len(t, enabled, 1)
	assert.Equal(t, "Visa", enabled[0]["circuit"])
	assert.Equal(t, "0.25", enabled[0]["fixed_fee"])

	// 激活后可以直接记账
	w = doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "sub-1", "psp_id": stripe.ID, "amount": 3,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPaymentReturn_Validation(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/payment-return?psp=stripe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/payment-return?psp=stripe&cancelled=true&tx=TXN1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Payment was cancelled.", w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// 浏览器对 PUT /api/me/credentials 先发预检
func TestCORSPreflightAllowsPut(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/me/credentials/psp-1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestMyCredentialsAndTransactions(t *testing.T) {
	r, db := setupRouter(t)
	paypal := testutil.SeedPSP(t, db, "PayPal", "0.35", "3.4")
	testutil.SeedEnablement(t, db, "sub-2", paypal, "Visa")
	token := bearer(t, "sub-2", "p@example.com")

	w := doJSON(r, http.MethodPut, "/api/me/credentials/"+paypal.ID,
		map[string]string{"client_id": "cid", "client_secret": "top-secret"}, "Authorization", token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "top-secret")

	w = doJSON(r, http.MethodPut, "/api/me/credentials/unknown",
		map[string]string{"client_id": "cid"}, "Authorization", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/create-transaction", map[string]interface{}{
		"user_id": "sub-2", "psp_id": paypal.ID, "amount": 7,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/api/me/transactions", nil, "Authorization", token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["total"])
	assert.Len(t, body["items"], 1)

	w = doJSON(r, http.MethodGet, "/api/me/transactions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
