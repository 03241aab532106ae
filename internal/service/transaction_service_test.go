package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pspgateway/internal/model"
	"pspgateway/internal/provider"
	"pspgateway/internal/service"
	"pspgateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]string{
		"completed": model.TransactionStatusCompleted,
		"PAID":      model.TransactionStatusCompleted,
		"succeeded": model.TransactionStatusCompleted,
		"COMPLETED": model.TransactionStatusCompleted,
		"captured":  model.TransactionStatusCompleted,
		"failed":    model.TransactionStatusFailed,
		"DENIED":    model.TransactionStatusFailed,
		"cancelled": model.TransactionStatusFailed,
		"expired":   model.TransactionStatusFailed,
		"pending":   "",
		"unpaid":    "",
		"ok":        "",
		"APPROVED":  "",
		"approved":  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, service.MapProviderStatus(in), in)
	}
}

func TestInitiate_RecordOnEnabledPSP(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	result, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID: testUser,
		PSPID:  stripe.ID,
		Amount: amount("10.00"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)
	assert.Equal(t, model.TransactionStatusPending, result.Status)
	assert.Empty(t, result.Warning)

	trans, err := engine.Query(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, trans.ID)
	assert.Equal(t, model.TransactionStatusPending, trans.Status)
	assert.Equal(t, model.DefaultCurrency, trans.Currency)
}

func TestInitiate_NotEnabledRecordsFailedRow(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	_, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID: testUser,
		PSPID:  "unknown-psp",
		Amount: amount("5"),
	})
	require.Error(t, err)
	assert.True(t, service.IsKind(err, service.KindValidation))

	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, ""))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ? AND psp_id = ?", model.TransactionStatusFailed, "unknown-psp"))
}

func TestInitiate_ValidationCreatesNoRow(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	cases := []struct {
		name string
		req  service.InitiateRequest
		msg  string
	}{
		{"missing user", service.InitiateRequest{PSPID: "p", Amount: amount("1")}, "user_id required"},
		{"missing psp", service.InitiateRequest{UserID: "u", Amount: amount("1")}, "psp_id required"},
		{"missing amount", service.InitiateRequest{UserID: "u", PSPID: "p"}, "amount required"},
		{"zero amount", service.InitiateRequest{UserID: "u", PSPID: "p", Amount: amount("0")}, "amount must be a positive number"},
		{"negative amount", service.InitiateRequest{UserID: "u", PSPID: "p", Amount: amount("-3")}, "amount must be a positive number"},
		{"bad currency", service.InitiateRequest{UserID: "u", PSPID: "p", Amount: amount("1"), Currency: "EURO"}, "currency must be a 3-letter code"},
		{"unknown method", service.InitiateRequest{UserID: "u", PSPID: "p", Amount: amount("1"), Method: "wire"}, "unknown method wire"},
		{"empty card", service.InitiateRequest{UserID: "u", PSPID: "p", Amount: amount("1"), Method: service.MethodSimulated, Circuit: "Visa"}, "card required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := engine.Initiate(ctx, &req)
			require.Error(t, err)
			assert.True(t, service.IsKind(err, service.KindValidation))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
	assert.Zero(t, testutil.CountTransactions(t, db, ""))
}

func TestInitiate_SubCentAmountRejected(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	for _, in := range []string{"0.004", "12.345", "0.001"} {
		_, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: stripe.ID, Amount: amount(in)})
		require.Error(t, err, in)
		assert.True(t, service.IsKind(err, service.KindValidation), in)
		assert.Equal(t, "amount must have at most 2 decimal places", err.Error())
	}
	assert.Zero(t, testutil.CountTransactions(t, db, ""))

	// 末尾多余的 0 不算精度
	result, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: stripe.ID, Amount: amount("10.500")})
	require.NoError(t, err)
	trans, err := engine.Query(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "10.50", trans.Amount.StringFixed(2))
}

func TestInitiate_Simulated(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	result, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID:  testUser,
		PSPID:   stripe.ID,
		Amount:  amount("10.00"),
		Method:  service.MethodSimulated,
		Circuit: "Visa",
		Card:    "4242424242424242",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusOK, result.Status)
	assert.Equal(t, "0.39", result.Fee)

	// 未开通的卡组织
	_, err = engine.Initiate(ctx, &service.InitiateRequest{
		UserID:  testUser,
		PSPID:   stripe.ID,
		Amount:  amount("10.00"),
		Method:  service.MethodSimulated,
		Circuit: "Amex",
		Card:    "371449635398431",
	})
	assert.True(t, service.IsKind(err, service.KindNotFound))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusFailed))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusOK))
}

// declinedCard 模拟刷卡被拒
type declinedCard struct{}

func (declinedCard) Name() string { return provider.NameSimulated }

func (declinedCard) CheckCredentials(provider.Credentials) error { return nil }

func (declinedCard) Begin(context.Context, provider.Credentials, *provider.BeginRequest) (*provider.Session, error) {
	return nil, errors.New("card declined")
}

func (declinedCard) Confirm(context.Context, provider.Credentials, string) (*provider.Confirmation, error) {
	return nil, errors.New("card declined")
}

func TestInitiate_SimulatedDeclineMarksFailed(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := service.NewTransactionService(db, nil, testConfig(""), provider.NewRegistry(declinedCard{}), zap.NewNop())
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	_, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID:  testUser,
		PSPID:   stripe.ID,
		Amount:  amount("10.00"),
		Method:  service.MethodSimulated,
		Circuit: "Visa",
		Card:    "4000000000000002",
	})
	assert.True(t, service.IsKind(err, service.KindProvider))

	// 拒付的交易不能停留在 ok
	assert.Zero(t, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusOK))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusFailed))
}

func TestInitiate_HostedCheckout(t *testing.T) {
	var gotMetadata string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotMetadata = r.PostForm.Get("metadata[transaction_id]")
		assert.Contains(t, r.PostForm.Get("success_url"), "session_id={CHECKOUT_SESSION_ID}")
		w.Write([]byte(`{"id":"cs_test_9","url":"https://checkout.stripe.test/cs_test_9"}`))
	}))
	defer server.Close()

	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(server.URL))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	result, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID: testUser,
		PSPID:  stripe.ID,
		Amount: amount("19.99"),
		Method: service.MethodHosted,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, result.Status)
	assert.Equal(t, "cs_test_9", result.ProviderRef)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_9", result.RedirectURL)
	assert.Equal(t, result.TransactionID, gotMetadata)
}

func TestInitiate_ProviderFailureMarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer server.Close()

	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(server.URL))
	ctx := context.Background()

	paypal := testutil.SeedPSP(t, db, "paypal", "0.35", "3.4")
	testutil.SeedEnablement(t, db, testUser, paypal, "Visa")

	_, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID: testUser,
		PSPID:  paypal.ID,
		Amount: amount("12"),
		Method: service.MethodOrder,
	})
	require.Error(t, err)
	assert.True(t, service.IsKind(err, service.KindProvider))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusFailed))
}

func TestInitiate_MissingCredentialsIsConfigurationError(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := testConfig("")
	cfg.Provider.Stripe.SecretKey = ""
	engine := newEngine(t, db, nil, cfg)
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	_, err := engine.Initiate(ctx, &service.InitiateRequest{
		UserID: testUser,
		PSPID:  stripe.ID,
		Amount: amount("10"),
		Method: service.MethodHosted,
	})
	require.Error(t, err)
	assert.True(t, service.IsKind(err, service.KindConfiguration))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, db, "status = ?", model.TransactionStatusFailed))
}

func TestReconcile_IdempotentAndForwardOnly(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, rdb := testutil.NewTestRedis(t)
	engine := newEngine(t, db, rdb, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	created, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: stripe.ID, Amount: amount("10")})
	require.NoError(t, err)

	res, err := engine.Reconcile(ctx, created.TransactionID, "paid")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, res.Outcome)
	assert.Equal(t, model.TransactionStatusCompleted, res.Status)

	res, err = engine.Reconcile(ctx, created.TransactionID, "completed")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, model.TransactionStatusCompleted, res.Status)

	res, err = engine.Reconcile(ctx, created.TransactionID, "failed")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRejected, res.Outcome)

	res, err = engine.Reconcile(ctx, created.TransactionID, "pending")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, res.Outcome)

	trans, err := engine.Query(ctx, created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)
}

func TestReconcile_Errors(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, "TXNMISSING", "completed")
	assert.True(t, service.IsKind(err, service.KindNotFound))

	_, err = engine.Reconcile(ctx, "", "completed")
	assert.True(t, service.IsKind(err, service.KindValidation))

	_, err = engine.Query(ctx, "TXNMISSING")
	assert.True(t, service.IsKind(err, service.KindNotFound))
}

func TestLegacySchema_DegradesWithWarning(t *testing.T) {
	db := testutil.NewLegacyTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	result, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: stripe.ID, Amount: amount("10")})
	require.NoError(t, err)
	assert.Empty(t, result.Status)
	assert.Equal(t, service.WarningStatusUnsupported, result.Warning)

	res, err := engine.Reconcile(ctx, result.TransactionID, "completed")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeUnsupported, res.Outcome)
	assert.Equal(t, service.WarningStatusUnsupported, res.Warning)
}

func TestListByUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	engine := newEngine(t, db, nil, testConfig(""))
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "Stripe", "0.25", "1.4")
	testutil.SeedEnablement(t, db, testUser, stripe, "Visa")

	for i := 0; i < 3; i++ {
		_, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: stripe.ID, Amount: amount("1.00")})
		require.NoError(t, err)
	}
	// 未开通也会留下一条 failed 记录
	_, err := engine.Initiate(ctx, &service.InitiateRequest{UserID: testUser, PSPID: "other", Amount: amount("1.00")})
	require.Error(t, err)

	list, total, err := engine.ListByUser(ctx, testUser, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, list, 2)

	list, _, err = engine.ListByUser(ctx, testUser, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, _, err = engine.ListByUser(ctx, "", 1, 10)
	assert.True(t, service.IsKind(err, service.KindValidation))
}
