package repository_test

import (
	"context"
	"testing"

	"pspgateway/internal/model"
	"pspgateway/internal/repository"
	"pspgateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestEnablementRepository_ExistsAndCircuits(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewEnablementRepository(db)
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")
	paypal := testutil.SeedPSP(t, db, "paypal", "0.35", "3.4")
	testutil.SeedEnablement(t, db, "user-1", stripe, "Visa")

	ok, err := repo.Exists(ctx, "user-1", stripe.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "user-1", paypal.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CircuitExists(ctx, "user-1", stripe.ID, "Visa")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CircuitExists(ctx, "user-1", stripe.ID, "Amex")
	require.NoError(t, err)
	assert.False(t, ok)

	cond, err := repo.GetCondition(ctx, "user-1", stripe.ID, "Visa")
	require.NoError(t, err)
	assert.True(t, stripe.FixedFee.Equal(cond.FixedFee))
}

func TestEnablementRepository_EnsureUserPSPAndConditions(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewEnablementRepository(db)
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")

	created, err := repo.EnsureUserPSP(ctx, nil, "user-1", stripe.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.EnsureUserPSP(ctx, nil, "user-1", stripe.ID)
	require.NoError(t, err)
	assert.False(t, created)

	cond := &model.UserPSPCondition{
		UserID:        "user-1",
		PSPID:         stripe.ID,
		CircuitName:   "Mastercard",
		FixedFee:      stripe.FixedFee,
		PercentageFee: stripe.PercentageFee,
		Currency:      stripe.Currency,
		Active:        true,
	}
	require.NoError(t, repo.CreateCondition(ctx, nil, cond))
	assert.NotEmpty(t, cond.ID)

	exists, err := repo.ConditionExists(ctx, nil, "user-1", stripe.ID, "Mastercard")
	require.NoError(t, err)
	assert.True(t, exists)

	conds, err := repo.ListConditions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, "Mastercard", conds[0].CircuitName)
}

func TestEnablementRepository_Credentials(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewEnablementRepository(db)
	ctx := context.Background()

	stripe := testutil.SeedPSP(t, db, "stripe", "0.25", "1.4")

	cred, err := repo.GetCredential(ctx, "user-1", stripe.ID)
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, repo.SaveCredential(ctx, &model.ProviderCredential{
		UserID: "user-1",
		PSPID:  stripe.ID,
		Config: datatypes.JSON(`{"secret_key":"sk_test_1"}`),
	}))
	require.NoError(t, repo.SaveCredential(ctx, &model.ProviderCredential{
		UserID: "user-1",
		PSPID:  stripe.ID,
		Config: datatypes.JSON(`{"secret_key":"sk_test_2"}`),
	}))

	cred, err = repo.GetCredential(ctx, "user-1", stripe.ID)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.JSONEq(t, `{"secret_key":"sk_test_2"}`, string(cred.Config))
}
