package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/repository"
)

func TestVisibleInDisplay(t *testing.T) {
	cases := []struct {
		name      string
		status    string
		opType    string
		assetKind string
		want      bool
	}{
		{"new never shows", domain.OpStatusNew, domain.OpTypeDeposit, domain.AssetKindFiat, false},
		{"cancelled never shows", domain.OpStatusCancelled, domain.OpTypeWithdrawal, domain.AssetKindFiat, false},
		{"deleted never shows", domain.OpStatusDeleted, domain.OpTypeRefund, domain.AssetKindCrypto, false},
		{"committed always shows", domain.OpStatusCommitted, domain.OpTypeDeposit, domain.AssetKindCrypto, true},
		{"held withdrawal shows", domain.OpStatusHold, domain.OpTypeWithdrawal, domain.AssetKindFiat, true},
		{"held refund shows", domain.OpStatusHold, domain.OpTypeRefund, domain.AssetKindFiat, true},
		{"held deposit hidden", domain.OpStatusHold, domain.OpTypeDeposit, domain.AssetKindFiat, false},
		{"held correction hidden", domain.OpStatusHold, domain.OpTypeCorrection, domain.AssetKindFiat, false},
		{"held buy fiat leg shows", domain.OpStatusHold, domain.OpTypeBuy, domain.AssetKindFiat, true},
		{"held buy crypto leg hidden", domain.OpStatusHold, domain.OpTypeBuy, domain.AssetKindCrypto, false},
		{"held sell fiat leg shows", domain.OpStatusHold, domain.OpTypeSell, domain.AssetKindFiat, true},
		{"held sell crypto leg hidden", domain.OpStatusHold, domain.OpTypeSell, domain.AssetKindCrypto, false},
		{"action required withdrawal shows", domain.OpStatusActionRequired, domain.OpTypeWithdrawal, domain.AssetKindFiat, true},
		{"action required deposit hidden", domain.OpStatusActionRequired, domain.OpTypeDeposit, domain.AssetKindCrypto, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VisibleInDisplay(tc.status, tc.opType, tc.assetKind))
		})
	}
}

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		status  string
		opType  string
		expired bool
		want    string
	}{
		{domain.OpStatusNew, domain.OpTypeDeposit, false, domain.LabelWaitingPayment},
		{domain.OpStatusHold, domain.OpTypeDeposit, false, domain.LabelUnconfirmed},
		{domain.OpStatusHold, domain.OpTypeWithdrawal, false, domain.LabelProcessing},
		{domain.OpStatusActionRequired, domain.OpTypeDeposit, false, domain.LabelUnconfirmed},
		{domain.OpStatusActionRequired, domain.OpTypeBuy, false, domain.LabelProcessing},
		{domain.OpStatusCommitted, domain.OpTypeRefund, false, domain.LabelCompleted},
		{domain.OpStatusCancelled, domain.OpTypeDeposit, false, domain.LabelCancelled},
		{domain.OpStatusCancelled, domain.OpTypeDeposit, true, domain.LabelExpired},
		{domain.OpStatusDeleted, domain.OpTypeWithdrawal, false, domain.LabelFailed},
	}
	for _, tc := range cases {
		got := StatusLabel(tc.status, tc.opType, tc.expired)
		assert.Equal(t, tc.want, got, "%s/%s expired=%v", tc.status, tc.opType, tc.expired)
	}
}

func TestDisplayBalanceHidesPendingDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	balances := NewBalanceService(store)

	deposit, err := ops.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodCard,
		Hold:             true,
	})
	require.NoError(t, err)

	// Held deposits are reserved but not yet spendable or shown.
	display, err := balances.DisplayBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, display.IsZero(), "display should hide held deposit, got %s", display)

	reserved, err := balances.CalculateBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, reserved.Equal(dec("100.00")))

	require.NoError(t, ops.Commit(ctx, deposit.ID))
	display, err = balances.DisplayBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, display.Equal(dec("100.00")))
}

func TestDisplayBalanceShowsHeldWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("100.00"))

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	balances := NewBalanceService(store)

	_, err := ops.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("30.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)

	// Outgoing money disappears from the display as soon as it is held,
	// even though settlement has not happened yet.
	display, err := balances.DisplayBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, display.Equal(dec("70.00")), "got %s", display)

	settled, err := balances.CalculateBalance(ctx, wallet.ID, false)
	require.NoError(t, err)
	assert.True(t, settled.Equal(dec("70.00")))
}

func TestOperationAmounts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	feePool := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("500.00"))

	ops := NewOperationService(repository.NewStore(db))

	fee := dec("2.50")
	op, err := ops.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("100.00"),
		FeeAccountID:     &feePool.ID,
		FeeAmount:        fee,
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)

	legs, err := ops.Legs(ctx, op.ID)
	require.NoError(t, err)

	amounts := OperationAmounts(legs)
	assert.True(t, amounts.Debit.Equal(dec("100.00")), "debit %s", amounts.Debit)
	assert.True(t, amounts.Credit.IsZero(), "credit %s", amounts.Credit)
	assert.True(t, amounts.Fee.Equal(fee), "fee %s", amounts.Fee)
}

func TestAccountIsValid(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("10.00"))

	balances := NewBalanceService(repository.NewStore(db))

	require.NoError(t, balances.AccountIsValid(ctx, wallet.ID, false))
	// The clearing account went negative funding the wallet, which is
	// fine for a normal account.
	require.NoError(t, balances.AccountIsValid(ctx, clearing.ID, false))
}

func TestStatementPagination(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	balances := NewBalanceService(store)

	for i := 0; i < 3; i++ {
		_, err := ops.CreateDeposit(ctx, DepositParams{
			PaymentAccountID: clearing.ID,
			UserAccountID:    wallet.ID,
			Amount:           dec("10.00"),
			Method:           domain.MethodCard,
			Hold:             true,
		})
		require.NoError(t, err)
	}

	page, err := balances.Statement(ctx, wallet.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := balances.Statement(ctx, wallet.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
