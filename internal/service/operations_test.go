package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/repository"
)

func TestCreateDepositAssemblesBalancedLegs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	feePool := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	roundingPool := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	raw := domain.PercentageFee(dec("100.00"), dec("0.0133"))
	fee, remainder := domain.SplitFee(raw, usd.Precision)
	require.True(t, fee.Add(remainder).Equal(raw))

	op, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID:  clearing.ID,
		UserAccountID:     wallet.ID,
		Amount:            dec("100.00"),
		FeeAccountID:      &feePool.ID,
		FeeAmount:         fee,
		RoundingAccountID: &roundingPool.ID,
		RoundingAmount:    remainder,
		Method:            domain.MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusNew, op.Status)
	assert.Equal(t, domain.OpTypeDeposit, op.Type)

	legs, err := svc.Legs(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, legs, 6)

	net := decimal.Zero
	roles := map[string]int{}
	for _, leg := range legs {
		net = net.Add(leg.Transaction.Amount)
		roles[leg.Transaction.LegRole()]++
	}
	assert.True(t, net.IsZero(), "legs must sum to zero, got %s", net)
	assert.Equal(t, 1, roles[domain.LegRoleMain])
	assert.Equal(t, 1, roles[domain.LegRoleCounter])
	assert.Equal(t, 2, roles[domain.LegRoleFee])
	assert.Equal(t, 2, roles[domain.LegRoleRounding])
}

func TestCreateDepositRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewOperationService(repository.NewStore(db))
	_, err := svc.CreateDeposit(context.Background(), DepositParams{
		PaymentAccountID: uuid.New(),
		UserAccountID:    uuid.New(),
		Amount:           dec("0"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestCreateWithdrawalHoldFailsWithoutFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	_, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("50.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	var balErr *models.AccountBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, wallet.ID, balErr.AccountID)

	// The failed assembly must leave nothing behind.
	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM operations").Scan(&count))
	assert.Zero(t, count)
}

func TestCreateWithdrawalHoldSucceedsWithFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("200.00"))

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	op, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("50.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusHold, op.Status)

	balance, err := store.Queries().SumAccountBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("150.00")), "reserved balance, got %s", balance)
}

func TestHoldReservationBlocksSecondWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("100.00"))

	svc := NewOperationService(repository.NewStore(db))

	_, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("80.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)

	// 80 of the 100 is held, so another 30 must not fit.
	_, err = svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("30.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	var balErr *models.AccountBalanceError
	assert.ErrorAs(t, err, &balErr)
}

func TestStrictAccountRejectsWrongSign(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	strictWallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, true)
	fundAccount(t, db, strictWallet.ID, clearing.ID, dec("500.00"))

	svc := NewOperationService(repository.NewStore(db))

	// A withdrawal posts a negative leg to the wallet, which a strict
	// active account refuses regardless of its balance.
	_, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    strictWallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("10.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	var strictErr *models.AccountStrictnessError
	require.ErrorAs(t, err, &strictErr)
	assert.Equal(t, strictWallet.ID, strictErr.AccountID)
}

func TestCreateExchangeRequiresOppositeSigns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewOperationService(repository.NewStore(db))
	_, err := svc.CreateExchange(context.Background(), ExchangeParams{
		BaseAmount:  dec("1.5"),
		QuoteAmount: dec("100"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidExchangeDirection)
}

func TestCreateExchangeBuy(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	btc := seedAsset(t, db, "BTC", domain.AssetKindCrypto, 8)

	usdWallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	btcWallet := seedAccount(t, db, btc.ID, domain.AccountTypeActive, false)
	usdClearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	btcClearing := seedAccount(t, db, btc.ID, domain.AccountTypeNormal, false)
	feePool := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, usdWallet.ID, usdClearing.ID, dec("1000.00"))

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	op, err := svc.CreateExchange(ctx, ExchangeParams{
		BaseAccountID:          btcWallet.ID,
		BaseExchangeAccountID:  btcClearing.ID,
		BaseAmount:             dec("0.005"),
		QuoteAccountID:         usdWallet.ID,
		QuoteExchangeAccountID: usdClearing.ID,
		QuoteAmount:            dec("-135.00"),
		FeeAccountID:           feePool.ID,
		FeeAmount:              dec("1.35"),
		Hold:                   true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpTypeBuy, op.Type)
	assert.Equal(t, domain.OpStatusHold, op.Status)

	// Wallet reserved: 1000 - 135 - 1.35.
	balance, err := store.Queries().SumAccountBalance(ctx, usdWallet.ID, true)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("863.65")), "got %s", balance)

	// Per-asset nets must both be zero.
	nets, err := store.Queries().OperationAssetNets(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, nets, 2)
	for _, n := range nets {
		assert.True(t, n.Net.IsZero(), "asset %s net %s", n.AssetID, n.Net)
	}
}

func TestCreateRefundRequiresCommittedDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	svc := NewOperationService(repository.NewStore(db))

	deposit, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodCard,
	})
	require.NoError(t, err)

	_, err = svc.CreateRefund(ctx, RefundParams{
		Amount:             dec("100.00"),
		DepositOperationID: deposit.ID,
	})
	assert.ErrorIs(t, err, models.ErrRefundOfUncommittedDeposit)
}

func TestCreateRefundOnceOnly(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	deposit, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodCard,
		Hold:             true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, deposit.ID))

	refund, err := svc.CreateRefund(ctx, RefundParams{
		Amount:             dec("100.00"),
		DepositOperationID: deposit.ID,
		Hold:               true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpTypeRefund, refund.Type)
	assert.Equal(t, domain.MethodCard, refund.Method)
	assert.Equal(t, deposit.ID.String(), refund.Refs[domain.RefKeyRefundOf])

	// The deposit points back at its refund.
	reloaded, err := svc.Get(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.ID.String(), reloaded.Refs[domain.RefKeyRefundedBy])

	// Refund legs reverse the deposit pair.
	legs, err := svc.Legs(ctx, refund.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, clearing.ID, legs[0].Transaction.AccountID)
	assert.True(t, legs[0].Transaction.Amount.Equal(dec("100.00")))
	assert.Equal(t, wallet.ID, legs[1].Transaction.AccountID)
	assert.True(t, legs[1].Transaction.Amount.Equal(dec("-100.00")))

	_, err = svc.CreateRefund(ctx, RefundParams{
		Amount:             dec("100.00"),
		DepositOperationID: deposit.ID,
	})
	assert.ErrorIs(t, err, models.ErrAlreadyRefunded)
}

func TestCreateRefundAllowedAgainAfterCancelledRefund(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	svc := NewOperationService(repository.NewStore(db))

	deposit, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("40.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, deposit.ID))

	first, err := svc.CreateRefund(ctx, RefundParams{
		Amount:             dec("40.00"),
		DepositOperationID: deposit.ID,
		Hold:               true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, first.ID, nil))

	// A cancelled refund no longer blocks a new one.
	_, err = svc.CreateRefund(ctx, RefundParams{
		Amount:             dec("40.00"),
		DepositOperationID: deposit.ID,
		Hold:               true,
	})
	require.NoError(t, err)
}
