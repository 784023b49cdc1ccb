package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/repository"
)

func TestOperationFullLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	op, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusNew, op.Status)

	// Settled view ignores the NEW legs; reserved view counts them.
	settled, err := store.Queries().SumAccountBalance(ctx, wallet.ID, false)
	require.NoError(t, err)
	assert.True(t, settled.IsZero())
	reserved, err := store.Queries().SumAccountBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, reserved.Equal(dec("100.00")))

	require.NoError(t, svc.Hold(ctx, op.ID))
	reloaded, err := svc.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusHold, reloaded.Status)

	require.NoError(t, svc.Commit(ctx, op.ID))
	settled, err = store.Queries().SumAccountBalance(ctx, wallet.ID, false)
	require.NoError(t, err)
	assert.True(t, settled.Equal(dec("100.00")))

	// COMMITTED is terminal.
	err = svc.Cancel(ctx, op.ID, nil)
	assert.ErrorContains(t, err, "invalid operation state transition")
}

func TestHoldFailureDeletesOperation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	svc := NewOperationService(repository.NewStore(db))

	// A pending deposit covers the withdrawal in the reserved view.
	deposit, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodCard,
	})
	require.NoError(t, err)

	withdrawal, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("80.00"),
		Method:           domain.MethodWire,
	})
	require.NoError(t, err)

	// Once the deposit falls through, holding the withdrawal must fail
	// and remove it entirely rather than leave a NEW orphan.
	require.NoError(t, svc.Cancel(ctx, deposit.ID, nil))

	err = svc.Hold(ctx, withdrawal.ID)
	var balErr *models.AccountBalanceError
	require.ErrorAs(t, err, &balErr)

	_, err = svc.Get(ctx, withdrawal.ID)
	assert.ErrorIs(t, err, models.ErrOperationNotFound)
}

func TestHoldRequiresNewStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	svc := NewOperationService(repository.NewStore(db))

	op, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("10.00"),
		Method:           domain.MethodCard,
		Hold:             true,
	})
	require.NoError(t, err)

	assert.ErrorContains(t, svc.Hold(ctx, op.ID), "hold called on HOLD")
	require.NoError(t, svc.Commit(ctx, op.ID))
	assert.ErrorContains(t, svc.Commit(ctx, op.ID), "commit called on COMMITTED")
}

func TestRejectStampsReason(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("100.00"))

	svc := NewOperationService(repository.NewStore(db))

	op, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("25.00"),
		Method:           domain.MethodCrypto,
		Hold:             true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Reject(ctx, op.ID, "destination unreachable", nil))

	reloaded, err := svc.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusDeleted, reloaded.Status)
	assert.Equal(t, "destination unreachable", reloaded.Refs[domain.RefKeyRejectReason])
}

func TestRequireActionAndResume(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("100.00"))

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	op, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("60.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RequireAction(ctx, op.ID, nil))
	reloaded, err := svc.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusActionRequired, reloaded.Status)

	// The hold is not released while action is pending.
	reserved, err := store.Queries().SumAccountBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, reserved.Equal(dec("40.00")))

	require.NoError(t, svc.Resume(ctx, op.ID, nil))
	reloaded, err = svc.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusHold, reloaded.Status)

	require.NoError(t, svc.Commit(ctx, op.ID))
}

func TestCancelReleasesHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("100.00"))

	store := repository.NewStore(db)
	svc := NewOperationService(store)

	op, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("70.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, op.ID, nil))

	// Cancelled legs drop out of the reserved view too.
	reserved, err := store.Queries().SumAccountBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, reserved.Equal(dec("100.00")))

	// Cancelling twice is a no-op.
	require.NoError(t, svc.Cancel(ctx, op.ID, nil))
}

func TestTransitionsRecordAudit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)

	svc := NewOperationService(repository.NewStore(db))

	op, err := svc.CreateDeposit(ctx, DepositParams{
		PaymentAccountID: clearing.ID,
		UserAccountID:    wallet.ID,
		Amount:           dec("10.00"),
		Method:           domain.MethodCard,
		Hold:             true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, op.ID))

	rows, err := db.Query(ctx,
		"SELECT action FROM audit_log WHERE entity_id = $1 ORDER BY created_at", op.ID)
	require.NoError(t, err)
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var a string
		require.NoError(t, rows.Scan(&a))
		actions = append(actions, a)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, actions, "hold")
	assert.Contains(t, actions, "commit")
}
