package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/repository"
)

type stubGateway struct {
	calls int
	fail  bool
}

func (g *stubGateway) SendWithdrawal(ctx context.Context, destination string, amount decimal.Decimal, symbol string) (string, error) {
	g.calls++
	if g.fail {
		return "", errors.New("provider unavailable")
	}
	return "EXT-REF-1", nil
}

func TestProcessSettlementsCommitsOnSuccess(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("500.00"))

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	gw := &stubGateway{}
	svc := NewSettlementService(store, ops, gw)

	op, err := ops.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodWire,
		Refs:             map[string]any{domain.RefKeyDestination: "DE89370400440532013000"},
		Hold:             true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessSettlements(ctx, 10))
	assert.Equal(t, 1, gw.calls)

	reloaded, err := ops.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusCommitted, reloaded.Status)
	assert.Equal(t, "EXT-REF-1", reloaded.Refs[domain.RefKeyExternalID])

	// A settled withdrawal is never picked up again.
	require.NoError(t, svc.ProcessSettlements(ctx, 10))
	assert.Equal(t, 1, gw.calls)
}

func TestProcessSettlementsRejectsAfterMaxAttempts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("500.00"))

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	gw := &stubGateway{fail: true}
	svc := NewSettlementService(store, ops, gw)

	op, err := ops.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodWire,
		Refs:             map[string]any{domain.RefKeyDestination: "DE89370400440532013000"},
		Hold:             true,
	})
	require.NoError(t, err)

	for i := 0; i < maxSettlementAttempts; i++ {
		require.NoError(t, svc.ProcessSettlements(ctx, 10))
	}
	assert.Equal(t, maxSettlementAttempts, gw.calls)

	reloaded, err := ops.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusDeleted, reloaded.Status)
	assert.Contains(t, reloaded.Refs[domain.RefKeyRejectReason], "provider rejected")

	// The hold was released back to the wallet.
	balance, err := store.Queries().SumAccountBalance(ctx, wallet.ID, true)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("500.00")))
}

func TestProcessSettlementsSkipsWithdrawalWithoutDestination(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("500.00"))

	store := repository.NewStore(db)
	ops := NewOperationService(store)
	gw := &stubGateway{}
	svc := NewSettlementService(store, ops, gw)

	op, err := ops.CreateWithdrawal(ctx, WithdrawalParams{
		UserAccountID:    wallet.ID,
		PaymentAccountID: clearing.ID,
		Amount:           dec("100.00"),
		Method:           domain.MethodWire,
		Hold:             true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessSettlements(ctx, 10))
	assert.Zero(t, gw.calls)

	reloaded, err := ops.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpStatusHold, reloaded.Status)
}
