package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/repository"
)

func TestReconciliationBalancedLedger(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("250.00"))

	store := repository.NewStore(db)
	require.NoError(t, NewReconciliationService(store).Run(ctx))

	nets, err := store.Queries().LedgerAssetNets(ctx)
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.True(t, nets[0].Net.IsZero())
}

func TestReconciliationDetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	usd := seedAsset(t, db, "USD", domain.AssetKindFiat, 2)
	clearing := seedAccount(t, db, usd.ID, domain.AccountTypeNormal, false)
	wallet := seedAccount(t, db, usd.ID, domain.AccountTypeActive, false)
	fundAccount(t, db, wallet.ID, clearing.ID, dec("250.00"))

	// Simulate a leg written outside the assembly path.
	opID := uuid.New()
	_, err := db.Exec(ctx,
		"INSERT INTO operations (id, status, type) VALUES ($1, $2, $3)",
		opID, domain.OpStatusCommitted, domain.OpTypeCorrection)
	require.NoError(t, err)
	_, err = db.Exec(ctx,
		"INSERT INTO ledger_transactions (id, operation_id, account_id, amount) VALUES ($1, $2, $3, 7.77)",
		uuid.New(), opID, wallet.ID)
	require.NoError(t, err)

	store := repository.NewStore(db)
	// Run reports through logs and metrics, never by failing.
	require.NoError(t, NewReconciliationService(store).Run(ctx))

	nets, err := store.Queries().LedgerAssetNets(ctx)
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.True(t, nets[0].Net.Equal(dec("7.77")))
}
