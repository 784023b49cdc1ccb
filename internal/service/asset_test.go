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

func TestAssetCreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	svc := NewAssetService(repository.NewStore(db))

	country := "US"
	created, err := svc.Create(ctx, "USD", "US Dollar", domain.AssetKindFiat, &country, 2)
	require.NoError(t, err)

	bySymbol, err := svc.BySymbol(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySymbol.ID)
	assert.EqualValues(t, 2, bySymbol.Precision)

	byID, err := svc.ByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "USD", byID.Symbol)

	_, err = svc.BySymbol(ctx, "EUR")
	assert.ErrorIs(t, err, models.ErrAssetNotFound)
}

func TestAssetCreateValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewAssetService(repository.NewStore(db))

	_, err := svc.Create(context.Background(), "XAU", "Gold", "commodity", nil, 4)
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), "BTC", "Bitcoin", domain.AssetKindCrypto, nil, -1)
	assert.Error(t, err)
}
