package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
)

// AssetService manages the asset reference table. Assets are created by
// operators and never mutated afterwards.
type AssetService struct {
	store QueryStore
}

func NewAssetService(store QueryStore) *AssetService {
	return &AssetService{store: store}
}

func (s *AssetService) Create(ctx context.Context, symbol, name, kind string, country *string, precision int32) (*models.Asset, error) {
	if kind != domain.AssetKindFiat && kind != domain.AssetKindCrypto {
		return nil, fmt.Errorf("unknown asset kind %q", kind)
	}
	if precision < 0 {
		return nil, fmt.Errorf("asset precision must be non-negative")
	}
	asset := &models.Asset{
		ID:        uuid.New(),
		Symbol:    symbol,
		Name:      name,
		Kind:      kind,
		Country:   country,
		Precision: precision,
	}
	if err := s.store.Queries().CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *AssetService) BySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	return s.store.Queries().GetAssetBySymbol(ctx, symbol)
}

func (s *AssetService) ByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	return s.store.Queries().GetAsset(ctx, id)
}
