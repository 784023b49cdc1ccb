package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
)

// RailResolver maps a payment method to the platform accounts its money
// flows through. Each rail clears through its own owner so card, wire and
// crypto settlement never mix in one account.
type RailResolver struct {
	registry *AccountRegistry
}

func NewRailResolver(registry *AccountRegistry) *RailResolver {
	return &RailResolver{registry: registry}
}

func railOwner(method string) (uuid.UUID, error) {
	switch method {
	case domain.MethodCard:
		return uuid.MustParse(domain.SystemOwnerCard), nil
	case domain.MethodWire:
		return uuid.MustParse(domain.SystemOwnerWire), nil
	case domain.MethodCrypto:
		return uuid.MustParse(domain.SystemOwnerCrypto), nil
	}
	return uuid.Nil, fmt.Errorf("unknown payment method %q", method)
}

// ClearingAccount returns the clearing account external money for the
// given rail and asset moves through.
func (r *RailResolver) ClearingAccount(ctx context.Context, method string, assetID uuid.UUID) (*models.Account, error) {
	owner, err := railOwner(method)
	if err != nil {
		return nil, err
	}
	return r.registry.GetOrCreateAccount(ctx, owner, assetID, domain.PurposePaymentClearing)
}

// FeeAccount returns the platform fee pool for an asset.
func (r *RailResolver) FeeAccount(ctx context.Context, assetID uuid.UUID) (*models.Account, error) {
	return r.registry.GetOrCreateAccount(ctx,
		uuid.MustParse(domain.SystemOwnerFees), assetID, domain.PurposeFeePool)
}

// RoundingAccount returns the pool that absorbs quantization remainders
// for an asset.
func (r *RailResolver) RoundingAccount(ctx context.Context, assetID uuid.UUID) (*models.Account, error) {
	return r.registry.GetOrCreateAccount(ctx,
		uuid.MustParse(domain.SystemOwnerRounding), assetID, domain.PurposeRoundingPool)
}

// ExchangeAccount returns the clearing account one side of a buy or sell
// settles against.
func (r *RailResolver) ExchangeAccount(ctx context.Context, assetID uuid.UUID) (*models.Account, error) {
	return r.registry.GetOrCreateAccount(ctx,
		uuid.MustParse(domain.SystemOwnerExchange), assetID, domain.PurposeExchangeClearing)
}
