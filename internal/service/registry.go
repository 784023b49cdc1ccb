package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
	"github.com/veloxpay/backoffice/internal/observability"
	"github.com/veloxpay/backoffice/internal/repository"
)

// accountShape fixes the type and strictness of every account created for
// a purpose. The shape is decided at creation and never changes.
type accountShape struct {
	Type   string
	Strict bool
}

var purposeShapes = map[string]accountShape{
	domain.PurposeUserWallet:       {Type: domain.AccountTypeActive},
	domain.PurposeCryptoDeposit:    {Type: domain.AccountTypeActive},
	domain.PurposeFeePool:          {Type: domain.AccountTypeActive},
	domain.PurposeRoundingPool:     {Type: domain.AccountTypeNormal},
	domain.PurposePaymentClearing:  {Type: domain.AccountTypeNormal},
	domain.PurposeExchangeClearing: {Type: domain.AccountTypeNormal},
}

var (
	errBindingRace = errors.New("binding inserted concurrently")
	errNoFreeSlot  = errors.New("no free pooled address")
)

// AccountRegistry resolves (owner, asset, purpose) tuples to accounts,
// creating them lazily on first use, and hands out pooled crypto deposit
// addresses.
type AccountRegistry struct {
	store QueryStore
	audit *AuditService
}

func NewAccountRegistry(store QueryStore) *AccountRegistry {
	return &AccountRegistry{
		store: store,
		audit: NewAuditService(store),
	}
}

// Account loads an account by ID.
func (s *AccountRegistry) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.store.Queries().GetAccount(ctx, id)
}

// GetOrCreateAccount returns the account bound to (owner, asset, purpose),
// creating both the account and the binding if this is the first request.
// Concurrent first requests race on the binding's unique key; the loser
// rolls back its orphan account and adopts the winner's.
func (s *AccountRegistry) GetOrCreateAccount(ctx context.Context, ownerID, assetID uuid.UUID, purpose string) (*models.Account, error) {
	shape, ok := purposeShapes[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown account purpose %q", purpose)
	}
	q := s.store.Queries()

	accountID, err := q.GetBinding(ctx, ownerID, assetID, purpose)
	if err == nil {
		return q.GetAccount(ctx, accountID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	account := &models.Account{
		ID:      uuid.New(),
		AssetID: assetID,
		Type:    shape.Type,
		Strict:  shape.Strict,
		Refs: map[string]any{
			"owner_id": ownerID.String(),
			"purpose":  purpose,
		},
	}
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.CreateAccount(ctx, account); err != nil {
			return err
		}
		inserted, err := qtx.InsertBinding(ctx, &models.AccountBinding{
			OwnerID:   ownerID,
			AssetID:   assetID,
			Purpose:   purpose,
			AccountID: account.ID,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errBindingRace
		}
		return s.audit.Write(ctx, qtx, "account", account.ID, nil,
			"account_created", "", shape.Type, nil)
	})
	if errors.Is(err, errBindingRace) {
		accountID, err := q.GetBinding(ctx, ownerID, assetID, purpose)
		if err != nil {
			return nil, fmt.Errorf("binding lost race then vanished: %w", err)
		}
		return q.GetAccount(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ForCustomer returns the customer's deposit address and its account for
// the given crypto asset, claiming one from the pre-generated pool on
// first use. Returns ErrResourcePoolExhausted when the pool is empty.
func (s *AccountRegistry) ForCustomer(ctx context.Context, customerID, assetID uuid.UUID) (*models.CryptoAddress, error) {
	q := s.store.Queries()

	addr, err := q.GetBoundCryptoAddress(ctx, customerID, assetID)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get bound address: %w", err)
	}

	// Claims serialize on the pool head. When a concurrent claim wins the
	// head, the locked select comes back empty even though later rows are
	// free, so retry while unbound addresses remain. Every retry needs
	// another committed claim first, which bounds the loop by pool size.
	for {
		claimed, err := s.claimAddress(ctx, customerID, assetID)
		if err == nil {
			s.refreshPoolGauge(ctx, assetID)
			return claimed, nil
		}
		if !errors.Is(err, errNoFreeSlot) {
			return nil, err
		}
		if addr, err := q.GetBoundCryptoAddress(ctx, customerID, assetID); err == nil {
			return addr, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get bound address: %w", err)
		}
		n, err := q.CountUnboundAddresses(ctx, assetID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, models.ErrResourcePoolExhausted
		}
	}
}

func (s *AccountRegistry) claimAddress(ctx context.Context, customerID, assetID uuid.UUID) (*models.CryptoAddress, error) {
	var claimed *models.CryptoAddress
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		free, err := qtx.SelectUnboundAddressForUpdate(ctx, assetID)
		if errors.Is(err, pgx.ErrNoRows) {
			return errNoFreeSlot
		}
		if err != nil {
			return fmt.Errorf("select unbound address: %w", err)
		}
		// Serialized on the pool head now. A concurrent claim for the
		// same customer has committed by this point, so re-check before
		// binding a second address to them.
		if bound, err := qtx.GetBoundCryptoAddress(ctx, customerID, assetID); err == nil {
			claimed = bound
			return nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		rows, err := qtx.BindCryptoAddress(ctx, free.ID, customerID)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "bind crypto address"); err != nil {
			return err
		}
		if _, err := qtx.InsertBinding(ctx, &models.AccountBinding{
			OwnerID:   customerID,
			AssetID:   assetID,
			Purpose:   domain.PurposeCryptoDeposit,
			AccountID: free.AccountID,
		}); err != nil {
			return err
		}
		free.CustomerID = &customerID
		claimed = free
		return s.audit.Write(ctx, qtx, "crypto_address", free.ID, nil,
			"address_bound", "", customerID.String(), nil)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// AddPoolAddresses loads pre-generated deposit addresses into the pool.
// Each address gets its own ledger account so per-address balances stay
// auditable after binding.
func (s *AccountRegistry) AddPoolAddresses(ctx context.Context, assetID uuid.UUID, addresses []string) error {
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		for _, address := range addresses {
			account := &models.Account{
				ID:      uuid.New(),
				AssetID: assetID,
				Type:    domain.AccountTypeActive,
				Refs:    map[string]any{"purpose": domain.PurposeCryptoDeposit},
			}
			if err := qtx.CreateAccount(ctx, account); err != nil {
				return err
			}
			if err := qtx.InsertCryptoAddress(ctx, &models.CryptoAddress{
				ID:        uuid.New(),
				AssetID:   assetID,
				Address:   address,
				AccountID: account.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refreshPoolGauge(ctx, assetID)
	return nil
}

// PoolSize reports how many unbound addresses remain for an asset.
func (s *AccountRegistry) PoolSize(ctx context.Context, assetID uuid.UUID) (int64, error) {
	return s.store.Queries().CountUnboundAddresses(ctx, assetID)
}

func (s *AccountRegistry) refreshPoolGauge(ctx context.Context, assetID uuid.UUID) {
	if n, err := s.store.Queries().CountUnboundAddresses(ctx, assetID); err == nil {
		observability.SetAddressPoolSize(assetID.String(), n)
	}
}
