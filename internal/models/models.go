package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is an immutable reference to a countable currency or instrument.
// Assets are seeded by configuration and never mutated by ledger code.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // FIAT or CRYPTO
	Country   *string   `json:"country,omitempty"`
	Precision int32     `json:"precision"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a bookkeeping sub-ledger scoped to one asset and one purpose.
// Active accounts must keep their aggregate balance >= 0, passive <= 0.
// Strict accounts additionally constrain the sign of every individual
// transaction posted to them.
type Account struct {
	ID        uuid.UUID      `json:"id"`
	AssetID   uuid.UUID      `json:"asset_id"`
	Type      string         `json:"type"` // NORMAL, ACTIVE or PASSIVE
	Strict    bool           `json:"strict"`
	Refs      map[string]any `json:"refs,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Operation groups the transactions of one business event. The legs are
// created atomically and must sum to zero per asset at every validation
// point of the lifecycle.
type Operation struct {
	ID          uuid.UUID      `json:"id"`
	Status      string         `json:"status"`
	Type        string         `json:"type"`
	Method      string         `json:"method,omitempty"` // CARD, WIRE or CRYPTO
	Description string         `json:"description,omitempty"`
	Refs        map[string]any `json:"refs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Transaction is one signed posting against one account within one
// operation. Transactions are immutable once created; corrections are new
// operations, never edits.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	OperationID uuid.UUID       `json:"operation_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Refs        map[string]any  `json:"refs,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LegRole returns the role tag the factory stamped on this leg, or ""
// for legs created before role tagging.
func (t *Transaction) LegRole() string {
	if t.Refs == nil {
		return ""
	}
	if role, ok := t.Refs["leg_role"].(string); ok {
		return role
	}
	return ""
}

// AccountBinding records that an account serves a given (owner, asset,
// purpose) tuple. Bindings are created lazily on first use.
type AccountBinding struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	AssetID   uuid.UUID `json:"asset_id"`
	Purpose   string    `json:"purpose"`
	AccountID uuid.UUID `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CryptoAddress is a pooled deposit address. Pre-generated rows sit
// unbound (CustomerID nil) until the first customer request claims one.
type CryptoAddress struct {
	ID         uuid.UUID  `json:"id"`
	AssetID    uuid.UUID  `json:"asset_id"`
	Address    string     `json:"address"`
	AccountID  uuid.UUID  `json:"account_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
