package domain

// Asset kinds
const (
	AssetKindFiat   = "FIAT"
	AssetKindCrypto = "CRYPTO"
)

// Account types. Active accounts must keep a non-negative balance,
// passive accounts a non-positive one. Normal accounts are unconstrained.
const (
	AccountTypeNormal  = "NORMAL"
	AccountTypeActive  = "ACTIVE"
	AccountTypePassive = "PASSIVE"
)

// Account purposes. One account exists per (owner, asset, purpose) tuple.
const (
	PurposeUserWallet       = "user_wallet"
	PurposeFeePool          = "fee_pool"
	PurposeRoundingPool     = "rounding_pool"
	PurposePaymentClearing  = "payment_clearing"
	PurposeExchangeClearing = "exchange_clearing"
	PurposeCryptoDeposit    = "crypto_deposit"
)

// Operation statuses
const (
	OpStatusNew            = "NEW"
	OpStatusHold           = "HOLD"
	OpStatusCommitted      = "COMMITTED"
	OpStatusCancelled      = "CANCELLED"
	OpStatusDeleted        = "DELETED"
	OpStatusActionRequired = "ACTION_REQUIRED"
)

// Operation types
const (
	OpTypeDeposit    = "DEPOSIT"
	OpTypeWithdrawal = "WITHDRAWAL"
	OpTypeBuy        = "BUY"
	OpTypeSell       = "SELL"
	OpTypeCorrection = "CORRECTION"
	OpTypeRefund     = "REFUND"
)

// Payment rails (operation method)
const (
	MethodCard   = "CARD"
	MethodWire   = "WIRE"
	MethodCrypto = "CRYPTO"
)

// Leg roles, written into a transaction's refs at assembly time so the
// read side never has to re-derive which leg was the fee.
const (
	LegRoleMain     = "main"
	LegRoleCounter  = "counter"
	LegRoleFee      = "fee"
	LegRoleRounding = "rounding"
)

// Well-known refs keys
const (
	RefKeyLegRole      = "leg_role"
	RefKeyRejectReason = "reject_reason"
	RefKeyRefundOf     = "refund_of"
	RefKeyRefundedBy   = "refunded_by"
	RefKeyExternalID   = "external_id"
	RefKeyDestination  = "destination"
	RefKeyAttempts     = "settlement_attempts"
	RefKeyExpired      = "expired"
)

// Fixed owner IDs for platform-level accounts. Each system pool
// (fees, rounding, clearing) hangs off one of these owners so the
// registry can find or create the account lazily like any other.
const (
	SystemOwnerFees     = "00000000-0000-0000-0000-000000000001"
	SystemOwnerRounding = "00000000-0000-0000-0000-000000000002"
	SystemOwnerCard     = "00000000-0000-0000-0000-000000000003"
	SystemOwnerWire     = "00000000-0000-0000-0000-000000000004"
	SystemOwnerCrypto   = "00000000-0000-0000-0000-000000000005"
	SystemOwnerExchange = "00000000-0000-0000-0000-000000000006"
)

// User-facing status labels. End users never see raw statuses or error
// kinds, only these.
const (
	LabelWaitingPayment = "waiting_payment"
	LabelProcessing     = "processing"
	LabelCompleted      = "completed"
	LabelCancelled      = "cancelled"
	LabelExpired        = "expired"
	LabelUnconfirmed    = "unconfirmed"
	LabelFailed         = "failed"
)

// IsTerminalStatus reports whether an operation can no longer transition.
func IsTerminalStatus(status string) bool {
	switch status {
	case OpStatusCommitted, OpStatusCancelled, OpStatusDeleted:
		return true
	}
	return false
}
