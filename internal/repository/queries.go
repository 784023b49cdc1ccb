package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/veloxpay/backoffice/internal/domain"
	"github.com/veloxpay/backoffice/internal/models"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// runs inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the single canonical query set for the ledger schema.
type Queries struct {
	db DBTX
}

// New creates a query set bound to a pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns the query set re-bound to a transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// --- assets ---

func (q *Queries) CreateAsset(ctx context.Context, asset *models.Asset) error {
	query := `INSERT INTO assets (id, symbol, name, kind, country, decimals, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`
	err := q.db.QueryRow(ctx, query, ToPgUUID(asset.ID), asset.Symbol, asset.Name, asset.Kind, asset.Country, asset.Precision).
		Scan(&asset.CreatedAt)
	if err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (q *Queries) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	return q.scanAsset(q.db.QueryRow(ctx,
		`SELECT id, symbol, name, kind, country, decimals, created_at FROM assets WHERE id = $1`, ToPgUUID(id)))
}

func (q *Queries) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	return q.scanAsset(q.db.QueryRow(ctx,
		`SELECT id, symbol, name, kind, country, decimals, created_at FROM assets WHERE symbol = $1`, symbol))
}

func (q *Queries) scanAsset(row pgx.Row) (*models.Asset, error) {
	asset := &models.Asset{}
	err := row.Scan(&asset.ID, &asset.Symbol, &asset.Name, &asset.Kind, &asset.Country, &asset.Precision, &asset.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAssetNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// --- accounts ---

func (q *Queries) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (id, asset_id, type, strict, refs, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`
	err := q.db.QueryRow(ctx, query,
		ToPgUUID(account.ID), ToPgUUID(account.AssetID), account.Type, account.Strict, emptyRefs(account.Refs)).
		Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account := &models.Account{}
	err := q.db.QueryRow(ctx,
		`SELECT id, asset_id, type, strict, refs, created_at FROM accounts WHERE id = $1`, ToPgUUID(id)).
		Scan(&account.ID, &account.AssetID, &account.Type, &account.Strict, &account.Refs, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// LockAccount takes a row lock on the account, verifying it exists.
func (q *Queries) LockAccount(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, ToPgUUID(id)).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrAccountNotFound
		}
		return fmt.Errorf("lock account %s: %w", id, err)
	}
	return nil
}

// AccountAsset loads the asset an account is denominated in.
func (q *Queries) AccountAsset(ctx context.Context, accountID uuid.UUID) (*models.Asset, error) {
	return q.scanAsset(q.db.QueryRow(ctx, `
		SELECT a.id, a.symbol, a.name, a.kind, a.country, a.decimals, a.created_at
		FROM assets a JOIN accounts acc ON acc.asset_id = a.id
		WHERE acc.id = $1`, ToPgUUID(accountID)))
}

// --- account bindings ---

func (q *Queries) GetBinding(ctx context.Context, ownerID, assetID uuid.UUID, purpose string) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := q.db.QueryRow(ctx, `
		SELECT account_id FROM account_bindings
		WHERE owner_id = $1 AND asset_id = $2 AND purpose = $3`,
		ToPgUUID(ownerID), ToPgUUID(assetID), purpose).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, pgx.ErrNoRows
		}
		return uuid.Nil, fmt.Errorf("get account binding: %w", err)
	}
	return accountID, nil
}

// InsertBinding inserts the binding row unless a concurrent caller won the
// race. Returns false when the row already existed.
func (q *Queries) InsertBinding(ctx context.Context, b *models.AccountBinding) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO account_bindings (owner_id, asset_id, purpose, account_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (owner_id, asset_id, purpose) DO NOTHING`,
		ToPgUUID(b.OwnerID), ToPgUUID(b.AssetID), b.Purpose, ToPgUUID(b.AccountID))
	if err != nil {
		return false, fmt.Errorf("insert account binding: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- pooled crypto addresses ---

func (q *Queries) InsertCryptoAddress(ctx context.Context, addr *models.CryptoAddress) error {
	query := `INSERT INTO crypto_addresses (id, asset_id, address, account_id, customer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`
	var customer any
	if addr.CustomerID != nil {
		customer = ToPgUUID(*addr.CustomerID)
	}
	err := q.db.QueryRow(ctx, query,
		ToPgUUID(addr.ID), ToPgUUID(addr.AssetID), addr.Address, ToPgUUID(addr.AccountID), customer).
		Scan(&addr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert crypto address: %w", err)
	}
	return nil
}

func (q *Queries) GetBoundCryptoAddress(ctx context.Context, customerID, assetID uuid.UUID) (*models.CryptoAddress, error) {
	return q.scanCryptoAddress(q.db.QueryRow(ctx, `
		SELECT id, asset_id, address, account_id, customer_id, created_at
		FROM crypto_addresses WHERE customer_id = $1 AND asset_id = $2`,
		ToPgUUID(customerID), ToPgUUID(assetID)))
}

// SelectUnboundAddressForUpdate claims an exclusive lock on one free pooled
// address. Two concurrent callers serialize here, so the same address is
// never handed to both.
func (q *Queries) SelectUnboundAddressForUpdate(ctx context.Context, assetID uuid.UUID) (*models.CryptoAddress, error) {
	return q.scanCryptoAddress(q.db.QueryRow(ctx, `
		SELECT id, asset_id, address, account_id, customer_id, created_at
		FROM crypto_addresses
		WHERE asset_id = $1 AND customer_id IS NULL
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE`, ToPgUUID(assetID)))
}

func (q *Queries) BindCryptoAddress(ctx context.Context, addressID, customerID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE crypto_addresses SET customer_id = $1 WHERE id = $2 AND customer_id IS NULL`,
		ToPgUUID(customerID), ToPgUUID(addressID))
	if err != nil {
		return 0, fmt.Errorf("bind crypto address: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountUnboundAddresses(ctx context.Context, assetID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crypto_addresses WHERE asset_id = $1 AND customer_id IS NULL`,
		ToPgUUID(assetID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unbound addresses: %w", err)
	}
	return n, nil
}

func (q *Queries) scanCryptoAddress(row pgx.Row) (*models.CryptoAddress, error) {
	addr := &models.CryptoAddress{}
	var customer *uuid.UUID
	err := row.Scan(&addr.ID, &addr.AssetID, &addr.Address, &addr.AccountID, &customer, &addr.CreatedAt)
	if err != nil {
		return nil, err
	}
	addr.CustomerID = customer
	return addr, nil
}

// --- operations ---

func (q *Queries) CreateOperation(ctx context.Context, op *models.Operation) error {
	query := `INSERT INTO operations (id, status, type, method, description, refs, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		ToPgUUID(op.ID), op.Status, op.Type, op.Method, op.Description, emptyRefs(op.Refs), emptyRefs(op.Metadata)).
		Scan(&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create operation: %w", err)
	}
	return nil
}

func (q *Queries) GetOperation(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	return q.scanOperation(q.db.QueryRow(ctx, `
		SELECT id, status, type, method, description, refs, metadata, created_at, updated_at
		FROM operations WHERE id = $1`, ToPgUUID(id)))
}

// GetOperationForUpdate locks the operation row. The repair and lifecycle
// paths serialize on this lock.
func (q *Queries) GetOperationForUpdate(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	return q.scanOperation(q.db.QueryRow(ctx, `
		SELECT id, status, type, method, description, refs, metadata, created_at, updated_at
		FROM operations WHERE id = $1 FOR UPDATE`, ToPgUUID(id)))
}

func (q *Queries) scanOperation(row pgx.Row) (*models.Operation, error) {
	op := &models.Operation{}
	err := row.Scan(&op.ID, &op.Status, &op.Type, &op.Method, &op.Description, &op.Refs, &op.Metadata, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOperationNotFound
		}
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

func (q *Queries) UpdateOperationStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE operations SET status = $1, updated_at = NOW() WHERE id = $2`, status, ToPgUUID(id))
	if err != nil {
		return 0, fmt.Errorf("update operation status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateOperationRefs(ctx context.Context, id uuid.UUID, refs map[string]any) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE operations SET refs = $1, updated_at = NOW() WHERE id = $2`, emptyRefs(refs), ToPgUUID(id))
	if err != nil {
		return 0, fmt.Errorf("update operation refs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOperation removes a still-mutable operation and its legs. Only the
// pre-hold rollback path uses this; committed history is never deleted.
func (q *Queries) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM ledger_transactions WHERE operation_id = $1`, ToPgUUID(id)); err != nil {
		return fmt.Errorf("delete operation legs: %w", err)
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM operations WHERE id = $1`, ToPgUUID(id)); err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	return nil
}

func (q *Queries) DeleteOperationLegs(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM ledger_transactions WHERE operation_id = $1`, ToPgUUID(id)); err != nil {
		return fmt.Errorf("delete operation legs: %w", err)
	}
	return nil
}

// ListAccountOperations returns operations that touched an account, newest
// first.
func (q *Queries) ListAccountOperations(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Operation, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT o.id, o.status, o.type, o.method, o.description, o.refs, o.metadata, o.created_at, o.updated_at
		FROM operations o
		JOIN ledger_transactions t ON t.operation_id = o.id
		WHERE t.account_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3`, ToPgUUID(accountID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list account operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		if err := rows.Scan(&op.ID, &op.Status, &op.Type, &op.Method, &op.Description, &op.Refs, &op.Metadata, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListSettleableWithdrawals returns held withdrawals not yet pushed to an
// external provider, oldest first.
func (q *Queries) ListSettleableWithdrawals(ctx context.Context, limit int32) ([]models.Operation, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, status, type, method, description, refs, metadata, created_at, updated_at
		FROM operations
		WHERE status = $1 AND type = $2 AND refs->>$3 IS NULL
		ORDER BY created_at
		LIMIT $4`,
		domain.OpStatusHold, domain.OpTypeWithdrawal, domain.RefKeyExternalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list settleable withdrawals: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		if err := rows.Scan(&op.ID, &op.Status, &op.Type, &op.Method, &op.Description, &op.Refs, &op.Metadata, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RefundExists reports whether a live refund already references the deposit.
func (q *Queries) RefundExists(ctx context.Context, depositID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM operations
			WHERE type = $1 AND refs->>$2 = $3 AND status NOT IN ($4, $5)
		)`, domain.OpTypeRefund, domain.RefKeyRefundOf, depositID.String(),
		domain.OpStatusCancelled, domain.OpStatusDeleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check refund existence: %w", err)
	}
	return exists, nil
}

// --- ledger transactions ---

func (q *Queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `INSERT INTO ledger_transactions (id, operation_id, account_id, amount, refs, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW()) RETURNING created_at`
	err := q.db.QueryRow(ctx, query,
		ToPgUUID(t.ID), ToPgUUID(t.OperationID), ToPgUUID(t.AccountID), numericParam(t.Amount), emptyRefs(t.Refs)).
		Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ledger transaction: %w", err)
	}
	return nil
}

// OperationLegRow is one leg joined with the data validation needs: the
// owning account's constraints and the asset it is denominated in.
type OperationLegRow struct {
	Transaction    models.Transaction
	AccountType    string
	AccountStrict  bool
	AssetID        uuid.UUID
	AssetKind      string
	AssetPrecision int32
}

func (q *Queries) ListOperationLegs(ctx context.Context, operationID uuid.UUID) ([]OperationLegRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT t.id, t.operation_id, t.account_id, t.amount::text, t.refs, t.created_at,
		       acc.type, acc.strict, a.id, a.kind, a.decimals
		FROM ledger_transactions t
		JOIN accounts acc ON acc.id = t.account_id
		JOIN assets a ON a.id = acc.asset_id
		WHERE t.operation_id = $1
		ORDER BY t.amount::numeric DESC`, ToPgUUID(operationID))
	if err != nil {
		return nil, fmt.Errorf("list operation legs: %w", err)
	}
	defer rows.Close()

	var legs []OperationLegRow
	for rows.Next() {
		var leg OperationLegRow
		var amount string
		if err := rows.Scan(
			&leg.Transaction.ID, &leg.Transaction.OperationID, &leg.Transaction.AccountID,
			&amount, &leg.Transaction.Refs, &leg.Transaction.CreatedAt,
			&leg.AccountType, &leg.AccountStrict, &leg.AssetID, &leg.AssetKind, &leg.AssetPrecision,
		); err != nil {
			return nil, fmt.Errorf("scan operation leg: %w", err)
		}
		if leg.Transaction.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// --- balances ---

// SumAccountBalance aggregates the constraint-relevant balance of an
// account. Cancelled and deleted operations never count; NEW operations
// count only when includeNew is set (the pre-hold reserved view).
func (q *Queries) SumAccountBalance(ctx context.Context, accountID uuid.UUID, includeNew bool) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(t.amount), 0)::text
		FROM ledger_transactions t
		JOIN operations o ON o.id = t.operation_id
		WHERE t.account_id = $1 AND o.status NOT IN ($2, $3)`
	args := []any{ToPgUUID(accountID), domain.OpStatusCancelled, domain.OpStatusDeleted}
	if !includeNew {
		query += ` AND o.status <> $4`
		args = append(args, domain.OpStatusNew)
	}
	var sum string
	if err := q.db.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum account balance: %w", err)
	}
	return scanDecimal(sum)
}

// PostingRow carries one posting with the context the display visibility
// matrix needs.
type PostingRow struct {
	Amount    decimal.Decimal
	OpStatus  string
	OpType    string
	AssetKind string
}

func (q *Queries) ListAccountPostings(ctx context.Context, accountID uuid.UUID) ([]PostingRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT t.amount::text, o.status, o.type, a.kind
		FROM ledger_transactions t
		JOIN operations o ON o.id = t.operation_id
		JOIN accounts acc ON acc.id = t.account_id
		JOIN assets a ON a.id = acc.asset_id
		WHERE t.account_id = $1`, ToPgUUID(accountID))
	if err != nil {
		return nil, fmt.Errorf("list account postings: %w", err)
	}
	defer rows.Close()

	var postings []PostingRow
	for rows.Next() {
		var p PostingRow
		var amount string
		if err := rows.Scan(&amount, &p.OpStatus, &p.OpType, &p.AssetKind); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		if p.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// AssetNetRow is a per-asset net sum of transaction amounts.
type AssetNetRow struct {
	AssetID uuid.UUID
	Net     decimal.Decimal
}

// OperationAssetNets returns the per-asset net of one operation's legs.
// Every row must be zero for the operation to be valid.
func (q *Queries) OperationAssetNets(ctx context.Context, operationID uuid.UUID) ([]AssetNetRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT acc.asset_id, COALESCE(SUM(t.amount), 0)::text
		FROM ledger_transactions t
		JOIN accounts acc ON acc.id = t.account_id
		WHERE t.operation_id = $1
		GROUP BY acc.asset_id`, ToPgUUID(operationID))
	if err != nil {
		return nil, fmt.Errorf("operation asset nets: %w", err)
	}
	defer rows.Close()
	return scanAssetNets(rows)
}

// LedgerAssetNets returns the per-asset net over all settled and held
// operations. Reconciliation expects every row to be zero.
func (q *Queries) LedgerAssetNets(ctx context.Context) ([]AssetNetRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT acc.asset_id, COALESCE(SUM(t.amount), 0)::text
		FROM ledger_transactions t
		JOIN accounts acc ON acc.id = t.account_id
		JOIN operations o ON o.id = t.operation_id
		WHERE o.status IN ($1, $2, $3)
		GROUP BY acc.asset_id`,
		domain.OpStatusCommitted, domain.OpStatusHold, domain.OpStatusActionRequired)
	if err != nil {
		return nil, fmt.Errorf("ledger asset nets: %w", err)
	}
	defer rows.Close()
	return scanAssetNets(rows)
}

func scanAssetNets(rows pgx.Rows) ([]AssetNetRow, error) {
	var nets []AssetNetRow
	for rows.Next() {
		var n AssetNetRow
		var net string
		if err := rows.Scan(&n.AssetID, &net); err != nil {
			return nil, fmt.Errorf("scan asset net: %w", err)
		}
		var err error
		if n.Net, err = scanDecimal(net); err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, rows.Err()
}

// --- audit log ---

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  string
	NextState  string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, p InsertAuditLogParams) error {
	var actor any
	if p.ActorID != nil {
		actor = ToPgUUID(*p.ActorID)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NOW())`,
		p.EntityType, ToPgUUID(p.EntityID), actor, p.Action, p.PrevState, p.NextState, p.Metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// --- idempotency keys ---

type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, COALESCE(response_status, 0),
		       COALESCE(response_body, ''::bytea), COALESCE(content_type, ''), in_progress, created_at
		FROM idempotency_keys WHERE idempotency_key = $1`, key).
		Scan(&row.IdempotencyKey, &row.RequestHash, &row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress, &row.CreatedAt)
	return row, err
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey claims a key for this request. pgx.ErrNoRows means
// another request already holds it.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, p ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`,
		p.IdempotencyKey, p.RequestHash, p.Method, p.Path).Scan(&key)
	return key, err
}

type FinalizeIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, p FinalizeIdempotencyKeyParams) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, response_status, response_body, content_type, in_progress, created_at`,
		p.ResponseStatus, p.ResponseBody, p.ContentType, p.IdempotencyKey, p.RequestHash).
		Scan(&row.IdempotencyKey, &row.RequestHash, &row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress, &row.CreatedAt)
	return row, err
}
