/**
 * @description
 * PostgreSQL implementation of Repository on top of pgx. Balance safety comes
 * from the conditional UPDATE in DecrementBalance and the CHECK constraint on
 * accounts.balance; idempotency comes from the partial unique index on
 * transfers(owner_id, idempotency_key).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver, pool and error codes.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	pgUniqueViolation   = "23505"
	pgNumericOutOfRange = "22003"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

// WithinTransaction runs fn inside a single database transaction.
func (r *PostgresRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) (err error) {
	if r.pool == nil {
		// Already bound to a transaction.
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(ctx, &PostgresRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Accounts

const accountColumns = `id, owner_id, number, currency, balance, archived, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Number, &a.Currency, &a.Balance, &a.Archived, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account. A taken account number yields ErrDuplicateAccountNumber.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, number, currency, balance, archived)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.OwnerID,
		account.Number,
		account.Currency,
		account.Balance,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicateAccountNumber
		}
		return err
	}
	return nil
}

// FindAccount fetches an active account scoped to its owner.
func (r *PostgresRepository) FindAccount(ctx context.Context, ownerID, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1 AND owner_id = $2 AND archived = FALSE`
	return scanAccount(r.db.QueryRow(ctx, query, number, ownerID))
}

// FindAccountByNumber fetches an active account regardless of owner.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1 AND archived = FALSE`
	return scanAccount(r.db.QueryRow(ctx, query, number))
}

// ListAccountsByOwner returns the owner's active accounts, oldest first.
func (r *PostgresRepository) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND archived = FALSE ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// DecrementBalance applies a compare-and-set debit. The WHERE clause is
// re-evaluated against the latest row version, so two concurrent debits can
// never both pass the guard when their sum exceeds the balance.
func (r *PostgresRepository) DecrementBalance(ctx context.Context, ownerID, number string, amount int64) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE number = $2 AND owner_id = $3 AND archived = FALSE AND balance >= $1
		RETURNING balance
	`
	var balance int64
	if err := r.db.QueryRow(ctx, query, amount, number, ownerID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrConditionNotMet
		}
		return 0, err
	}
	return balance, nil
}

// IncrementBalance credits an active account.
func (r *PostgresRepository) IncrementBalance(ctx context.Context, number string, amount int64) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE number = $2 AND archived = FALSE
		RETURNING balance
	`
	var balance int64
	if err := r.db.QueryRow(ctx, query, amount, number).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange {
			return 0, ErrBalanceOverflow
		}
		return 0, err
	}
	return balance, nil
}

// ArchiveAccount soft-deletes an account.
func (r *PostgresRepository) ArchiveAccount(ctx context.Context, ownerID, number string) error {
	query := `UPDATE accounts SET archived = TRUE, updated_at = NOW() WHERE number = $1 AND owner_id = $2 AND archived = FALSE`
	tag, err := r.db.Exec(ctx, query, number, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Beneficiaries

const beneficiaryColumns = `id, owner_id, type, name, currency, account_number, bank_code, branch_code,
	bank_name, iban, swift_bic, country, archived, created_at, updated_at`

func scanBeneficiary(row pgx.Row) (*domain.Beneficiary, error) {
	var (
		b    domain.Beneficiary
		flat domain.BeneficiarySnapshot
	)
	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&flat.Type,
		&b.Name,
		&b.Currency,
		&flat.AccountNumber,
		&flat.BankCode,
		&flat.BranchCode,
		&flat.BankName,
		&flat.IBAN,
		&flat.SwiftBIC,
		&flat.Country,
		&b.Archived,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	details, err := flat.Details()
	if err != nil {
		return nil, err
	}
	b.Details = details
	return &b, nil
}

// CreateBeneficiary inserts a beneficiary. The partial unique index on
// (owner_id, type, destination_key) rejects active duplicates.
func (r *PostgresRepository) CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	flat := domain.SnapshotOfInput(domain.BeneficiaryInput{Name: b.Name, Currency: b.Currency, Details: b.Details})
	query := `
		INSERT INTO beneficiaries (
			id, owner_id, type, name, currency, account_number, bank_code, branch_code,
			bank_name, iban, swift_bic, country, destination_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		b.ID,
		b.OwnerID,
		flat.Type,
		b.Name,
		b.Currency,
		flat.AccountNumber,
		flat.BankCode,
		flat.BranchCode,
		flat.BankName,
		flat.IBAN,
		flat.SwiftBIC,
		flat.Country,
		b.Details.DestinationKey(),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicateBeneficiary
		}
		return err
	}
	return nil
}

// FindBeneficiary fetches an active beneficiary scoped to its owner and, when typ is set, its variant.
func (r *PostgresRepository) FindBeneficiary(ctx context.Context, ownerID string, id uuid.UUID, typ domain.BeneficiaryType) (*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries
		WHERE id = $1 AND owner_id = $2 AND archived = FALSE AND ($3::text = '' OR type = $3::text)`
	return scanBeneficiary(r.db.QueryRow(ctx, query, id, ownerID, string(typ)))
}

// ListBeneficiaries returns the owner's active beneficiaries, newest first.
func (r *PostgresRepository) ListBeneficiaries(ctx context.Context, ownerID string, typ domain.BeneficiaryType) ([]domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries
		WHERE owner_id = $1 AND archived = FALSE AND ($2::text = '' OR type = $2::text)
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	beneficiaries := make([]domain.Beneficiary, 0)
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, *b)
	}
	return beneficiaries, rows.Err()
}

// UpdateBeneficiaryName renames an active beneficiary. Snapshots already
// embedded in transfers are unaffected.
func (r *PostgresRepository) UpdateBeneficiaryName(ctx context.Context, ownerID string, id uuid.UUID, name string) (*domain.Beneficiary, error) {
	query := `UPDATE beneficiaries SET name = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND archived = FALSE
		RETURNING ` + beneficiaryColumns
	return scanBeneficiary(r.db.QueryRow(ctx, query, name, id, ownerID))
}

// ArchiveBeneficiary soft-deletes a beneficiary.
func (r *PostgresRepository) ArchiveBeneficiary(ctx context.Context, ownerID string, id uuid.UUID) error {
	query := `UPDATE beneficiaries SET archived = TRUE, updated_at = NOW() WHERE id = $1 AND owner_id = $2 AND archived = FALSE`
	tag, err := r.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

// Transfers

const transferColumns = `id, owner_id, kind, source_account, amount, currency, fee, fx, beneficiary,
	reference, idempotency_key, status, failure_reason, created_at, updated_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t              domain.Transfer
		fxRaw          []byte
		beneficiaryRaw []byte
	)
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Kind,
		&t.SourceAccount,
		&t.Amount,
		&t.Currency,
		&t.Fee,
		&fxRaw,
		&beneficiaryRaw,
		&t.Reference,
		&t.IdempotencyKey,
		&t.Status,
		&t.FailureReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	if len(fxRaw) > 0 {
		var fx domain.FX
		if err := json.Unmarshal(fxRaw, &fx); err != nil {
			return nil, fmt.Errorf("decode fx for transfer %s: %w", t.ID, err)
		}
		t.FX = &fx
	}
	if err := json.Unmarshal(beneficiaryRaw, &t.Beneficiary); err != nil {
		return nil, fmt.Errorf("decode beneficiary snapshot for transfer %s: %w", t.ID, err)
	}
	return &t, nil
}

func collectTransfers(rows pgx.Rows) ([]domain.Transfer, error) {
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// InsertTransfer persists a new transfer record.
func (r *PostgresRepository) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	var fxRaw []byte
	if t.FX != nil {
		encoded, err := json.Marshal(t.FX)
		if err != nil {
			return fmt.Errorf("encode fx: %w", err)
		}
		fxRaw = encoded
	}
	beneficiaryRaw, err := json.Marshal(t.Beneficiary)
	if err != nil {
		return fmt.Errorf("encode beneficiary snapshot: %w", err)
	}

	query := `
		INSERT INTO transfers (
			id, owner_id, kind, source_account, amount, currency, fee, fx, beneficiary,
			reference, idempotency_key, status, failure_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.OwnerID,
		t.Kind,
		t.SourceAccount,
		t.Amount,
		t.Currency,
		t.Fee,
		fxRaw,
		beneficiaryRaw,
		t.Reference,
		t.IdempotencyKey,
		t.Status,
		t.FailureReason,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && strings.Contains(constraint, "idempotency") {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

// FindTransfer fetches a transfer scoped to its owner.
func (r *PostgresRepository) FindTransfer(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1 AND owner_id = $2`
	return scanTransfer(r.db.QueryRow(ctx, query, id, ownerID))
}

// GetTransfer fetches a transfer by id only.
func (r *PostgresRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return scanTransfer(r.db.QueryRow(ctx, query, id))
}

// FindTransferByIdempotencyKey is the idempotency ledger lookup.
func (r *PostgresRepository) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE owner_id = $1 AND idempotency_key = $2`
	return scanTransfer(r.db.QueryRow(ctx, query, ownerID, key))
}

// ListTransfers returns the owner's transfers, newest first.
func (r *PostgresRepository) ListTransfers(ctx context.Context, ownerID string, filter domain.ListTransfersFilter) ([]domain.Transfer, error) {
	filter = normalizeListFilter(filter)

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE owner_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, ownerID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// TransitionTransferStatus performs a guarded status update.
func (r *PostgresRepository) TransitionTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reason *string) (*domain.Transfer, error) {
	query := `UPDATE transfers
		SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING ` + transferColumns
	t, err := scanTransfer(r.db.QueryRow(ctx, query, to, reason, id, from))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrTransferNotFound) {
		return nil, err
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrTransferNotFound
	}
	return nil, ErrConditionNotMet
}

// FindStaleTransfers lists transfers stuck in status since before updatedBefore.
func (r *PostgresRepository) FindStaleTransfers(ctx context.Context, status domain.TransferStatus, updatedBefore time.Time, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, status, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}
