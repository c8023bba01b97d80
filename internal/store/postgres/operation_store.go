package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopfi/loopbot/internal/domain"
)

// OperationStore implements domain.OperationStore using PostgreSQL.
// Addresses are stored as lowercase hex text; amounts as NUMERIC(78,0) so
// full uint256 values survive the round trip.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates an OperationStore backed by the given pool.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

const operationSelectCols = `id, owner, action, loan_asset, loan_amount::text,
	status, error, started_at, finished_at`

func scanOperationRow(row pgx.Row) (domain.OperationRecord, error) {
	var rec domain.OperationRecord
	var owner, action, loanAsset, loanAmount, status string

	err := row.Scan(
		&rec.ID, &owner, &action, &loanAsset, &loanAmount,
		&status, &rec.Error, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		return domain.OperationRecord{}, err
	}

	rec.Owner = common.HexToAddress(owner)
	rec.Action = domain.ActionKind(action)
	rec.LoanAsset = common.HexToAddress(loanAsset)
	rec.Status = domain.OperationStatus(status)

	amount, ok := new(big.Int).SetString(loanAmount, 10)
	if !ok {
		return domain.OperationRecord{}, fmt.Errorf("postgres: malformed loan_amount %q", loanAmount)
	}
	rec.LoanAmount = amount
	return rec, nil
}

// Create inserts a new journal entry.
func (s *OperationStore) Create(ctx context.Context, rec domain.OperationRecord) error {
	const query = `
		INSERT INTO operations (
			id, owner, action, loan_asset, loan_amount,
			status, error, started_at, finished_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric,
			$6, $7, $8, $9, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		strings.ToLower(rec.Owner.Hex()),
		string(rec.Action),
		strings.ToLower(rec.LoanAsset.Hex()),
		rec.LoanAmount.String(),
		string(rec.Status),
		rec.Error,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create operation %s: %w", rec.ID, err)
	}
	return nil
}

// Finish records the terminal status of an operation.
func (s *OperationStore) Finish(ctx context.Context, id string, status domain.OperationStatus, errMsg string) error {
	const query = `
		UPDATE operations SET
			status      = $2,
			error       = $3,
			finished_at = NOW(),
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: finish operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single journal entry.
func (s *OperationStore) GetByID(ctx context.Context, id string) (domain.OperationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+operationSelectCols+` FROM operations WHERE id = $1`, id)

	rec, err := scanOperationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OperationRecord{}, domain.ErrNotFound
		}
		return domain.OperationRecord{}, fmt.Errorf("postgres: get operation %s: %w", id, err)
	}
	return rec, nil
}

// ListByOwner returns the owner's most recent journal entries, newest first.
func (s *OperationStore) ListByOwner(ctx context.Context, owner common.Address, limit int) ([]domain.OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+operationSelectCols+` FROM operations
		 WHERE owner = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		strings.ToLower(owner.Hex()), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations: %w", err)
	}
	defer rows.Close()

	var out []domain.OperationRecord
	for rows.Next() {
		rec, err := scanOperationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan operation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list operations: %w", err)
	}
	return out, nil
}

var _ domain.OperationStore = (*OperationStore)(nil)
