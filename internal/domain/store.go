package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// OperationStore persists the orchestration journal.
type OperationStore interface {
	Create(ctx context.Context, rec OperationRecord) error
	Finish(ctx context.Context, id string, status OperationStatus, errMsg string) error
	GetByID(ctx context.Context, id string) (OperationRecord, error)
	ListByOwner(ctx context.Context, owner common.Address, limit int) ([]OperationRecord, error)
}
