package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/domain"
	"github.com/loopfi/loopbot/internal/engine"
)

// ExecutorService serializes orchestration passes per position owner with a
// distributed lock, so two deployments sharing one Redis never run
// concurrent passes against the same position.
type ExecutorService struct {
	engine  *engine.Engine
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewExecutorService creates an ExecutorService. lockTTL bounds how long a
// crashed pass can keep an owner locked out.
func NewExecutorService(eng *engine.Engine, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *ExecutorService {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &ExecutorService{
		engine:  eng,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "executor_service")),
	}
}

func ownerLockKey(owner common.Address) string {
	return "owner:" + strings.ToLower(owner.Hex())
}

// ExecuteLeverage runs one leverage pass under the owner's execution lock.
func (s *ExecutorService) ExecuteLeverage(ctx context.Context, req domain.LeverageRequest) error {
	unlock, err := s.locks.Acquire(ctx, ownerLockKey(req.Owner), s.lockTTL)
	if err != nil {
		return fmt.Errorf("executor_service: %w", err)
	}
	defer unlock()

	return s.engine.Leverage(ctx, req)
}

// ExecuteDeleverage runs one deleverage pass under the owner's execution
// lock.
func (s *ExecutorService) ExecuteDeleverage(ctx context.Context, req domain.DeleverageRequest) error {
	unlock, err := s.locks.Acquire(ctx, ownerLockKey(req.Owner), s.lockTTL)
	if err != nil {
		return fmt.Errorf("executor_service: %w", err)
	}
	defer unlock()

	return s.engine.Deleverage(ctx, req)
}
